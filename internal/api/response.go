// Package api provides HTTP response utilities for Confidant.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/Confidant/internal/app"
	"github.com/BTreeMap/Confidant/internal/checkin"
	"github.com/BTreeMap/Confidant/internal/models"
	"github.com/BTreeMap/Confidant/internal/mood"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so encoding errors are caught before headers are written
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// statusForError maps controller errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, app.ErrBusy),
		errors.Is(err, app.ErrCheckInInProgress),
		errors.Is(err, app.ErrStaleAnswer),
		errors.Is(err, checkin.ErrCheckInActive),
		errors.Is(err, checkin.ErrNotAwaiting):
		return http.StatusConflict
	case errors.Is(err, models.ErrEmptyMessage),
		errors.Is(err, models.ErrMessageTooLong),
		errors.Is(err, checkin.ErrInvalidOption),
		errors.Is(err, mood.ErrUnknownMood),
		errors.Is(err, app.ErrUnknownPrompt),
		errors.Is(err, app.ErrUnknownEvent):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrClosed):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeControllerError writes the JSON error response for a failed controller event.
func writeControllerError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("Server.writeControllerError: event failed", "error", err)
		msg = "Internal server error"
	} else {
		slog.Debug("Server.writeControllerError: event rejected", "error", err, "status", status)
	}
	writeJSONResponse(w, status, models.Error(msg))
}
