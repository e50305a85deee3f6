package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/Confidant/internal/app"
	"github.com/BTreeMap/Confidant/internal/models"
)

// keepAliveInterval is how often an idle event stream sends a comment line.
const keepAliveInterval = 25 * time.Second

// eventsHandler streams the session's UI effects as Server-Sent Events. Reconnecting
// clients resume after the id in Last-Event-ID (or the last_event_id query parameter).
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Streaming unsupported"))
		return
	}

	lastID := parseLastEventID(r)
	replay, ch, cancel := ps.hub.Subscribe(lastID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	slog.Debug("Server.eventsHandler: stream opened", "id", ps.ctrl.ID(), "lastID", lastID, "replay", len(replay))
	for _, eff := range replay {
		if err := writeEvent(w, eff); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			slog.Debug("Server.eventsHandler: client disconnected", "id", ps.ctrl.ID())
			return
		case eff, ok := <-ch:
			if !ok {
				slog.Debug("Server.eventsHandler: stream ended by hub", "id", ps.ctrl.ID())
				return
			}
			if err := writeEvent(w, eff); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			s.touch(chi.URLParam(r, "id"))
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, eff app.Effect) error {
	data, err := json.Marshal(eff.Data)
	if err != nil {
		slog.Error("Server.writeEvent: failed to marshal effect", "error", err, "effect", eff.Name)
		data = []byte("null")
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", eff.ID, eff.Name, data); err != nil {
		slog.Debug("Server.writeEvent: write failed", "error", err)
		return err
	}
	return nil
}

func parseLastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		slog.Debug("parseLastEventID: ignoring invalid id", "value", raw)
		return 0
	}
	return id
}
