// Package api provides HTTP handlers for Confidant endpoints.
package api

import (
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/BTreeMap/Confidant/internal/app"
	"github.com/BTreeMap/Confidant/internal/models"
	"github.com/BTreeMap/Confidant/internal/store"
)

// ClientCookieName holds the browser client id that keys stored moods and preferences.
const ClientCookieName = "confidant_client"

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

//go:embed static/index.html
var indexPage []byte

// createSessionRequest is the body of POST /api/sessions.
type createSessionRequest struct {
	PrefersDark bool `json:"prefers_dark"`
}

type messageRequest struct {
	Text      string `json:"text"`
	Offline   bool   `json:"offline"`
	Suggested bool   `json:"suggested"`
}

type answerRequest struct {
	QuestionID string `json:"question_id"`
	Option     string `json:"option"`
}

type languageRequest struct {
	Language string `json:"language"`
}

type moodRequest struct {
	Mood string `json:"mood"`
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(indexPage); err != nil {
		slog.Warn("Server.indexHandler: failed to write page", "error", err)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "ok"}))
}

func (s *Server) languagesHandler(w http.ResponseWriter, r *http.Request) {
	var langs []app.LanguageOption
	for _, code := range s.table.Codes() {
		loc, err := s.table.Lookup(code)
		if err != nil {
			continue
		}
		langs = append(langs, app.LanguageOption{Code: code, Name: loc.Name})
	}
	writeJSONResponse(w, http.StatusOK, models.Success(langs))
}

func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		slog.Warn("Server.createSessionHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	ctx := r.Context()
	clientID := getOrCreateClientID(w, r)

	persistedLang, _, err := s.st.GetPreference(ctx, clientID, store.PrefLanguage)
	if err != nil {
		slog.Warn("Server.createSessionHandler: failed to read language preference", "error", err, "clientID", clientID)
	}
	lang := s.table.Resolve(persistedLang, r.Header.Get("Accept-Language"))

	theme := models.ThemeLight
	if req.PrefersDark {
		theme = models.ThemeDark
	}
	if v, ok, err := s.st.GetPreference(ctx, clientID, store.PrefTheme); err != nil {
		slog.Warn("Server.createSessionHandler: failed to read theme preference", "error", err, "clientID", clientID)
	} else if ok {
		if stored, err := models.ParseTheme(v); err != nil {
			slog.Warn("Server.createSessionHandler: ignoring stored theme", "error", err, "clientID", clientID)
		} else {
			theme = stored
		}
	}

	id := uuid.NewString()
	hub := app.NewHub(0)
	opts := []app.Option{
		app.WithToneAnalysis(s.opts.ToneAnalysis),
		app.WithTherapistFinder(s.opts.Finder),
		app.WithPacingDelay(s.opts.PacingDelay),
	}
	ctrl, err := app.NewController(id, clientID, app.State{Language: lang, Theme: theme}, app.Deps{
		Table:     s.table,
		Store:     s.st,
		NewClient: s.newClient,
		Sink:      hub,
	}, opts...)
	if err != nil {
		slog.Error("Server.createSessionHandler: failed to create controller", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create session"))
		return
	}
	s.register(id, &pageSession{ctrl: ctrl, hub: hub, lastSeen: s.now()})

	if err := ctrl.Dispatch(ctx, app.Event{Type: app.EventInit}); err != nil {
		slog.Error("Server.createSessionHandler: init failed", "error", err, "id", id)
	}
	slog.Info("Server.createSessionHandler: session created", "id", id, "clientID", clientID, "language", lang, "theme", theme)
	writeJSONResponse(w, http.StatusCreated, models.Success(ctrl.Snapshot()))
}

func (s *Server) sessionSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(ps.ctrl.Snapshot()))
}

func (s *Server) submitMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	ps, ok := s.sessionWithBody(w, r, &req)
	if !ok {
		return
	}
	ev := app.Event{Type: app.EventSubmitMessage, Text: req.Text, Offline: req.Offline}
	if req.Suggested {
		ev.Type = app.EventSuggestedPrompt
	}
	s.dispatch(w, r, ps, ev, http.StatusAccepted)
}

func (s *Server) selectOptionHandler(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	ps, ok := s.sessionWithBody(w, r, &req)
	if !ok {
		return
	}
	s.dispatch(w, r, ps, app.Event{Type: app.EventSelectOption, QuestionID: req.QuestionID, Option: req.Option}, http.StatusOK)
}

func (s *Server) switchLanguageHandler(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	ps, ok := s.sessionWithBody(w, r, &req)
	if !ok {
		return
	}
	s.dispatch(w, r, ps, app.Event{Type: app.EventSwitchLanguage, Language: req.Language}, http.StatusOK)
}

func (s *Server) toggleThemeHandler(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	s.dispatch(w, r, ps, app.Event{Type: app.EventToggleTheme}, http.StatusOK)
}

func (s *Server) recordMoodHandler(w http.ResponseWriter, r *http.Request) {
	var req moodRequest
	ps, ok := s.sessionWithBody(w, r, &req)
	if !ok {
		return
	}
	if err := ps.ctrl.Dispatch(r.Context(), app.Event{Type: app.EventRecordMood, Mood: req.Mood}); err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Recorded(ps.ctrl.Snapshot()))
}

func (s *Server) listMoodsHandler(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	entries, err := ps.ctrl.MoodEntries(r.Context())
	if err != nil {
		slog.Error("Server.listMoodsHandler: failed to read moods", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read mood log"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(entries))
}

func (s *Server) moodChartHandler(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	svg, err := ps.ctrl.MoodChartSVG(r.Context())
	if err != nil {
		slog.Error("Server.moodChartHandler: failed to render chart", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to render mood chart"))
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, svg); err != nil {
		slog.Warn("Server.moodChartHandler: failed to write chart", "error", err)
	}
}

func (s *Server) openMoodTrendsHandler(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	s.dispatch(w, r, ps, app.Event{Type: app.EventOpenMoodTrends}, http.StatusOK)
}

// dispatch applies ev and answers with the resulting snapshot.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, ps *pageSession, ev app.Event, okStatus int) {
	if err := ps.ctrl.Dispatch(r.Context(), ev); err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSONResponse(w, okStatus, models.Success(ps.ctrl.Snapshot()))
}

// sessionFromRequest resolves the {id} URL parameter, writing 404 when unknown.
func (s *Server) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*pageSession, bool) {
	id := chi.URLParam(r, "id")
	ps, ok := s.lookup(id)
	if !ok {
		slog.Debug("Server.sessionFromRequest: unknown session", "id", id)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return nil, false
	}
	return ps, true
}

// sessionWithBody resolves the session and decodes the JSON body into v.
func (s *Server) sessionWithBody(w http.ResponseWriter, r *http.Request, v any) (*pageSession, bool) {
	ps, ok := s.sessionFromRequest(w, r)
	if !ok {
		return nil, false
	}
	if err := decodeBody(r, v); err != nil {
		slog.Warn("Server.sessionWithBody: invalid JSON", "error", err, "path", r.URL.Path)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return nil, false
	}
	return ps, true
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return io.EOF
	}
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// getOrCreateClientID returns the browser client id, issuing a cookie for new browsers.
func getOrCreateClientID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(ClientCookieName); err == nil {
		if id := strings.TrimSpace(c.Value); id != "" {
			if _, err := uuid.Parse(id); err == nil {
				return id
			}
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	slog.Debug("getOrCreateClientID: issued new client id", "clientID", id)
	return id
}
