// Package api provides the HTTP server of Confidant.
//
// It serves the chat page, a JSON API that turns page actions into controller events, and
// a Server-Sent Events stream carrying the controller's UI effects back to the page.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/BTreeMap/Confidant/internal/app"
	"github.com/BTreeMap/Confidant/internal/checkin"
	"github.com/BTreeMap/Confidant/internal/conversation"
	"github.com/BTreeMap/Confidant/internal/genai"
	"github.com/BTreeMap/Confidant/internal/i18n"
	"github.com/BTreeMap/Confidant/internal/store"
)

// Default server configuration
const (
	DefaultAddr           = ":8080"
	DefaultAllowedOrigin  = "*"
	DefaultSessionTTL     = 2 * time.Hour
	DefaultShutdownWindow = 10 * time.Second
)

// Opts holds configuration for the API server.
type Opts struct {
	Addr          string
	AllowedOrigin string
	PacingDelay   time.Duration
	ToneAnalysis  bool
	SessionTTL    time.Duration
	Finder        conversation.TherapistFinder
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAllowedOrigin sets the CORS origin allowed to call the API.
func WithAllowedOrigin(origin string) Option {
	return func(o *Opts) { o.AllowedOrigin = origin }
}

// WithPacingDelay sets the check-in pacing delay of new page sessions.
func WithPacingDelay(d time.Duration) Option {
	return func(o *Opts) { o.PacingDelay = d }
}

// WithToneAnalysis enables the sentiment pre-step.
func WithToneAnalysis(enabled bool) Option {
	return func(o *Opts) { o.ToneAnalysis = enabled }
}

// WithSessionTTL sets how long an idle page session is kept.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.SessionTTL = ttl }
}

// WithTherapistFinder replaces the therapist lookup.
func WithTherapistFinder(f conversation.TherapistFinder) Option {
	return func(o *Opts) { o.Finder = f }
}

// pageSession is one page load: its controller and the effect hub it emits to.
type pageSession struct {
	ctrl     *app.Controller
	hub      *app.Hub
	lastSeen time.Time
}

// Server routes HTTP requests to page sessions.
type Server struct {
	router    *chi.Mux
	st        store.Store
	table     *i18n.Table
	newClient app.ClientFactory
	opts      Opts
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*pageSession
}

// NewServer creates a server over the given storage, locales and model client factory.
func NewServer(st store.Store, table *i18n.Table, newClient app.ClientFactory, opts ...Option) *Server {
	cfg := Opts{
		Addr:          DefaultAddr,
		AllowedOrigin: DefaultAllowedOrigin,
		SessionTTL:    DefaultSessionTTL,
		PacingDelay:   checkin.DefaultPacingDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		router:    chi.NewRouter(),
		st:        st,
		table:     table,
		newClient: newClient,
		opts:      cfg,
		now:       time.Now,
		sessions:  make(map[string]*pageSession),
	}
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Last-Event-ID"},
		AllowCredentials: cfg.AllowedOrigin != "*",
		MaxAge:           300,
	}))
	s.routes()
	slog.Debug("api.NewServer: server configured", "addr", cfg.Addr, "allowedOrigin", cfg.AllowedOrigin, "sessionTTL", cfg.SessionTTL)
	return s
}

func (s *Server) routes() {
	s.router.Get("/", s.indexHandler)
	s.router.Get("/api/health", s.healthHandler)
	s.router.Get("/api/languages", s.languagesHandler)
	s.router.Post("/api/sessions", s.createSessionHandler)
	s.router.Route("/api/sessions/{id}", func(r chi.Router) {
		r.Get("/", s.sessionSnapshotHandler)
		r.Get("/events", s.eventsHandler)
		r.Post("/messages", s.submitMessageHandler)
		r.Post("/answers", s.selectOptionHandler)
		r.Put("/language", s.switchLanguageHandler)
		r.Post("/theme/toggle", s.toggleThemeHandler)
		r.Post("/moods", s.recordMoodHandler)
		r.Get("/moods", s.listMoodsHandler)
		r.Get("/moods/chart", s.moodChartHandler)
		r.Post("/moods/trends", s.openMoodTrendsHandler)
	})
}

// Router returns the HTTP handler of the server.
func (s *Server) Router() http.Handler { return s.router }

// Close closes every page session.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ps := range s.sessions {
		ps.ctrl.Close()
		ps.hub.Close()
		delete(s.sessions, id)
	}
}

func (s *Server) lookup(id string) (*pageSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.sessions[id]
	if ok {
		ps.lastSeen = s.now()
	}
	return ps, ok
}

// touch marks a session as active without resolving it for a request.
func (s *Server) touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, ok := s.sessions[id]; ok {
		ps.lastSeen = s.now()
	}
}

func (s *Server) register(id string, ps *pageSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = ps
	s.evictIdleLocked()
}

// evictIdleLocked closes sessions not touched within the TTL. A session with an open
// event stream is never idle. The caller holds mu.
func (s *Server) evictIdleLocked() {
	if s.opts.SessionTTL <= 0 {
		return
	}
	cutoff := s.now().Add(-s.opts.SessionTTL)
	for id, ps := range s.sessions {
		if ps.lastSeen.Before(cutoff) && ps.hub.Subscribers() == 0 {
			slog.Debug("Server.evictIdle: closing idle session", "id", id, "lastSeen", ps.lastSeen)
			ps.ctrl.Close()
			ps.hub.Close()
			delete(s.sessions, id)
		}
	}
}

// Run starts the API server and blocks until it stops. SIGINT and SIGTERM trigger a
// graceful shutdown.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	slog.Debug("api.Run: starting", "storeOpts", len(storeOpts), "genaiOpts", len(genaiOpts), "apiOpts", len(apiOpts))

	st, err := store.Open(storeOpts...)
	if err != nil {
		slog.Error("api.Run: failed to open store", "error", err)
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	table, err := i18n.Load()
	if err != nil {
		slog.Error("api.Run: failed to load locales", "error", err)
		return fmt.Errorf("failed to load locales: %w", err)
	}

	// The client is built once; a failure surfaces on every page as the init message.
	client, clientErr := genai.NewClient(context.Background(), genaiOpts...)
	if clientErr != nil {
		slog.Warn("api.Run: model client unavailable, pages will show the init failure", "error", clientErr)
	}
	factory := func(ctx context.Context) (genai.ClientInterface, error) {
		if clientErr != nil {
			return nil, clientErr
		}
		return client, nil
	}

	server := NewServer(st, table, factory, apiOpts...)
	defer server.Close()
	httpServer := &http.Server{
		Addr:              server.opts.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Confidant API running", "addr", server.opts.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("api.Run: server failed", "error", err)
		return err
	case sig := <-sigCh:
		slog.Info("api.Run: shutting down", "signal", sig.String())
	}

	// Close page sessions first so open event streams end.
	server.Close()
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownWindow)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("api.Run: graceful shutdown failed", "error", err)
		return err
	}
	slog.Info("api.Run: server stopped")
	return nil
}
