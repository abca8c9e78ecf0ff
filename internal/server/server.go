// Package server exposes recommendations, turn state, sync and preferences
// over JSON HTTP. Authentication happens upstream; the identity headers are
// trusted as given.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	gosync "sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wesm/argh/internal/logging"
	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/recommend"
	"github.com/wesm/argh/internal/sync"
	"github.com/wesm/argh/internal/turn"
)

// Recommender picks the next work item
type Recommender interface {
	Next(ctx context.Context, req recommend.Request) (*recommend.Recommendation, error)
}

// TurnReader resolves the turn state of one item
type TurnReader interface {
	State(ctx context.Context, ref models.ItemRef) (turn.State, error)
}

// SyncRunner runs one sync pass for an organization or user
type SyncRunner interface {
	Sync(ctx context.Context, target string) (*sync.Summary, error)
}

// PreferenceStore reads and patches per-user preferences
type PreferenceStore interface {
	GetPreferences(ctx context.Context, userID int64) (models.Preferences, error)
	PatchPreferences(ctx context.Context, userID int64, patch models.PreferencesPatch) (models.Preferences, error)
}

// Options wire the server to its collaborators
type Options struct {
	Recommender Recommender
	Turns       TurnReader
	Syncer      SyncRunner
	Preferences PreferenceStore
	Logger      *slog.Logger
}

// Server holds the HTTP handlers
type Server struct {
	recommender Recommender
	turns       TurnReader
	syncer      SyncRunner
	prefs       PreferenceStore
	logger      *slog.Logger
	now         func() time.Time

	mu      gosync.Mutex
	syncing map[string]bool
}

// New creates a server
func New(opts Options) *Server {
	return &Server{
		recommender: opts.Recommender,
		turns:       opts.Turns,
		syncer:      opts.Syncer,
		prefs:       opts.Preferences,
		logger:      logging.OrDefault(opts.Logger),
		now:         time.Now,
		syncing:     make(map[string]bool),
	}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(LoggingMiddleware(s.logger))
	r.Use(RecoveryMiddleware(s.logger))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireMember)
		r.Post("/next", s.handleNext)
		r.Get("/items/{type}/{id}/turn", s.handleTurn)
		r.Post("/sync/{org}", s.handleSync)
		r.Get("/preferences", s.handleGetPreferences)
		r.Patch("/preferences", s.handlePatchPreferences)
	})

	return r
}

// ListenAndServe serves until ctx ends, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// claimSync marks target as syncing. It reports false when a pass for
// target is already running.
func (s *Server) claimSync(target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncing[target] {
		return false
	}
	s.syncing[target] = true
	return true
}

func (s *Server) releaseSync(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.syncing, target)
}
