package sync

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/wesm/argh/internal/api"
	"github.com/wesm/argh/internal/logging"
	"github.com/wesm/argh/internal/models"
)

// DefaultEnrichQueueSize is the enrichment queue length when none is configured
const DefaultEnrichQueueSize = 256

// Profiles fetches a user's public profile
type Profiles interface {
	LookupUser(ctx context.Context, login string) (*api.Profile, error)
}

// CompanyStore records profile companies
type CompanyStore interface {
	SetGitHubCompany(ctx context.Context, userID int64, company string) error
}

// Enricher fills in user companies in the background. Submit never blocks:
// when the queue is full the user is dropped and picked up on a later
// pass. Failures go to an error channel that is only logged.
type Enricher struct {
	profiles Profiles
	store    CompanyStore
	logger   *slog.Logger

	queue  chan models.User
	errs   chan error
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	seen    map[int64]bool
	dropped atomic.Int64
}

// NewEnricher starts the enrichment goroutines. Close must be called to
// stop them.
func NewEnricher(profiles Profiles, store CompanyStore, queueSize int, logger *slog.Logger) *Enricher {
	if queueSize <= 0 {
		queueSize = DefaultEnrichQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Enricher{
		profiles: profiles,
		store:    store,
		logger:   logging.OrDefault(logger),
		queue:    make(chan models.User, queueSize),
		errs:     make(chan error, queueSize),
		cancel:   cancel,
		seen:     make(map[int64]bool),
	}

	e.wg.Add(2)
	go e.run(ctx)
	go e.logErrors()
	return e
}

// Submit queues a user for enrichment. Bots, users without a login and
// users already queued are ignored. It reports whether the user was queued.
func (e *Enricher) Submit(user *models.User) bool {
	if e == nil || user == nil || user.ID == 0 || user.Login == "" || user.IsBot() {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.seen[user.ID] {
		return false
	}
	select {
	case e.queue <- *user:
		e.seen[user.ID] = true
		return true
	default:
		e.dropped.Add(1)
		return false
	}
}

// Dropped returns how many submissions were dropped on a full queue
func (e *Enricher) Dropped() int64 {
	return e.dropped.Load()
}

// Close drains the queue and waits for the workers. Pending lookups are
// abandoned when ctx ends first.
func (e *Enricher) Close(ctx context.Context) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		e.cancel()
		<-finished
	}
	e.cancel()
}

func (e *Enricher) run(ctx context.Context) {
	defer e.wg.Done()
	defer close(e.errs)

	for user := range e.queue {
		if ctx.Err() != nil {
			continue
		}
		if err := e.enrich(ctx, user); err != nil {
			select {
			case e.errs <- err:
			default:
			}
		}
	}
}

func (e *Enricher) enrich(ctx context.Context, user models.User) error {
	profile, err := e.profiles.LookupUser(ctx, user.Login)
	if err != nil {
		return &enrichError{login: user.Login, err: err}
	}
	company := strings.TrimSpace(profile.Company)
	if company == "" {
		return nil
	}
	if err := e.store.SetGitHubCompany(ctx, user.ID, company); err != nil {
		return &enrichError{login: user.Login, err: err}
	}
	return nil
}

func (e *Enricher) logErrors() {
	defer e.wg.Done()
	for err := range e.errs {
		e.logger.Debug("enrichment failed", "error", err)
	}
}

type enrichError struct {
	login string
	err   error
}

func (e *enrichError) Error() string {
	return "enrich " + e.login + ": " + e.err.Error()
}

func (e *enrichError) Unwrap() error {
	return e.err
}
