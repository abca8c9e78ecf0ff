// Package recommend picks the single best open work item for a maintainer.
//
// Every open item is run through turn resolution, an eligibility filter,
// signal extraction and additive scoring. The highest total wins; ties go
// to the most recent activity and then to the lowest (type, id). The
// scoring detail returned on request is the same Breakdown the selection
// used.
package recommend

import (
	"context"
	"log/slog"
	"time"

	"github.com/wesm/argh/internal/db"
	"github.com/wesm/argh/internal/logging"
	"github.com/wesm/argh/internal/models"
	"github.com/wesm/argh/internal/turn"
)

// Store is the read access the engine needs
type Store interface {
	OpenItems(ctx context.Context) ([]*db.OpenItem, error)
	AllMaintainers(ctx context.Context) (map[int64]map[int64]bool, error)
	StarredRepositories(ctx context.Context, userID int64) (map[int64]bool, error)
}

// Request asks for the next item for one user
type Request struct {
	UserID         int64
	Preferences    models.Preferences
	Snoozed        []models.ItemRef
	IncludeScoring bool
}

// Scoring is the optional detail attached to a recommendation
type Scoring struct {
	Signals   Signals   `json:"signals"`
	Breakdown Breakdown `json:"breakdown"`
}

// Recommendation is the chosen item with its justification
type Recommendation struct {
	ItemType     models.ItemType `json:"item_type"`
	ItemID       int64           `json:"item_id"`
	RepoFullName string          `json:"repo_full_name"`
	Number       int             `json:"number"`
	Title        string          `json:"title"`
	Turn         turn.Turn       `json:"turn"`
	Stalled      bool            `json:"stalled"`
	Explanation  Explanation     `json:"explanation"`
	Scoring      *Scoring        `json:"scoring,omitempty"`
}

// Options configure an Engine
type Options struct {
	Weights       Weights
	Classifier    Classifier
	StallInterval time.Duration
	Logger        *slog.Logger
}

// Engine computes recommendations. It holds no per-request state, so one
// engine serves concurrent requests.
type Engine struct {
	store         Store
	weights       Weights
	classifier    Classifier
	stallInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// NewEngine creates an engine. Zero Weights mean DefaultWeights.
func NewEngine(store Store, opts Options) *Engine {
	w := opts.Weights
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &Engine{
		store:         store,
		weights:       w,
		classifier:    opts.Classifier,
		stallInterval: opts.StallInterval,
		now:           time.Now,
		logger:        logging.OrDefault(opts.Logger),
	}
}

// candidate is one eligible item with its computed score
type candidate struct {
	open      *db.OpenItem
	state     turn.State
	signals   Signals
	breakdown Breakdown
}

// Next returns the best item for the user, or nil when nothing is eligible.
// Only store failures are errors.
func (e *Engine) Next(ctx context.Context, req Request) (*Recommendation, error) {
	items, err := e.store.OpenItems(ctx)
	if err != nil {
		return nil, err
	}
	maintainers, err := e.store.AllMaintainers(ctx)
	if err != nil {
		return nil, err
	}
	starred, err := e.store.StarredRepositories(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	snoozed := make(map[models.ItemRef]bool, len(req.Snoozed))
	for _, ref := range req.Snoozed {
		snoozed[ref] = true
	}

	now := e.now()
	var best *candidate
	considered := 0
	for _, open := range items {
		repoMaintainers := maintainers[open.Item.RepositoryID]
		state := turn.Resolve(turn.Input{
			CreatedAt:   open.Item.CreatedAt,
			Comments:    open.Comments,
			Maintainers: repoMaintainers,
		}, now, e.stallInterval)

		user := userContext{
			id:         req.UserID,
			maintainer: repoMaintainers[req.UserID],
			starred:    starred[open.Item.RepositoryID],
		}
		if !eligible(open, state, user, req.Preferences, snoozed) {
			continue
		}
		considered++

		signals := e.extractSignals(open, state, user, repoMaintainers)
		c := &candidate{
			open:      open,
			state:     state,
			signals:   signals,
			breakdown: Score(signals, req.Preferences, e.weights, now),
		}
		if best == nil || better(c, best) {
			best = c
		}
	}

	e.logger.Debug("recommendation computed", "user_id", req.UserID, "open", len(items), "eligible", considered)
	if best == nil {
		return nil, nil
	}

	rec := &Recommendation{
		ItemType:     best.open.Item.Type,
		ItemID:       best.open.Item.ID,
		RepoFullName: best.open.RepoFullName,
		Number:       best.open.Item.Number,
		Title:        best.open.Item.Title,
		Turn:         best.state.Turn,
		Stalled:      best.state.Stalled,
		Explanation:  Explain(best.breakdown, e.weights),
	}
	if req.IncludeScoring {
		rec.Scoring = &Scoring{Signals: best.signals, Breakdown: best.breakdown}
	}
	return rec, nil
}

// better reports whether a outranks b
func better(a, b *candidate) bool {
	if a.breakdown.Total != b.breakdown.Total {
		return a.breakdown.Total > b.breakdown.Total
	}
	if !a.signals.LastActivityAt.Equal(b.signals.LastActivityAt) {
		return a.signals.LastActivityAt.After(b.signals.LastActivityAt)
	}
	if a.open.Item.Type != b.open.Item.Type {
		return a.open.Item.Type < b.open.Item.Type
	}
	return a.open.Item.ID < b.open.Item.ID
}
