package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wesm/argh/config"
	"github.com/wesm/argh/internal/api"
	"github.com/wesm/argh/internal/db"
	"github.com/wesm/argh/internal/maintainers"
	"github.com/wesm/argh/internal/recommend"
	"github.com/wesm/argh/internal/sync"
)

const enrichmentDrainTimeout = 30 * time.Second

func openDB() (*db.DB, error) {
	database, err := db.New(cfg.DatabaseDriver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.Initialize(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return database, nil
}

func newEngine(database *db.DB) *recommend.Engine {
	return recommend.NewEngine(database, recommend.Options{
		Weights:       cfg.Scoring,
		Classifier:    recommend.NewCustomerList(cfg.KnownCustomers),
		StallInterval: cfg.StallInterval.Std(),
		Logger:        logger,
	})
}

// syncRunner builds a fresh client and syncer for every pass, so
// concurrent passes never share token caches or enrichment queues
type syncRunner struct {
	cfg    *config.Config
	store  *db.DB
	logger *slog.Logger
}

func (r *syncRunner) Sync(ctx context.Context, target string) (*sync.Summary, error) {
	opts, err := r.cfg.ClientOptions()
	if err != nil {
		return nil, err
	}
	opts.Logger = r.logger
	client, err := api.NewGitHubClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	graphQL := client.GraphQL()

	var enricher *sync.Enricher
	if r.cfg.Enrichment.Enabled {
		enricher = sync.NewEnricher(graphQL, r.store, r.cfg.Enrichment.QueueSize, r.logger)
		defer func() {
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enrichmentDrainTimeout)
			defer cancel()
			enricher.Close(drainCtx)
			if n := enricher.Dropped(); n > 0 {
				r.logger.Info("enrichment queue overflowed", "target", target, "dropped", n)
			}
		}()
	}

	syncer := sync.New(client, r.store, sync.Options{
		Filter:         sync.Filter{Include: r.cfg.Include, Exclude: r.cfg.Exclude},
		ClosedLookback: r.cfg.ClosedLookback.Std(),
		Maintainers:    maintainers.New(client, r.store, graphQL, r.logger),
		Enricher:       enricher,
		Logger:         r.logger,
	})
	return syncer.Sync(ctx, target)
}
