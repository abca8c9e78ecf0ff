// Package sync mirrors GitHub issues and pull requests into the store.
//
// Repositories are processed one at a time. Each repository gets either a
// full pass (no watermark yet) or a delta pass: items updated since the
// watermark plus items closed within the lookback window. Per-item detail
// fetches run concurrently but finish before the next item starts.
// Watermarks advance to the pass start time only after both resources of
// a repository complete.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wesm/argh/internal/api"
	"github.com/wesm/argh/internal/db"
	"github.com/wesm/argh/internal/logging"
	"github.com/wesm/argh/internal/models"
)

// DefaultClosedLookback is how far back a delta pass looks for closed items
const DefaultClosedLookback = 72 * time.Hour

// progressInterval limits how often per-resource progress is logged
const progressInterval = 5 * time.Second

// Source is the upstream the orchestrator reads from
type Source interface {
	GetRepository(ctx context.Context, owner, name string) (*models.Repository, error)
	ListRepositories(ctx context.Context, orgOrUser string) iter.Seq2[[]*models.Repository, error]
	Issues(ctx context.Context, owner, name string, q api.ItemQuery) iter.Seq2[[]*models.WorkItem, error]
	PullRequests(ctx context.Context, owner, name string, q api.ItemQuery) iter.Seq2[[]*models.WorkItem, error]
	Comments(ctx context.Context, owner, name string, item *models.WorkItem) iter.Seq2[[]*models.Comment, error]
	Reactions(ctx context.Context, owner, name string, item *models.WorkItem) iter.Seq2[[]*models.Reaction, error]
	Reviews(ctx context.Context, owner, name string, pr *models.WorkItem) iter.Seq2[[]*models.Review, error]
	FileStats(ctx context.Context, owner, name string, pr *models.WorkItem) (*models.FileStats, error)
}

// Store is the persistence the orchestrator writes to
type Store interface {
	SaveRepository(ctx context.Context, repo *models.Repository) error
	SaveWorkItem(ctx context.Context, item *models.WorkItem) error
	SaveComments(ctx context.Context, comments []*models.Comment) error
	SaveReviews(ctx context.Context, reviews []*models.Review) error
	SaveReactions(ctx context.Context, reactions []*models.Reaction) (int, error)
	GetWatermark(ctx context.Context, repoID int64, resource models.Resource) (time.Time, bool, error)
	SetWatermarks(ctx context.Context, repoID int64, at time.Time, resources ...models.Resource) error
	RecordSyncRun(ctx context.Context, run db.SyncRun) error
}

// MaintainerRefresher re-derives maintainer assertions for a repository
type MaintainerRefresher interface {
	Refresh(ctx context.Context, repo *models.Repository) (int, error)
}

// Options configure a Syncer
type Options struct {
	Filter         Filter
	ClosedLookback time.Duration
	Maintainers    MaintainerRefresher
	Enricher       *Enricher
	Logger         *slog.Logger
}

// RepoError is one failure recorded during a pass. Item is empty for
// failures that affected the whole repository.
type RepoError struct {
	Repo string
	Item string
	Err  error
}

func (e RepoError) Error() string {
	if e.Item != "" {
		return fmt.Sprintf("%s %s: %v", e.Repo, e.Item, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Repo, e.Err)
}

func (e RepoError) Unwrap() error {
	return e.Err
}

func (e RepoError) MarshalJSON() ([]byte, error) {
	var msg string
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Repo  string `json:"repo"`
		Item  string `json:"item,omitempty"`
		Error string `json:"error"`
	}{e.Repo, e.Item, msg})
}

// Summary reports one pass. Errors is non-empty whenever anything failed,
// even if most repositories synced.
type Summary struct {
	RunID          string      `json:"run_id"`
	Target         string      `json:"target"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
	ReposProcessed int         `json:"repos_processed"`
	ReposSkipped   int         `json:"repos_skipped"`
	IssuesSynced   int         `json:"issues_synced"`
	PRsSynced      int         `json:"prs_synced"`
	Errors         []RepoError `json:"errors"`
}

// ErrorStrings renders the recorded errors
func (s *Summary) ErrorStrings() []string {
	out := make([]string, 0, len(s.Errors))
	for _, e := range s.Errors {
		out = append(out, e.Error())
	}
	return out
}

// Syncer handles syncing GitHub issues and pull requests to the store.
// A Syncer is used for one pass at a time.
type Syncer struct {
	source         Source
	store          Store
	filter         Filter
	closedLookback time.Duration
	maintainers    MaintainerRefresher
	enricher       *Enricher
	logger         *slog.Logger
	now            func() time.Time
}

// New creates a new syncer
func New(source Source, store Store, opts Options) *Syncer {
	lookback := opts.ClosedLookback
	if lookback <= 0 {
		lookback = DefaultClosedLookback
	}
	return &Syncer{
		source:         source,
		store:          store,
		filter:         opts.Filter,
		closedLookback: lookback,
		maintainers:    opts.Maintainers,
		enricher:       opts.Enricher,
		logger:         logging.OrDefault(opts.Logger),
		now:            time.Now,
	}
}

// Sync runs one pass over target, which is an organization, a user or a
// single owner/name repository. The summary is recorded in the store. The
// returned error is only set when the repository list itself could not
// be read or the run could not be recorded.
func (s *Syncer) Sync(ctx context.Context, target string) (*Summary, error) {
	summary := &Summary{
		RunID:     uuid.NewString(),
		Target:    target,
		StartedAt: s.now(),
		Errors:    []RepoError{},
	}
	logger := s.logger.With("run_id", summary.RunID, "target", target)
	logger.Info("sync started")

	repos, listErr := s.repositories(ctx, target)
	if listErr != nil {
		summary.Errors = append(summary.Errors, RepoError{Repo: target, Err: listErr})
	}

	for _, repo := range repos {
		if ctx.Err() != nil {
			break
		}
		if repo.Archived || !s.filter.Allowed(repo.FullName) {
			logger.Debug("skipping repository", "repo", repo.FullName, "archived", repo.Archived)
			summary.ReposSkipped++
			continue
		}
		if err := s.syncRepository(ctx, repo, summary, logger.With("repo", repo.FullName)); err != nil {
			logger.Warn("repository sync failed", "repo", repo.FullName, "error", err)
			summary.Errors = append(summary.Errors, RepoError{Repo: repo.FullName, Err: err})
			continue
		}
		summary.ReposProcessed++
	}
	if err := ctx.Err(); err != nil {
		summary.Errors = append(summary.Errors, RepoError{Repo: target, Err: err})
	}

	summary.FinishedAt = s.now()
	err := s.store.RecordSyncRun(context.WithoutCancel(ctx), db.SyncRun{
		ID:             summary.RunID,
		Target:         target,
		StartedAt:      summary.StartedAt,
		FinishedAt:     summary.FinishedAt,
		ReposProcessed: summary.ReposProcessed,
		ReposSkipped:   summary.ReposSkipped,
		IssuesSynced:   summary.IssuesSynced,
		PRsSynced:      summary.PRsSynced,
		Errors:         summary.ErrorStrings(),
	})

	logger.Info("sync finished",
		"repos_processed", summary.ReposProcessed,
		"repos_skipped", summary.ReposSkipped,
		"issues", summary.IssuesSynced,
		"pull_requests", summary.PRsSynced,
		"errors", len(summary.Errors),
		"duration", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))

	if listErr != nil {
		return summary, fmt.Errorf("failed to list repositories for %s: %w", target, listErr)
	}
	if err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Syncer) repositories(ctx context.Context, target string) ([]*models.Repository, error) {
	if strings.Contains(target, "/") {
		owner, name, err := ParseRepositoryString(target)
		if err != nil {
			return nil, err
		}
		repo, err := s.source.GetRepository(ctx, owner, name)
		if err != nil {
			return nil, err
		}
		return []*models.Repository{repo}, nil
	}
	return api.Collect(s.source.ListRepositories(ctx, target))
}

// syncRepository syncs one repository. A returned error means the
// repository failed as a whole and its watermarks were left alone.
func (s *Syncer) syncRepository(ctx context.Context, repo *models.Repository, summary *Summary, logger *slog.Logger) error {
	startedAt := s.now()

	if err := s.store.SaveRepository(ctx, repo); err != nil {
		return fmt.Errorf("failed to save repository: %w", err)
	}

	if s.maintainers != nil {
		if n, err := s.maintainers.Refresh(ctx, repo); err != nil {
			logger.Warn("failed to refresh maintainers", "error", err)
		} else {
			logger.Debug("maintainers refreshed", "assertions", n)
		}
	}

	// Counts cover every upserted item, even when the repository fails later
	issues, err := s.syncResource(ctx, repo, models.ResourceIssues, summary, logger)
	summary.IssuesSynced += issues
	if err != nil {
		return err
	}
	prs, err := s.syncResource(ctx, repo, models.ResourcePullRequests, summary, logger)
	summary.PRsSynced += prs
	if err != nil {
		return err
	}

	if err := s.store.SetWatermarks(ctx, repo.ID, startedAt, models.ResourceIssues, models.ResourcePullRequests); err != nil {
		return fmt.Errorf("failed to advance watermarks: %w", err)
	}

	logger.Info("repository synced", "issues", issues, "pull_requests", prs)
	return nil
}

// syncResource runs the full or delta fetch for one resource and returns
// how many distinct items were upserted. Item failures are recorded in
// the summary; only listing failures are returned.
func (s *Syncer) syncResource(ctx context.Context, repo *models.Repository, resource models.Resource, summary *Summary, logger *slog.Logger) (int, error) {
	watermark, ok, err := s.store.GetWatermark(ctx, repo.ID, resource)
	if err != nil {
		return 0, err
	}

	queries := []api.ItemQuery{{State: "all"}}
	if ok {
		queries = []api.ItemQuery{
			{State: "all", Since: watermark},
			{State: "closed", Since: s.now().Add(-s.closedLookback)},
		}
		logger.Debug("delta sync", "resource", resource, "since", watermark)
	} else {
		logger.Debug("full sync", "resource", resource)
	}

	// Both delta queries can return the same item
	processed := make(map[int64]bool)
	synced := 0
	lastProgress := time.Now()

	for _, q := range queries {
		for batch, err := range s.list(ctx, repo, resource, q) {
			if err != nil {
				return synced, err
			}
			for _, item := range batch {
				if processed[item.ID] {
					continue
				}
				processed[item.ID] = true
				item.RepositoryID = repo.ID

				if err := s.syncItem(ctx, repo, item, logger); err != nil {
					summary.Errors = append(summary.Errors, RepoError{
						Repo: repo.FullName,
						Item: fmt.Sprintf("%s #%d", item.Type, item.Number),
						Err:  err,
					})
					continue
				}
				synced++

				if time.Since(lastProgress) >= progressInterval {
					logger.Info("progress", "resource", resource, "synced", synced)
					lastProgress = time.Now()
				}
			}
		}
	}
	return synced, nil
}

func (s *Syncer) list(ctx context.Context, repo *models.Repository, resource models.Resource, q api.ItemQuery) iter.Seq2[[]*models.WorkItem, error] {
	if resource == models.ResourcePullRequests {
		return s.source.PullRequests(ctx, repo.Owner, repo.Name, q)
	}
	return s.source.Issues(ctx, repo.Owner, repo.Name, q)
}

// details are the per-item fetches. A nil field means that fetch failed.
type details struct {
	comments  []*models.Comment
	reactions []*models.Reaction
	reviews   []*models.Review
	stats     *models.FileStats
}

// syncItem fetches an item's details concurrently, then upserts the item
// followed by its children. Only the item upsert itself can fail the item.
func (s *Syncer) syncItem(ctx context.Context, repo *models.Repository, item *models.WorkItem, logger *slog.Logger) error {
	d := s.fetchDetails(ctx, repo, item, logger)

	if d.stats != nil {
		item.Additions = &d.stats.Additions
		item.Deletions = &d.stats.Deletions
		item.ChangedFiles = &d.stats.ChangedFiles
	}
	if err := s.store.SaveWorkItem(ctx, item); err != nil {
		return err
	}

	if d.comments != nil {
		if err := s.store.SaveComments(ctx, d.comments); err != nil {
			logger.Warn("failed to save comments", "number", item.Number, "error", err)
		}
	}
	if d.reactions != nil {
		if _, err := s.store.SaveReactions(ctx, d.reactions); err != nil {
			logger.Warn("failed to save reactions", "number", item.Number, "error", err)
		}
	}
	if d.reviews != nil {
		if err := s.store.SaveReviews(ctx, d.reviews); err != nil {
			logger.Warn("failed to save reviews", "number", item.Number, "error", err)
		}
	}

	s.enricher.Submit(item.Author)
	for i := range item.Assignees {
		s.enricher.Submit(&item.Assignees[i])
	}
	for _, c := range d.comments {
		s.enricher.Submit(c.Author)
	}
	return nil
}

func (s *Syncer) fetchDetails(ctx context.Context, repo *models.Repository, item *models.WorkItem, logger *slog.Logger) details {
	var d details
	var wg sync.WaitGroup
	owner, name := repo.Owner, repo.Name

	degrade := func(field string, err error) {
		level := slog.LevelWarn
		if api.IsNotFound(err) {
			level = slog.LevelDebug
		}
		logger.Log(ctx, level, "failed to fetch item detail",
			"type", item.Type, "number", item.Number, "field", field, "error", err)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		comments, err := api.Collect(s.source.Comments(ctx, owner, name, item))
		if err != nil {
			degrade("comments", err)
			return
		}
		d.comments = nonNil(comments)
	}()
	go func() {
		defer wg.Done()
		reactions, err := api.Collect(s.source.Reactions(ctx, owner, name, item))
		if err != nil {
			degrade("reactions", err)
			return
		}
		d.reactions = nonNil(reactions)
	}()

	if item.Type == models.ItemPullRequest {
		wg.Add(2)
		go func() {
			defer wg.Done()
			reviews, err := api.Collect(s.source.Reviews(ctx, owner, name, item))
			if err != nil {
				degrade("reviews", err)
				return
			}
			d.reviews = nonNil(reviews)
		}()
		go func() {
			defer wg.Done()
			stats, err := s.source.FileStats(ctx, owner, name, item)
			if err != nil {
				degrade("file_stats", err)
				return
			}
			d.stats = stats
		}()
	}

	wg.Wait()
	return d
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

