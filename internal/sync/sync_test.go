package sync

import (
	"context"
	"errors"
	"iter"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wesm/argh/internal/api"
	"github.com/wesm/argh/internal/db"
	"github.com/wesm/argh/internal/models"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.New(db.DriverSQLite, filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return database
}

func seq[T any](items []T, err error) iter.Seq2[[]T, error] {
	return func(yield func([]T, error) bool) {
		if err != nil {
			yield(nil, err)
			return
		}
		yield(items, nil)
	}
}

type recordedQuery struct {
	resource models.Resource
	query    api.ItemQuery
}

type fakeSource struct {
	repos      []*models.Repository
	listErr    error
	issues     map[string][]*models.WorkItem
	prs        map[string][]*models.WorkItem
	listFail   map[string]error
	comments   map[int64][]*models.Comment
	reactions  map[int64][]*models.Reaction
	reviews    map[int64][]*models.Review
	stats      map[int64]*models.FileStats
	detailFail map[int64]error

	mu      sync.Mutex
	queries []recordedQuery
}

func (f *fakeSource) GetRepository(ctx context.Context, owner, name string) (*models.Repository, error) {
	for _, r := range f.repos {
		if r.FullName == owner+"/"+name {
			return r, nil
		}
	}
	return nil, errors.New("no such repository")
}

func (f *fakeSource) ListRepositories(ctx context.Context, orgOrUser string) iter.Seq2[[]*models.Repository, error] {
	return seq(f.repos, f.listErr)
}

func (f *fakeSource) items(resource models.Resource, all map[string][]*models.WorkItem, owner, name string, q api.ItemQuery) iter.Seq2[[]*models.WorkItem, error] {
	f.mu.Lock()
	f.queries = append(f.queries, recordedQuery{resource, q})
	f.mu.Unlock()

	full := owner + "/" + name
	if err := f.listFail[full]; err != nil {
		return seq[*models.WorkItem](nil, err)
	}
	var out []*models.WorkItem
	for _, item := range all[full] {
		if q.State != "all" && q.State != item.State {
			continue
		}
		if !q.Since.IsZero() && item.UpdatedAt.Before(q.Since) {
			continue
		}
		c := *item
		out = append(out, &c)
	}
	return seq(out, nil)
}

func (f *fakeSource) Issues(ctx context.Context, owner, name string, q api.ItemQuery) iter.Seq2[[]*models.WorkItem, error] {
	return f.items(models.ResourceIssues, f.issues, owner, name, q)
}

func (f *fakeSource) PullRequests(ctx context.Context, owner, name string, q api.ItemQuery) iter.Seq2[[]*models.WorkItem, error] {
	return f.items(models.ResourcePullRequests, f.prs, owner, name, q)
}

func (f *fakeSource) Comments(ctx context.Context, owner, name string, item *models.WorkItem) iter.Seq2[[]*models.Comment, error] {
	return seq(f.comments[item.ID], f.detailFail[item.ID])
}

func (f *fakeSource) Reactions(ctx context.Context, owner, name string, item *models.WorkItem) iter.Seq2[[]*models.Reaction, error] {
	return seq(f.reactions[item.ID], nil)
}

func (f *fakeSource) Reviews(ctx context.Context, owner, name string, pr *models.WorkItem) iter.Seq2[[]*models.Review, error] {
	return seq(f.reviews[pr.ID], nil)
}

func (f *fakeSource) FileStats(ctx context.Context, owner, name string, pr *models.WorkItem) (*models.FileStats, error) {
	if s, ok := f.stats[pr.ID]; ok {
		return s, nil
	}
	return nil, errors.New("stats unavailable")
}

var (
	alice = models.User{ID: 1, Login: "alice", Type: "User"}
	bob   = models.User{ID: 2, Login: "bob", Type: "User"}
	carol = models.User{ID: 3, Login: "carol", Type: "User"}
	mia   = models.User{ID: 4, Login: "mia", Type: "User"}
)

func widgetRepo() *models.Repository {
	return &models.Repository{ID: 10, Owner: "acme", Name: "widget", FullName: "acme/widget", CreatedAt: now, UpdatedAt: now}
}

func issue(id int64, number int, state string, author models.User, updated time.Time) *models.WorkItem {
	return &models.WorkItem{
		Type: models.ItemIssue, ID: id, Number: number, Title: "issue", State: state,
		Author: &author, CreatedAt: updated.Add(-time.Hour), UpdatedAt: updated,
	}
}

func newFakeSource() *fakeSource {
	pr := &models.WorkItem{
		Type: models.ItemPullRequest, ID: 200, Number: 3, Title: "Fix widgets", State: "open",
		Author: &carol, Assignees: []models.User{mia},
		CreatedAt: now.Add(-3 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour),
	}
	return &fakeSource{
		repos: []*models.Repository{widgetRepo()},
		issues: map[string][]*models.WorkItem{"acme/widget": {
			issue(100, 1, "open", alice, now.Add(-48*time.Hour)),
			issue(101, 2, "closed", bob, now.Add(-24*time.Hour)),
		}},
		prs: map[string][]*models.WorkItem{"acme/widget": {pr}},
		comments: map[int64][]*models.Comment{200: {{
			ID: 900, ItemType: models.ItemPullRequest, ItemID: 200, Author: &mia,
			Body: "looks good", CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour),
		}}},
		reactions: map[int64][]*models.Reaction{200: {
			{ItemType: models.ItemPullRequest, ItemID: 200, User: &alice, Content: "+1"},
			{ItemType: models.ItemPullRequest, ItemID: 200, User: &bob, Content: "bogus"},
		}},
		reviews: map[int64][]*models.Review{200: {
			{ID: 700, PullRequestID: 200, Reviewer: &mia, State: "APPROVED"},
		}},
		stats: map[int64]*models.FileStats{200: {Additions: 10, Deletions: 2, ChangedFiles: 3}},
	}
}

func newTestSyncer(src Source, store Store, opts Options) *Syncer {
	s := New(src, store, opts)
	s.now = func() time.Time { return now }
	return s
}

func TestSyncFullPass(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	src := newFakeSource()

	summary, err := newTestSyncer(src, database, Options{}).Sync(ctx, "acme")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if summary.ReposProcessed != 1 || summary.IssuesSynced != 2 || summary.PRsSynced != 1 {
		t.Errorf("summary = %+v, want 1 repo, 2 issues, 1 pr", summary)
	}
	if len(summary.Errors) != 0 {
		t.Errorf("Errors = %v, want none", summary.Errors)
	}

	for _, resource := range []models.Resource{models.ResourceIssues, models.ResourcePullRequests} {
		wm, ok, err := database.GetWatermark(ctx, 10, resource)
		if err != nil || !ok || !wm.Equal(now) {
			t.Errorf("watermark %s = %v, %v, %v; want %v", resource, wm, ok, err, now)
		}
	}

	pr, err := database.GetWorkItem(ctx, models.ItemRef{Type: models.ItemPullRequest, ID: 200})
	if err != nil {
		t.Fatalf("GetWorkItem: %v", err)
	}
	if pr.RepositoryID != 10 || pr.Additions == nil || *pr.Additions != 10 || *pr.ChangedFiles != 3 {
		t.Errorf("pull request = %+v, want repo 10 with file stats", pr)
	}

	counts, err := database.CountRows(ctx)
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	want := map[string]int{"work_items": 3, "comments": 1, "reactions": 1, "reviews": 1, "repositories": 1}
	for table, n := range want {
		if counts[table] != n {
			t.Errorf("%s rows = %d, want %d", table, counts[table], n)
		}
	}

	run, err := database.LastSyncRun(ctx, "acme")
	if err != nil {
		t.Fatalf("LastSyncRun: %v", err)
	}
	if run.ID != summary.RunID || run.IssuesSynced != 2 || run.PRsSynced != 1 {
		t.Errorf("recorded run = %+v, want summary %+v", run, summary)
	}
}

func TestSyncTwiceChangesNothing(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	src := newFakeSource()
	syncer := newTestSyncer(src, database, Options{})

	if _, err := syncer.Sync(ctx, "acme"); err != nil {
		t.Fatalf("first Sync() error = %v", err)
	}
	before, err := database.CountRows(ctx)
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}

	summary, err := syncer.Sync(ctx, "acme")
	if err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}
	after, err := database.CountRows(ctx)
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	for table, n := range before {
		if after[table] != n {
			t.Errorf("%s rows = %d after second pass, want %d", table, after[table], n)
		}
	}

	// The second pass is a delta; only the recently closed issue comes back
	if summary.IssuesSynced != 1 || summary.PRsSynced != 0 {
		t.Errorf("second summary = %+v, want 1 issue (closed lookback), 0 prs", summary)
	}
}

func TestSyncDelta(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	src := newFakeSource()
	src.issues["acme/widget"] = append(src.issues["acme/widget"],
		issue(102, 4, "open", carol, now.Add(-time.Hour)),
		// Returned by both delta queries
		issue(103, 5, "closed", alice, now.Add(-30*time.Minute)),
	)

	watermark := now.Add(-12 * time.Hour)
	if err := database.SetWatermarks(ctx, 10, watermark, models.ResourceIssues, models.ResourcePullRequests); err != nil {
		t.Fatalf("SetWatermarks: %v", err)
	}

	summary, err := newTestSyncer(src, database, Options{}).Sync(ctx, "acme")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	// 101 via the closed lookback, 102 updated, 103 once despite both queries
	if summary.IssuesSynced != 3 {
		t.Errorf("IssuesSynced = %d, want 3", summary.IssuesSynced)
	}
	if summary.PRsSynced != 1 {
		t.Errorf("PRsSynced = %d, want 1", summary.PRsSynced)
	}

	if _, err := database.GetWorkItem(ctx, models.ItemRef{Type: models.ItemIssue, ID: 100}); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("issue unchanged before the watermark: err = %v, want ErrNotFound", err)
	}
	if _, err := database.GetWorkItem(ctx, models.ItemRef{Type: models.ItemIssue, ID: 101}); err != nil {
		t.Errorf("recently closed issue not synced: %v", err)
	}

	var sawSince, sawClosed bool
	for _, q := range src.queries {
		if q.resource != models.ResourceIssues {
			continue
		}
		if q.query.State == "all" && q.query.Since.Equal(watermark) {
			sawSince = true
		}
		if q.query.State == "closed" && q.query.Since.Equal(now.Add(-DefaultClosedLookback)) {
			sawClosed = true
		}
	}
	if !sawSince || !sawClosed {
		t.Errorf("queries = %+v, want an updated-since and a recently-closed query", src.queries)
	}
}

func TestSyncContinuesAfterRepositoryFailure(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	src := newFakeSource()
	broken := &models.Repository{ID: 11, Owner: "acme", Name: "broken", FullName: "acme/broken", CreatedAt: now, UpdatedAt: now}
	src.repos = []*models.Repository{broken, widgetRepo()}
	src.listFail = map[string]error{"acme/broken": errors.New("repository moved")}

	summary, err := newTestSyncer(src, database, Options{}).Sync(ctx, "acme")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if summary.ReposProcessed != 1 {
		t.Errorf("ReposProcessed = %d, want 1", summary.ReposProcessed)
	}
	if len(summary.Errors) != 1 || summary.Errors[0].Repo != "acme/broken" || summary.Errors[0].Item != "" {
		t.Fatalf("Errors = %+v, want one whole-repo error for acme/broken", summary.Errors)
	}
	if !strings.Contains(summary.Errors[0].Error(), "repository moved") {
		t.Errorf("error = %q", summary.Errors[0].Error())
	}
	if _, ok, _ := database.GetWatermark(ctx, 11, models.ResourceIssues); ok {
		t.Error("watermark advanced for a failed repository")
	}
	if _, ok, _ := database.GetWatermark(ctx, 10, models.ResourceIssues); !ok {
		t.Error("watermark not advanced for the healthy repository")
	}

	run, err := database.LastSyncRun(ctx, "acme")
	if err != nil {
		t.Fatalf("LastSyncRun: %v", err)
	}
	if len(run.Errors) != 1 {
		t.Errorf("recorded errors = %v, want 1", run.Errors)
	}
}

// partialSource yields the first issue batch, then fails. Pull request
// listings fail outright when pullsErr is set.
type partialSource struct {
	*fakeSource
	issuesErr error
	pullsErr  error
}

func (p *partialSource) Issues(ctx context.Context, owner, name string, q api.ItemQuery) iter.Seq2[[]*models.WorkItem, error] {
	if p.issuesErr == nil {
		return p.fakeSource.Issues(ctx, owner, name, q)
	}
	first := p.fakeSource.issues[owner+"/"+name][:1]
	return func(yield func([]*models.WorkItem, error) bool) {
		c := *first[0]
		if !yield([]*models.WorkItem{&c}, nil) {
			return
		}
		yield(nil, p.issuesErr)
	}
}

func (p *partialSource) PullRequests(ctx context.Context, owner, name string, q api.ItemQuery) iter.Seq2[[]*models.WorkItem, error] {
	if p.pullsErr != nil {
		return seq[*models.WorkItem](nil, p.pullsErr)
	}
	return p.fakeSource.PullRequests(ctx, owner, name, q)
}

func TestSyncCountsItemsSavedBeforeRepositoryFailure(t *testing.T) {
	tests := []struct {
		name       string
		src        *partialSource
		wantIssues int
		wantPRs    int
		wantErr    string
	}{
		{
			name:       "pull request listing fails",
			src:        &partialSource{fakeSource: newFakeSource(), pullsErr: errors.New("pulls endpoint 403")},
			wantIssues: 2,
			wantErr:    "pulls endpoint 403",
		},
		{
			name:       "issue listing fails after one batch",
			src:        &partialSource{fakeSource: newFakeSource(), issuesErr: errors.New("page 2 timed out")},
			wantIssues: 1,
			wantErr:    "page 2 timed out",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			database := newTestDB(t)

			summary, err := newTestSyncer(tt.src, database, Options{}).Sync(ctx, "acme")
			if err != nil {
				t.Fatalf("Sync() error = %v", err)
			}
			if summary.IssuesSynced != tt.wantIssues || summary.PRsSynced != tt.wantPRs {
				t.Errorf("IssuesSynced = %d, PRsSynced = %d, want %d, %d",
					summary.IssuesSynced, summary.PRsSynced, tt.wantIssues, tt.wantPRs)
			}
			if len(summary.Errors) != 1 || !strings.Contains(summary.Errors[0].Error(), tt.wantErr) {
				t.Fatalf("Errors = %v, want one error containing %q", summary.ErrorStrings(), tt.wantErr)
			}

			counts, err := database.CountRows(ctx)
			if err != nil {
				t.Fatalf("CountRows: %v", err)
			}
			if counts["work_items"] != tt.wantIssues+tt.wantPRs {
				t.Errorf("work_items = %d, want %d", counts["work_items"], tt.wantIssues+tt.wantPRs)
			}
			if _, ok, _ := database.GetWatermark(ctx, 10, models.ResourceIssues); ok {
				t.Error("watermark advanced for a failed repository")
			}
		})
	}
}

// failingStore fails the upsert of one work item
type failingStore struct {
	*db.DB
	failID int64
}

func (s *failingStore) SaveWorkItem(ctx context.Context, item *models.WorkItem) error {
	if item.ID == s.failID {
		return errors.New("constraint violated")
	}
	return s.DB.SaveWorkItem(ctx, item)
}

func TestSyncItemFailureIsRecordedAndWatermarkAdvances(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	store := &failingStore{DB: database, failID: 101}

	summary, err := newTestSyncer(newFakeSource(), store, Options{}).Sync(ctx, "acme")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if summary.IssuesSynced != 1 {
		t.Errorf("IssuesSynced = %d, want 1", summary.IssuesSynced)
	}
	if len(summary.Errors) != 1 || summary.Errors[0].Item != "issue #2" {
		t.Fatalf("Errors = %+v, want one item error for issue #2", summary.Errors)
	}
	if summary.ReposProcessed != 1 {
		t.Errorf("ReposProcessed = %d, want 1", summary.ReposProcessed)
	}
	if _, ok, _ := database.GetWatermark(ctx, 10, models.ResourceIssues); !ok {
		t.Error("item failure blocked the watermark")
	}
}

func TestSyncDetailFailureDegradesOneField(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	src := newFakeSource()
	src.detailFail = map[int64]error{200: errors.New("comments unavailable")}
	delete(src.stats, 200)

	summary, err := newTestSyncer(src, database, Options{}).Sync(ctx, "acme")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if summary.PRsSynced != 1 || len(summary.Errors) != 0 {
		t.Errorf("summary = %+v, want the pull request synced without errors", summary)
	}

	ref := models.ItemRef{Type: models.ItemPullRequest, ID: 200}
	pr, err := database.GetWorkItem(ctx, ref)
	if err != nil {
		t.Fatalf("GetWorkItem: %v", err)
	}
	if pr.Additions != nil {
		t.Errorf("Additions = %d, want unset", *pr.Additions)
	}
	comments, err := database.ListComments(ctx, ref)
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(comments) != 0 {
		t.Errorf("comments = %d, want 0", len(comments))
	}
	counts, err := database.CountRows(ctx)
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if counts["reviews"] != 1 {
		t.Errorf("reviews = %d, want 1", counts["reviews"])
	}
}

func TestSyncSkipsArchivedAndFilteredRepositories(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	src := newFakeSource()
	src.repos = append(src.repos,
		&models.Repository{ID: 12, Owner: "acme", Name: "legacy-app", FullName: "acme/legacy-app"},
		&models.Repository{ID: 13, Owner: "acme", Name: "old", FullName: "acme/old", Archived: true},
	)

	summary, err := newTestSyncer(src, database, Options{
		Filter: Filter{Exclude: []string{"legacy-*"}},
	}).Sync(ctx, "acme")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if summary.ReposProcessed != 1 || summary.ReposSkipped != 2 {
		t.Errorf("summary = %+v, want 1 processed, 2 skipped", summary)
	}
}

func TestSyncListFailure(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	src := newFakeSource()
	src.listErr = errors.New("bad credentials")

	summary, err := newTestSyncer(src, database, Options{}).Sync(ctx, "acme")
	if err == nil {
		t.Fatal("Sync() error = nil, want list failure")
	}
	if summary == nil || len(summary.Errors) != 1 {
		t.Fatalf("summary = %+v, want the list failure recorded", summary)
	}
	if _, err := database.LastSyncRun(ctx, "acme"); err != nil {
		t.Errorf("LastSyncRun: %v, want the failed run recorded", err)
	}
}

func TestSyncSingleRepository(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)

	summary, err := newTestSyncer(newFakeSource(), database, Options{}).Sync(ctx, "acme/widget")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if summary.ReposProcessed != 1 || summary.IssuesSynced != 2 {
		t.Errorf("summary = %+v", summary)
	}
}

type fakeRefresher struct {
	refreshed []string
	err       error
}

func (f *fakeRefresher) Refresh(ctx context.Context, repo *models.Repository) (int, error) {
	f.refreshed = append(f.refreshed, repo.FullName)
	return 0, f.err
}

func TestSyncRefreshesMaintainers(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	refresher := &fakeRefresher{err: errors.New("rate limited")}

	summary, err := newTestSyncer(newFakeSource(), database, Options{Maintainers: refresher}).Sync(ctx, "acme")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(refresher.refreshed) != 1 || refresher.refreshed[0] != "acme/widget" {
		t.Errorf("refreshed = %v", refresher.refreshed)
	}
	// Refresh failures are logged only
	if len(summary.Errors) != 0 || summary.ReposProcessed != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestSyncEnrichesAuthors(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	profiles := &fakeProfiles{companies: map[string]string{"alice": "Acme Corp"}}
	enricher := NewEnricher(profiles, database, 16, nil)

	if _, err := newTestSyncer(newFakeSource(), database, Options{Enricher: enricher}).Sync(ctx, "acme"); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	enricher.Close(ctx)

	open, err := database.OpenItems(ctx)
	if err != nil {
		t.Fatalf("OpenItems: %v", err)
	}
	found := false
	for _, o := range open {
		if o.Item.ID == 100 {
			found = true
			if o.AuthorCompany.GitHub != "Acme Corp" {
				t.Errorf("author company = %q, want Acme Corp", o.AuthorCompany.GitHub)
			}
		}
	}
	if !found {
		t.Fatal("issue 100 not open in the store")
	}
}

func TestRepoErrorJSON(t *testing.T) {
	data, err := RepoError{Repo: "acme/widget", Item: "issue #2", Err: errors.New("boom")}.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"repo":"acme/widget","item":"issue #2","error":"boom"}`
	if string(data) != want {
		t.Errorf("MarshalJSON() = %s, want %s", data, want)
	}
}
