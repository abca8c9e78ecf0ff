package maintainers

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/wesm/argh/internal/api"
	"github.com/wesm/argh/internal/models"
)

type fakeSource struct {
	collaborators []*models.Collaborator
	collabErr     error
	files         map[string]string
	fileErrs      map[string]error
	requested     []string
}

func notFound() error {
	req, _ := http.NewRequest(http.MethodGet, "https://api.github.com/repos/acme/widget/contents/x", nil)
	return fmt.Errorf("failed to get file: %w", &github.ErrorResponse{
		Response: &http.Response{StatusCode: http.StatusNotFound, Request: req},
		Message:  "Not Found",
	})
}

func (f *fakeSource) Collaborators(ctx context.Context, owner, name string) iter.Seq2[[]*models.Collaborator, error] {
	return func(yield func([]*models.Collaborator, error) bool) {
		if f.collabErr != nil {
			yield(nil, f.collabErr)
			return
		}
		yield(f.collaborators, nil)
	}
}

func (f *fakeSource) FileContent(ctx context.Context, owner, name, path string) ([]byte, error) {
	f.requested = append(f.requested, path)
	if err, ok := f.fileErrs[path]; ok {
		return nil, err
	}
	content, ok := f.files[path]
	if !ok {
		return nil, notFound()
	}
	return []byte(content), nil
}

type fakeStore struct {
	users      map[string]int64
	saved      []*models.User
	assertions []models.MaintainerAssertion
	saveErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string]int64)}
}

func (s *fakeStore) SaveMaintainerAssertion(ctx context.Context, a models.MaintainerAssertion) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.assertions = append(s.assertions, a)
	return nil
}

func (s *fakeStore) SaveUser(ctx context.Context, user *models.User) error {
	s.saved = append(s.saved, user)
	s.users[strings.ToLower(user.Login)] = user.ID
	return nil
}

func (s *fakeStore) UserIDByLogin(ctx context.Context, login string) (int64, bool, error) {
	id, ok := s.users[strings.ToLower(login)]
	return id, ok, nil
}

type fakeProfiles struct {
	profiles map[string]*api.Profile
	lookups  int
}

func (p *fakeProfiles) LookupUser(ctx context.Context, login string) (*api.Profile, error) {
	p.lookups++
	profile, ok := p.profiles[login]
	if !ok {
		return nil, api.ErrUserNotFound
	}
	return profile, nil
}

var testRepo = &models.Repository{ID: 10, Owner: "acme", Name: "widget", FullName: "acme/widget"}

func newTestAggregator(src Source, store Store, profiles Profiles) *Aggregator {
	a := New(src, store, profiles, nil)
	a.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return a
}

func assertionsBySource(as []models.MaintainerAssertion) map[models.MaintainerSource][]int64 {
	out := make(map[models.MaintainerSource][]int64)
	for _, a := range as {
		out[a.Source] = append(out[a.Source], a.UserID)
	}
	return out
}

func TestRefreshPermissions(t *testing.T) {
	src := &fakeSource{collaborators: []*models.Collaborator{
		{User: models.User{ID: 1, Login: "alice"}, Permission: "admin"},
		{User: models.User{ID: 2, Login: "bob"}, Permission: "maintain"},
		{User: models.User{ID: 3, Login: "carol"}, Permission: "push"},
		{User: models.User{ID: 4, Login: "dan"}, Permission: "triage"},
	}}
	store := newFakeStore()

	n, err := newTestAggregator(src, store, nil).Refresh(context.Background(), testRepo)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Refresh() = %d, want 2", n)
	}
	for _, a := range store.assertions {
		if a.Source != models.SourcePermissions || a.Confidence != PermissionsConfidence {
			t.Errorf("assertion = %+v, want permissions at %d", a, PermissionsConfidence)
		}
		if a.RepositoryID != testRepo.ID {
			t.Errorf("RepositoryID = %d, want %d", a.RepositoryID, testRepo.ID)
		}
		if !a.LastSeenAt.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
			t.Errorf("LastSeenAt = %v", a.LastSeenAt)
		}
	}
	got := assertionsBySource(store.assertions)[models.SourcePermissions]
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("permission users = %v, want [1 2]", got)
	}
}

func TestRefreshCodeownersFirstPathWins(t *testing.T) {
	src := &fakeSource{files: map[string]string{
		"CODEOWNERS":      "* @alice\n",
		"docs/CODEOWNERS": "* @bob\n",
	}}
	store := newFakeStore()
	store.users["alice"] = 1
	store.users["bob"] = 2

	if _, err := newTestAggregator(src, store, nil).Refresh(context.Background(), testRepo); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	got := assertionsBySource(store.assertions)[models.SourceCodeowners]
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("codeowners users = %v, want [1]", got)
	}
	for _, path := range src.requested {
		if path == "docs/CODEOWNERS" {
			t.Error("docs/CODEOWNERS read after CODEOWNERS was found")
		}
	}
	for _, a := range store.assertions {
		if a.Source == models.SourceCodeowners && a.Confidence != CodeownersConfidence {
			t.Errorf("confidence = %d, want %d", a.Confidence, CodeownersConfidence)
		}
	}
}

func TestRefreshResolvesUnknownLogins(t *testing.T) {
	src := &fakeSource{files: map[string]string{
		".github/CODEOWNERS": "* @alice @ghost 55+nora@users.noreply.github.com\n",
	}}
	store := newFakeStore()
	profiles := &fakeProfiles{profiles: map[string]*api.Profile{
		"alice": {ID: 1, Login: "alice"},
	}}

	n, err := newTestAggregator(src, store, profiles).Refresh(context.Background(), testRepo)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Refresh() = %d, want 2 (alice and nora)", n)
	}
	got := assertionsBySource(store.assertions)[models.SourceCodeowners]
	if len(got) != 2 || got[0] != 1 || got[1] != 55 {
		t.Errorf("codeowners users = %v, want [1 55]", got)
	}
	// ghost and alice need a lookup; the noreply address carries an id
	if profiles.lookups != 2 {
		t.Errorf("lookups = %d, want 2", profiles.lookups)
	}
	if id, ok := store.users["alice"]; !ok || id != 1 {
		t.Error("resolved user alice was not saved")
	}
}

func TestRefreshPackageMetadata(t *testing.T) {
	src := &fakeSource{files: map[string]string{
		"package.json": `{"maintainers": [{"name": "Pat", "github": "pat", "id": 7}]}`,
	}}
	store := newFakeStore()

	if _, err := newTestAggregator(src, store, nil).Refresh(context.Background(), testRepo); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(store.assertions) != 1 {
		t.Fatalf("assertions = %+v, want 1", store.assertions)
	}
	a := store.assertions[0]
	if a.Source != models.SourcePackageMetadata || a.UserID != 7 || a.Confidence != PackageConfidence {
		t.Errorf("assertion = %+v", a)
	}
}

func TestRefreshDetectorFailuresAreIndependent(t *testing.T) {
	src := &fakeSource{
		collabErr: errors.New("forbidden"),
		files: map[string]string{
			"CODEOWNERS":   "* @alice\n",
			"package.json": `{not json`,
		},
		fileErrs: map[string]error{".github/CODEOWNERS": notFound()},
	}
	store := newFakeStore()
	store.users["alice"] = 1

	n, err := newTestAggregator(src, store, nil).Refresh(context.Background(), testRepo)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Refresh() = %d, want 1", n)
	}
}

func TestRefreshCodeownersErrorStopsPathSearch(t *testing.T) {
	src := &fakeSource{
		files:    map[string]string{"CODEOWNERS": "* @alice\n"},
		fileErrs: map[string]error{".github/CODEOWNERS": errors.New("server error")},
	}
	store := newFakeStore()
	store.users["alice"] = 1

	if _, err := newTestAggregator(src, store, nil).Refresh(context.Background(), testRepo); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := assertionsBySource(store.assertions)[models.SourceCodeowners]; len(got) != 0 {
		t.Errorf("codeowners users = %v, want none after a non-404 error", got)
	}
}

func TestRefreshStoreFailure(t *testing.T) {
	src := &fakeSource{collaborators: []*models.Collaborator{
		{User: models.User{ID: 1, Login: "alice"}, Permission: "admin"},
	}}
	store := newFakeStore()
	store.saveErr = errors.New("disk full")

	if _, err := newTestAggregator(src, store, nil).Refresh(context.Background(), testRepo); err == nil {
		t.Error("Refresh() error = nil, want store error")
	}
}
