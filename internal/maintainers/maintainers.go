// Package maintainers collects evidence of who maintains a repository.
//
// Three detectors run independently: repository permissions, CODEOWNERS
// and package metadata. Each one writes its own assertion rows, so a user
// named by several sources carries several assertions. Failures in one
// detector are logged and never stop the others.
package maintainers

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/wesm/argh/internal/api"
	"github.com/wesm/argh/internal/logging"
	"github.com/wesm/argh/internal/models"
)

// Confidence per source
const (
	PermissionsConfidence = 100
	CodeownersConfidence  = 90
	PackageConfidence     = 100
)

// CodeownersPaths are tried in order; the first file found is used
var CodeownersPaths = []string{".github/CODEOWNERS", "CODEOWNERS", "docs/CODEOWNERS"}

// PackageMetadataPath is the package metadata file read for maintainers
const PackageMetadataPath = "package.json"

// Source is the upstream data the detectors read
type Source interface {
	Collaborators(ctx context.Context, owner, name string) iter.Seq2[[]*models.Collaborator, error]
	FileContent(ctx context.Context, owner, name, path string) ([]byte, error)
}

// Store persists assertions and known users
type Store interface {
	SaveMaintainerAssertion(ctx context.Context, a models.MaintainerAssertion) error
	SaveUser(ctx context.Context, user *models.User) error
	UserIDByLogin(ctx context.Context, login string) (int64, bool, error)
}

// Profiles looks up accounts the store has never seen
type Profiles interface {
	LookupUser(ctx context.Context, login string) (*api.Profile, error)
}

// Aggregator runs the detectors for repositories
type Aggregator struct {
	source   Source
	store    Store
	profiles Profiles
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an aggregator. profiles may be nil, in which case only
// logins already in the store resolve.
func New(source Source, store Store, profiles Profiles, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		source:   source,
		store:    store,
		profiles: profiles,
		logger:   logging.OrDefault(logger),
		now:      time.Now,
	}
}

// Refresh re-runs every detector for a repository and returns how many
// assertions were written. Only store failures are returned.
func (a *Aggregator) Refresh(ctx context.Context, repo *models.Repository) (int, error) {
	logger := a.logger.With("repo", repo.FullName)
	seen := a.now()
	written := 0

	detectors := []struct {
		source     models.MaintainerSource
		confidence int
		detect     func(context.Context, *models.Repository) ([]Owner, error)
	}{
		{models.SourcePermissions, PermissionsConfidence, a.permissionOwners},
		{models.SourceCodeowners, CodeownersConfidence, a.codeowners},
		{models.SourcePackageMetadata, PackageConfidence, a.packageOwners},
	}

	for _, d := range detectors {
		owners, err := d.detect(ctx, repo)
		if err != nil {
			logger.Warn("maintainer detector failed", "source", d.source, "error", err)
			continue
		}
		for _, o := range owners {
			userID, ok := a.resolve(ctx, o, logger)
			if !ok {
				continue
			}
			err := a.store.SaveMaintainerAssertion(ctx, models.MaintainerAssertion{
				RepositoryID: repo.ID,
				UserID:       userID,
				Source:       d.source,
				Confidence:   d.confidence,
				LastSeenAt:   seen,
			})
			if err != nil {
				return written, err
			}
			written++
		}
	}

	logger.Debug("maintainer assertions refreshed", "count", written)
	return written, nil
}

// resolve maps an owner to a user id. Unknown logins are skipped.
func (a *Aggregator) resolve(ctx context.Context, o Owner, logger *slog.Logger) (int64, bool) {
	if o.ID != 0 {
		return o.ID, true
	}
	id, ok, err := a.store.UserIDByLogin(ctx, o.Login)
	if err != nil {
		logger.Warn("failed to look up login", "login", o.Login, "error", err)
		return 0, false
	}
	if ok {
		return id, true
	}
	if a.profiles == nil {
		return 0, false
	}

	profile, err := a.profiles.LookupUser(ctx, o.Login)
	if errors.Is(err, api.ErrUserNotFound) {
		return 0, false
	}
	if err != nil {
		logger.Warn("failed to resolve login", "login", o.Login, "error", err)
		return 0, false
	}
	if err := a.store.SaveUser(ctx, &models.User{ID: profile.ID, Login: profile.Login}); err != nil {
		logger.Warn("failed to save resolved user", "login", o.Login, "error", err)
	}
	return profile.ID, true
}

func (a *Aggregator) permissionOwners(ctx context.Context, repo *models.Repository) ([]Owner, error) {
	var owners []Owner
	for batch, err := range a.source.Collaborators(ctx, repo.Owner, repo.Name) {
		if err != nil {
			return nil, err
		}
		for _, c := range batch {
			if c.Permission != "admin" && c.Permission != "maintain" {
				continue
			}
			if err := a.store.SaveUser(ctx, &c.User); err != nil {
				return nil, err
			}
			owners = append(owners, Owner{Login: c.User.Login, ID: c.User.ID})
		}
	}
	return owners, nil
}

func (a *Aggregator) codeowners(ctx context.Context, repo *models.Repository) ([]Owner, error) {
	for _, path := range CodeownersPaths {
		data, err := a.source.FileContent(ctx, repo.Owner, repo.Name, path)
		if api.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return ParseCodeowners(data), nil
	}
	return nil, nil
}

func (a *Aggregator) packageOwners(ctx context.Context, repo *models.Repository) ([]Owner, error) {
	data, err := a.source.FileContent(ctx, repo.Owner, repo.Name, PackageMetadataPath)
	if api.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	owners, err := ParsePackageMaintainers(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", PackageMetadataPath, err)
	}
	return owners, nil
}
