package turn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wesm/argh/internal/models"
)

// ErrNotOpen is returned for items that are no longer open
var ErrNotOpen = errors.New("work item is not open")

// Store is the read access the service needs
type Store interface {
	GetWorkItem(ctx context.Context, ref models.ItemRef) (*models.WorkItem, error)
	ListComments(ctx context.Context, ref models.ItemRef) ([]*models.Comment, error)
	Maintainers(ctx context.Context, repoID int64) (map[int64]bool, error)
}

// Service resolves turn state for stored items
type Service struct {
	store         Store
	stallInterval time.Duration
	now           func() time.Time
}

// NewService creates a turn service. A non-positive stall interval means
// DefaultStallInterval.
func NewService(store Store, stallInterval time.Duration) *Service {
	if stallInterval <= 0 {
		stallInterval = DefaultStallInterval
	}
	return &Service{store: store, stallInterval: stallInterval, now: time.Now}
}

// State returns the current turn state of an open item
func (s *Service) State(ctx context.Context, ref models.ItemRef) (State, error) {
	item, err := s.store.GetWorkItem(ctx, ref)
	if err != nil {
		return State{}, err
	}
	if !item.IsOpen() {
		return State{}, fmt.Errorf("%s %d: %w", ref.Type, ref.ID, ErrNotOpen)
	}

	comments, err := s.store.ListComments(ctx, ref)
	if err != nil {
		return State{}, err
	}
	maintainers, err := s.store.Maintainers(ctx, item.RepositoryID)
	if err != nil {
		return State{}, err
	}

	return Resolve(Input{
		CreatedAt:   item.CreatedAt,
		Comments:    comments,
		Maintainers: maintainers,
	}, s.now(), s.stallInterval), nil
}
