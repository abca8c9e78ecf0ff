// Package turn derives whose move it is on an open work item.
//
// The state is never stored. It is recomputed from the item's author and
// creation time, its comments, and the repository's maintainers every time
// it is read, so a new comment is reflected immediately.
package turn

import (
	"time"

	"github.com/wesm/argh/internal/models"
)

// DefaultStallInterval is how long an item may wait on a maintainer before
// it counts as stalled
const DefaultStallInterval = 14 * 24 * time.Hour

// Turn names the party expected to act next
type Turn string

const (
	Maintainer Turn = "maintainer"
	Author     Turn = "author"
)

// Input is everything the turn of one item depends on. Who authored the
// item does not matter; a reply by the author and one by any other
// non-maintainer both hand the item back to the maintainers.
type Input struct {
	CreatedAt time.Time
	Comments  []*models.Comment
	// Maintainers holds the ids of the repository's maintainers
	Maintainers map[int64]bool
}

// State is the derived turn state of an item
type State struct {
	Turn                   Turn      `json:"turn"`
	LastMaintainerActionAt time.Time `json:"last_maintainer_action_at"`
	Stalled                bool      `json:"stalled"`
}

// Resolve computes the turn state at now. It is a pure function of its
// arguments.
func Resolve(in Input, now time.Time, stallInterval time.Duration) State {
	if stallInterval <= 0 {
		stallInterval = DefaultStallInterval
	}

	var latest, latestMaintainer *models.Comment
	for _, c := range in.Comments {
		if c == nil {
			continue
		}
		if later(c, latest) {
			latest = c
		}
		if in.isMaintainer(c.Author) && later(c, latestMaintainer) {
			latestMaintainer = c
		}
	}

	state := State{Turn: Maintainer, LastMaintainerActionAt: in.CreatedAt.UTC()}
	if latestMaintainer != nil {
		state.LastMaintainerActionAt = latestMaintainer.CreatedAt.UTC()

		// A reply from the item's author or from anyone else hands the
		// item back to the maintainers.
		if in.isMaintainer(latest.Author) {
			state.Turn = Author
		}
	}

	state.Stalled = state.Turn == Maintainer && now.Sub(state.LastMaintainerActionAt) > stallInterval
	return state
}

// isMaintainer reports whether u is a human maintainer. Bots never count,
// even when they hold maintainer assertions.
func (in Input) isMaintainer(u *models.User) bool {
	if u == nil || u.ID == 0 || u.IsBot() {
		return false
	}
	return in.Maintainers[u.ID]
}

// later reports whether a is more recent than b. Comments created at the
// same instant are ordered by id.
func later(a, b *models.Comment) bool {
	if b == nil {
		return true
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
