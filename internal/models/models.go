package models

import (
	"strings"
	"time"
)

// ItemType distinguishes issues from pull requests. Issue and pull request
// ids come from different GitHub id spaces, so a work item is keyed by
// (type, id).
type ItemType string

const (
	ItemIssue       ItemType = "issue"
	ItemPullRequest ItemType = "pull_request"
)

// Valid reports whether t is a known item type
func (t ItemType) Valid() bool {
	return t == ItemIssue || t == ItemPullRequest
}

// Resource names a watermark-tracked resource of a repository
type Resource string

const (
	ResourceIssues       Resource = "issues"
	ResourcePullRequests Resource = "pull_requests"
)

// Repository represents a GitHub repository
type Repository struct {
	ID         int64
	Owner      string
	Name       string
	FullName   string
	Visibility string
	Private    bool
	Archived   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	PushedAt   *time.Time
}

// User represents a GitHub user or bot account
type User struct {
	ID        int64
	Login     string
	Type      string
	AvatarURL string
}

// IsBot reports whether the user is a bot account
func (u *User) IsBot() bool {
	if u == nil {
		return false
	}
	return IsBot(u.Login, u.Type)
}

// IsBot is the single bot predicate used by turn-state, maintainer marking and
// recommendation eligibility. An account is a bot when GitHub flags it as one
// or when its login contains "bot" in any case.
func IsBot(login, userType string) bool {
	if strings.EqualFold(userType, "Bot") {
		return true
	}
	return strings.Contains(strings.ToLower(login), "bot")
}

// Label represents a GitHub label
type Label struct {
	ID    int64
	Name  string
	Color string
}

// WorkItem is an issue or a pull request
type WorkItem struct {
	Type         ItemType
	ID           int64
	RepositoryID int64
	Number       int
	Title        string
	Body         string
	State        string
	Author       *User
	Labels       []Label
	Assignees    []User
	CommentCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClosedAt     *time.Time

	// Pull request fields
	Draft          bool
	Merged         bool
	MergedAt       *time.Time
	MergeableState string
	// File stats are nil when they could not be fetched; the store keeps the
	// previous values in that case.
	Additions    *int
	Deletions    *int
	ChangedFiles *int
}

// Ref returns the (type, id) key of the item
func (w *WorkItem) Ref() ItemRef {
	return ItemRef{Type: w.Type, ID: w.ID}
}

// IsOpen reports whether the item is open
func (w *WorkItem) IsOpen() bool {
	return strings.EqualFold(w.State, "open")
}

// AuthorID returns the author's id, or 0 when the author is unknown
func (w *WorkItem) AuthorID() int64 {
	if w.Author == nil {
		return 0
	}
	return w.Author.ID
}

// ItemRef identifies a work item
type ItemRef struct {
	Type ItemType `json:"type"`
	ID   int64    `json:"id"`
}

// Comment represents an issue or pull request conversation comment
type Comment struct {
	ID        int64
	ItemType  ItemType
	ItemID    int64
	Author    *User
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Review represents a pull request review
type Review struct {
	ID            int64
	PullRequestID int64
	Reviewer      *User
	State         string
	Body          string
	SubmittedAt   *time.Time
}

// Reaction represents one user's reaction on a work item
type Reaction struct {
	ItemType ItemType
	ItemID   int64
	User     *User
	Content  string
}

// reactionKinds is the allow-list of stored reaction kinds
var reactionKinds = map[string]bool{
	"+1":       true,
	"-1":       true,
	"laugh":    true,
	"hooray":   true,
	"confused": true,
	"heart":    true,
	"rocket":   true,
	"eyes":     true,
}

// IsAllowedReaction reports whether content is a reaction kind we store
func IsAllowedReaction(content string) bool {
	return reactionKinds[content]
}

// FileStats summarizes the diff of a pull request
type FileStats struct {
	Additions    int
	Deletions    int
	ChangedFiles int
}

// MaintainerSource names the evidence behind a maintainer assertion
type MaintainerSource string

const (
	SourcePermissions     MaintainerSource = "permissions"
	SourceCodeowners      MaintainerSource = "codeowners"
	SourcePackageMetadata MaintainerSource = "package_metadata"
)

// MaintainerAssertion is one source's claim that a user maintains a repository
type MaintainerAssertion struct {
	RepositoryID int64
	UserID       int64
	Source       MaintainerSource
	Confidence   int
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
}

// Preferences are a user's recommendation toggles
type Preferences struct {
	PreferKnownCustomers bool `json:"prefer_known_customers"`
	PreferRecentActivity bool `json:"prefer_recent_activity"`
	PreferWaitingOnMe    bool `json:"prefer_waiting_on_me"`
	PreferQuickWins      bool `json:"prefer_quick_wins"`
	StarredOnly          bool `json:"starred_only"`
}

// PreferencesPatch is a partial preference update; nil fields are left as they are
type PreferencesPatch struct {
	PreferKnownCustomers *bool `json:"prefer_known_customers,omitempty"`
	PreferRecentActivity *bool `json:"prefer_recent_activity,omitempty"`
	PreferWaitingOnMe    *bool `json:"prefer_waiting_on_me,omitempty"`
	PreferQuickWins      *bool `json:"prefer_quick_wins,omitempty"`
	StarredOnly          *bool `json:"starred_only,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p PreferencesPatch) Empty() bool {
	return p.PreferKnownCustomers == nil && p.PreferRecentActivity == nil &&
		p.PreferWaitingOnMe == nil && p.PreferQuickWins == nil && p.StarredOnly == nil
}

// Apply returns prefs with the patch's set fields applied
func (p PreferencesPatch) Apply(prefs Preferences) Preferences {
	if p.PreferKnownCustomers != nil {
		prefs.PreferKnownCustomers = *p.PreferKnownCustomers
	}
	if p.PreferRecentActivity != nil {
		prefs.PreferRecentActivity = *p.PreferRecentActivity
	}
	if p.PreferWaitingOnMe != nil {
		prefs.PreferWaitingOnMe = *p.PreferWaitingOnMe
	}
	if p.PreferQuickWins != nil {
		prefs.PreferQuickWins = *p.PreferQuickWins
	}
	if p.StarredOnly != nil {
		prefs.StarredOnly = *p.StarredOnly
	}
	return prefs
}

// SyncWatermark records the last successful sync of one repository resource
type SyncWatermark struct {
	RepositoryID int64
	Resource     Resource
	LastSyncedAt time.Time
}

// Collaborator is a repository collaborator with their strongest permission
type Collaborator struct {
	User       User
	Permission string
}
