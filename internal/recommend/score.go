package recommend

import (
	"sort"
	"time"

	"github.com/wesm/argh/internal/models"
)

// Signals are the per-item, per-user facts scoring is computed from
type Signals struct {
	WaitingOnMe          bool      `json:"waiting_on_me"`
	KnownCustomerAuthor  bool      `json:"is_known_customer_author"`
	AuthorIsMaintainer   bool      `json:"author_is_maintainer"`
	MaintainedOrStarred  bool      `json:"is_repo_maintained_or_starred"`
	QuickWin             bool      `json:"quick_win"`
	ReactionScore        int       `json:"reaction_score"`
	UniqueCommenterCount int       `json:"unique_commenter_count"`
	LastActivityAt       time.Time `json:"last_activity_at"`
}

// Reason names one explanation contribution
type Reason string

const (
	ReasonWaitingOnMe       Reason = "Waiting on you"
	ReasonKnownCustomer     Reason = "Known customer"
	ReasonRecentActivity    Reason = "Recent activity"
	ReasonQuickWin          Reason = "Quick win"
	ReasonCommunityInterest Reason = "Community interest"
	ReasonAvailable         Reason = "Available"
)

// Contribution is the part of the total score one reason accounts for
type Contribution struct {
	Reason Reason `json:"reason"`
	Points int    `json:"points"`
}

// Breakdown is the complete scoring of one item
type Breakdown struct {
	Base    int `json:"base"`
	Boost   int `json:"boost"`
	Penalty int `json:"penalty"`
	Total   int `json:"total"`
	// Contributions are in fixed reason order and sum to Total + Penalty
	Contributions []Contribution `json:"contributions"`
}

// Score computes the base score, the preference boost and the per-reason
// contributions of an item. All terms are additive integers.
func Score(s Signals, prefs models.Preferences, w Weights, now time.Time) Breakdown {
	age := now.Sub(s.LastActivityAt)

	var waiting, customer, recent, quick, community int
	var base, boost int

	if s.WaitingOnMe {
		waiting += w.WaitingOnMe
		base += w.WaitingOnMe
	}
	tier := recencyTier(age, w)
	recent += tier
	base += tier
	interest := w.PerCommenter*s.UniqueCommenterCount + w.PerReaction*s.ReactionScore
	community += interest
	base += interest

	penalty := 0
	if !s.MaintainedOrStarred {
		penalty = w.NotMaintainedPenalty
	}
	base -= penalty

	if prefs.PreferWaitingOnMe && s.WaitingOnMe {
		waiting += w.BoostWaitingOnMe
		boost += w.BoostWaitingOnMe
	}
	if prefs.PreferKnownCustomers && s.KnownCustomerAuthor && !s.AuthorIsMaintainer {
		customer += w.BoostKnownCustomer
		boost += w.BoostKnownCustomer
	}
	if prefs.PreferRecentActivity {
		b := boostRecencyTier(age, w)
		recent += b
		boost += b
	}
	if prefs.PreferQuickWins && s.QuickWin {
		quick += w.BoostQuickWin
		boost += w.BoostQuickWin
	}

	return Breakdown{
		Base:    base,
		Boost:   boost,
		Penalty: penalty,
		Total:   base + boost,
		Contributions: []Contribution{
			{ReasonWaitingOnMe, waiting},
			{ReasonKnownCustomer, customer},
			{ReasonRecentActivity, recent},
			{ReasonQuickWin, quick},
			{ReasonCommunityInterest, community},
		},
	}
}

func recencyTier(age time.Duration, w Weights) int {
	switch {
	case age < 24*time.Hour:
		return w.RecentDay
	case age < 3*24*time.Hour:
		return w.RecentThreeDays
	case age < 7*24*time.Hour:
		return w.RecentWeek
	default:
		return 0
	}
}

func boostRecencyTier(age time.Duration, w Weights) int {
	switch {
	case age < 24*time.Hour:
		return w.BoostRecentDay
	case age < 3*24*time.Hour:
		return w.BoostRecentThreeDays
	default:
		return 0
	}
}

// Explanation is the human-readable justification of a recommendation
type Explanation struct {
	Primary   Reason   `json:"primary"`
	Secondary []Reason `json:"secondary"`
}

// Explain ranks the contributions of a breakdown. The largest positive one
// is the primary reason, else "Available". Up to two more that reach
// SecondaryMinimum follow in descending order.
func Explain(b Breakdown, w Weights) Explanation {
	ranked := make([]Contribution, len(b.Contributions))
	copy(ranked, b.Contributions)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Points > ranked[j].Points })

	exp := Explanation{Primary: ReasonAvailable, Secondary: []Reason{}}
	if len(ranked) == 0 || ranked[0].Points <= 0 {
		return exp
	}
	exp.Primary = ranked[0].Reason
	for _, c := range ranked[1:] {
		if len(exp.Secondary) == 2 || c.Points <= 0 || c.Points < w.SecondaryMinimum {
			break
		}
		exp.Secondary = append(exp.Secondary, c.Reason)
	}
	return exp
}
