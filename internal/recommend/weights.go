package recommend

// Weights are the scoring coefficients. They are plain tuning constants and
// can be overridden from configuration.
type Weights struct {
	// Base score
	WaitingOnMe          int `json:"waiting_on_me" yaml:"waiting_on_me"`
	RecentDay            int `json:"recent_day" yaml:"recent_day"`
	RecentThreeDays      int `json:"recent_three_days" yaml:"recent_three_days"`
	RecentWeek           int `json:"recent_week" yaml:"recent_week"`
	PerCommenter         int `json:"per_commenter" yaml:"per_commenter"`
	PerReaction          int `json:"per_reaction" yaml:"per_reaction"`
	NotMaintainedPenalty int `json:"not_maintained_penalty" yaml:"not_maintained_penalty"`

	// Preference boosts, each applied only when its toggle is on
	BoostWaitingOnMe     int `json:"boost_waiting_on_me" yaml:"boost_waiting_on_me"`
	BoostKnownCustomer   int `json:"boost_known_customer" yaml:"boost_known_customer"`
	BoostRecentDay       int `json:"boost_recent_day" yaml:"boost_recent_day"`
	BoostRecentThreeDays int `json:"boost_recent_three_days" yaml:"boost_recent_three_days"`
	BoostQuickWin        int `json:"boost_quick_win" yaml:"boost_quick_win"`

	// Signal limits
	QuickWinMaxComments int `json:"quick_win_max_comments" yaml:"quick_win_max_comments"`
	MaxReactions        int `json:"max_reactions" yaml:"max_reactions"`
	MaxCommenters       int `json:"max_commenters" yaml:"max_commenters"`

	// SecondaryMinimum is the smallest contribution listed as a secondary reason
	SecondaryMinimum int `json:"secondary_minimum" yaml:"secondary_minimum"`
}

// DefaultWeights returns the stock coefficients
func DefaultWeights() Weights {
	return Weights{
		WaitingOnMe:          15,
		RecentDay:            15,
		RecentThreeDays:      10,
		RecentWeek:           5,
		PerCommenter:         3,
		PerReaction:          1,
		NotMaintainedPenalty: 20,

		BoostWaitingOnMe:     25,
		BoostKnownCustomer:   30,
		BoostRecentDay:       10,
		BoostRecentThreeDays: 5,
		BoostQuickWin:        15,

		QuickWinMaxComments: 2,
		MaxReactions:        10,
		MaxCommenters:       5,

		SecondaryMinimum: 5,
	}
}
