package models

// ReferrerCount is a single row of the referrers leaderboard
type ReferrerCount struct {
	ReferrerID int64  `db:"referrer_id"`
	Username   string `db:"username"`
	FirstName  string `db:"first_name"`
	Count      int    `db:"cnt"`
}

// Stats aggregates users and referrals
type Stats struct {
	TotalUsers          int
	TotalReferrals      int
	ReferralsByBank     map[string]int
	ReferralsByReferrer map[int64]int
	TopReferrers        []ReferrerCount
	// RewardsByStatus always holds every status of RewardStatuses
	RewardsByStatus     map[string]int
}
