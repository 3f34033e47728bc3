package types

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// LeaderboardEntry is one row of a community standing.
type LeaderboardEntry struct {
	Position         int    `json:"position"`
	SubjectID        string `json:"subject_id"`
	DisplayName      string `json:"display_name"`
	AvatarRef        string `json:"avatar_ref"`
	EffectiveMinutes uint64 `json:"effective_minutes"`
	Rank             string `json:"rank"`
	RankColor        string `json:"rank_color"`
	Active           bool   `json:"active"`
}

// CachedLeaderboard is a precomputed standing with its computation time.
type CachedLeaderboard struct {
	Entries   []LeaderboardEntry `json:"entries"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// NewLeaderboardCache creates the cache map keyed by "<community>|<scope>".
func NewLeaderboardCache() *xsync.Map[string, CachedLeaderboard] {
	return xsync.NewMap[string, CachedLeaderboard]()
}

// LeaderboardCacheKey builds the cache key for one community and scope.
func LeaderboardCacheKey(communityID, scope string) string {
	return communityID + "|" + scope
}
