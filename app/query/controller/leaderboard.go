package controller

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/airtimehq/airtime/app/query/types"
)

// leaderboardMaxAge is how stale a cached standing may be before a request
// recomputes it inline instead of waiting for the cron refresh.
const leaderboardMaxAge = time.Minute

// HandleLeaderboard returns the community standing, all-time by default or
// monthly with ?scope=monthly. ?limit=N truncates the response.
func (c *Controller) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	communityID := mux.Vars(r)["id"]

	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = types.ScopeAllTime
	}
	if scope != types.ScopeAllTime && scope != types.ScopeMonthly {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "scope must be alltime or monthly"})
		return
	}

	board, ok := c.App.LeaderboardCache.Load(types.LeaderboardCacheKey(communityID, scope))
	if !ok || time.Since(board.FetchedAt) > leaderboardMaxAge {
		fresh, err := c.App.ComputeLeaderboard(r.Context(), communityID, scope)
		if err != nil {
			c.App.Logger.Error("Leaderboard computation failed",
				zap.String("community_id", communityID),
				zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "leaderboard unavailable"})
			return
		}
		board = fresh
	}

	entries := board.Entries
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "limit must be a positive integer"})
			return
		}
		if limit < len(entries) {
			entries = entries[:limit]
		}
	}

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"community_id": communityID,
		"scope":        scope,
		"fetched_at":   board.FetchedAt,
		"entries":      entries,
	})
}
