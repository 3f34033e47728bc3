package types

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/airtimehq/airtime/pkg/ranks"
	"github.com/airtimehq/airtime/pkg/session"
)

// Leaderboard scopes.
const (
	ScopeAllTime = "alltime"
	ScopeMonthly = "monthly"
)

// ComputeLeaderboard builds the standing for one community and scope from
// live ledger state and stores it in the cache.
func (a *App) ComputeLeaderboard(ctx context.Context, communityID, scope string) (CachedLeaderboard, error) {
	if scope != ScopeAllTime && scope != ScopeMonthly {
		return CachedLeaderboard{}, fmt.Errorf("unknown leaderboard scope %q", scope)
	}

	ledgers, err := a.DB.ListLedgers(ctx, communityID)
	if err != nil {
		return CachedLeaderboard{}, err
	}

	now := time.Now().UTC()
	entries := make([]LeaderboardEntry, 0, len(ledgers))
	for i := range ledgers {
		l := &ledgers[i]

		var effective uint64
		if scope == ScopeMonthly {
			effective = session.EffectiveMonthlyMinutes(l, now)
		} else {
			effective = session.EffectiveMinutes(l, now)
		}

		entry := LeaderboardEntry{
			SubjectID:        l.SubjectID,
			DisplayName:      l.DisplayName,
			AvatarRef:        l.AvatarRef,
			EffectiveMinutes: effective,
			Active:           l.IsActive(),
		}
		// Ranks always track lifetime minutes, even on the monthly board.
		if res, ok := ranks.Resolve(ranks.Table, session.EffectiveMinutes(l, now), ""); ok {
			entry.Rank = res.Current.Name
			entry.RankColor = res.Current.Color
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].EffectiveMinutes > entries[j].EffectiveMinutes
	})
	for i := range entries {
		entries[i].Position = i + 1
	}

	board := CachedLeaderboard{Entries: entries, FetchedAt: now}
	a.LeaderboardCache.Store(LeaderboardCacheKey(communityID, scope), board)
	return board, nil
}

// RefreshLeaderboards recomputes every cached standing. Only keys someone
// has asked for get refreshed; untouched communities cost nothing.
func RefreshLeaderboards(ctx context.Context, a *App) {
	a.LeaderboardCache.Range(func(key string, _ CachedLeaderboard) bool {
		communityID, scope, ok := splitCacheKey(key)
		if !ok {
			a.LeaderboardCache.Delete(key)
			return true
		}
		if _, err := a.ComputeLeaderboard(ctx, communityID, scope); err != nil {
			a.Logger.Warn("Leaderboard refresh failed",
				zap.String("community_id", communityID),
				zap.String("scope", scope),
				zap.Error(err))
		}
		return true
	})
}

func splitCacheKey(key string) (communityID, scope string, ok bool) {
	idx := strings.LastIndex(key, "|")
	if idx <= 0 || idx == len(key)-1 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}
