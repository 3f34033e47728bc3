package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLeaderboardCacheKey(t *testing.T) {
	tests := []struct {
		name        string
		communityID string
		scope       string
	}{
		{name: "alltime scope", communityID: "guild-1", scope: ScopeAllTime},
		{name: "monthly scope", communityID: "guild-1", scope: ScopeMonthly},
		{name: "community id containing the separator", communityID: "guild|odd", scope: ScopeAllTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := LeaderboardCacheKey(tt.communityID, tt.scope)
			communityID, scope, ok := splitCacheKey(key)
			assert.True(t, ok)
			assert.Equal(t, tt.communityID, communityID)
			assert.Equal(t, tt.scope, scope)
		})
	}
}

func TestSplitCacheKeyRejectsMalformed(t *testing.T) {
	for _, key := range []string{"", "no-separator", "|scope", "community|"} {
		t.Run(key, func(t *testing.T) {
			_, _, ok := splitCacheKey(key)
			assert.False(t, ok)
		})
	}
}
