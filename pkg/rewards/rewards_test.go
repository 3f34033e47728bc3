package rewards

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airtimehq/airtime/pkg/db/models"
)

func ladder() []Tier {
	return []Tier{
		{ThresholdMinutes: 60, Role: "role-bronze", Name: "Bronze"},
		{ThresholdMinutes: 300, Role: "role-silver", Name: "Silver"},
		{ThresholdMinutes: 600, Role: "role-gold", Name: "Gold"},
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		effective   uint64
		expectGrant string
		expectDrop  []string
	}{
		{
			name:        "below every threshold",
			effective:   59,
			expectGrant: "",
			expectDrop:  []string{"role-bronze", "role-silver", "role-gold"},
		},
		{
			name:        "exactly at first threshold",
			effective:   60,
			expectGrant: "role-bronze",
			expectDrop:  []string{"role-silver", "role-gold"},
		},
		{
			name:        "between tiers holds the lower",
			effective:   120,
			expectGrant: "role-bronze",
			expectDrop:  []string{"role-silver", "role-gold"},
		},
		{
			name:        "middle tier",
			effective:   400,
			expectGrant: "role-silver",
			expectDrop:  []string{"role-bronze", "role-gold"},
		},
		{
			name:        "above every threshold holds only the top",
			effective:   10000,
			expectGrant: "role-gold",
			expectDrop:  []string{"role-bronze", "role-silver"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Resolve(tt.effective, ladder())

			if tt.expectGrant == "" {
				assert.Nil(t, res.Grant)
			} else {
				require.NotNil(t, res.Grant)
				assert.Equal(t, tt.expectGrant, res.Grant.Role)
			}

			var dropped []string
			for _, tier := range res.Revoke {
				dropped = append(dropped, tier.Role)
			}
			assert.ElementsMatch(t, tt.expectDrop, dropped)
		})
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	first := Resolve(400, ladder())
	second := Resolve(400, ladder())
	assert.Equal(t, first, second)
}

func TestResolveNoTiers(t *testing.T) {
	res := Resolve(1000, nil)
	assert.Nil(t, res.Grant)
	assert.Empty(t, res.Revoke)
}

func TestFromModel(t *testing.T) {
	t.Run("nil row yields permissive default", func(t *testing.T) {
		cfg, err := FromModel("community-1", nil)
		require.NoError(t, err)
		assert.Equal(t, "community-1", cfg.CommunityID)
		assert.Empty(t, cfg.Tiers)
		assert.Empty(t, cfg.AllowedChannels)
	})

	t.Run("valid row sorts tiers", func(t *testing.T) {
		cfg, err := FromModel("community-1", &models.RewardConfig{
			CommunityID: "community-1",
			TierMinutes: []uint64{300, 60},
			TierRoles:   []string{"role-silver", "role-bronze"},
			TierNames:   []string{"Silver", "Bronze"},
		})
		require.NoError(t, err)
		require.Len(t, cfg.Tiers, 2)
		assert.Equal(t, uint64(60), cfg.Tiers[0].ThresholdMinutes)
		assert.Equal(t, uint64(300), cfg.Tiers[1].ThresholdMinutes)
	})

	t.Run("mismatched array lengths", func(t *testing.T) {
		_, err := FromModel("community-1", &models.RewardConfig{
			TierMinutes: []uint64{60, 300},
			TierRoles:   []string{"role-bronze"},
			TierNames:   []string{"Bronze", "Silver"},
		})
		assert.Error(t, err)
	})

	t.Run("duplicate thresholds", func(t *testing.T) {
		_, err := FromModel("community-1", &models.RewardConfig{
			TierMinutes: []uint64{60, 60},
			TierRoles:   []string{"role-a", "role-b"},
			TierNames:   []string{"A", "B"},
		})
		assert.Error(t, err)
	})

	t.Run("missing role", func(t *testing.T) {
		_, err := FromModel("community-1", &models.RewardConfig{
			TierMinutes: []uint64{60},
			TierRoles:   []string{""},
			TierNames:   []string{"Bronze"},
		})
		assert.Error(t, err)
	})

	t.Run("allowed channels deduplicated", func(t *testing.T) {
		cfg, err := FromModel("community-1", &models.RewardConfig{
			AllowedChannels: []string{"ch-1", "ch-1", " ch-2 "},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"ch-1", "ch-2"}, cfg.AllowedChannels)
	})
}

func TestConfigRoundTrip(t *testing.T) {
	cfg := Config{
		CommunityID:     "community-1",
		Tiers:           ladder(),
		AllowedChannels: []string{"ch-1"},
	}

	back, err := FromModel("community-1", cfg.ToModel())
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}
