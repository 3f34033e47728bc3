// Package rewards resolves accumulated activity minutes into exactly one
// external reward role per community. Resolution is a pure function of the
// effective minutes and the configured tier ladder; applying the resolution
// (grant/revoke calls) happens in pkg/reconcile.
package rewards

import (
	"fmt"
	"sort"

	"github.com/airtimehq/airtime/pkg/db/models"
	"github.com/airtimehq/airtime/pkg/utils"
)

// Tier is one reward threshold: reach ThresholdMinutes and Role becomes the
// subject's single held tier role.
type Tier struct {
	ThresholdMinutes uint64 `json:"threshold_minutes"`
	Role             string `json:"role"`
	Name             string `json:"name"`
}

// Config is the validated, typed form of a community's reward configuration.
// Tiers are ordered by ascending threshold; AllowedChannels is deduplicated.
type Config struct {
	CommunityID     string   `json:"community_id"`
	Tiers           []Tier   `json:"tiers"`
	AllowedChannels []string `json:"allowed_channels"`
}

// Empty returns the permissive default used when a community has never been
// configured: every channel eligible, no tiers to grant.
func Empty(communityID string) Config {
	return Config{CommunityID: communityID}
}

// FromModel converts a stored configuration row into a validated Config.
// A nil row yields the permissive default.
func FromModel(communityID string, m *models.RewardConfig) (Config, error) {
	if m == nil {
		return Empty(communityID), nil
	}

	if len(m.TierMinutes) != len(m.TierRoles) || len(m.TierMinutes) != len(m.TierNames) {
		return Config{}, fmt.Errorf("reward config for %s: tier arrays have mismatched lengths (%d/%d/%d)",
			communityID, len(m.TierMinutes), len(m.TierRoles), len(m.TierNames))
	}

	cfg := Config{
		CommunityID:     communityID,
		AllowedChannels: utils.Dedup(m.AllowedChannels),
	}
	for i := range m.TierMinutes {
		cfg.Tiers = append(cfg.Tiers, Tier{
			ThresholdMinutes: m.TierMinutes[i],
			Role:             m.TierRoles[i],
			Name:             m.TierNames[i],
		})
	}
	sort.Slice(cfg.Tiers, func(i, j int) bool {
		return cfg.Tiers[i].ThresholdMinutes < cfg.Tiers[j].ThresholdMinutes
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ToModel converts a Config back into its storage row.
func (c Config) ToModel() *models.RewardConfig {
	m := &models.RewardConfig{
		CommunityID:     c.CommunityID,
		AllowedChannels: utils.Dedup(c.AllowedChannels),
	}
	for _, t := range c.Tiers {
		m.TierMinutes = append(m.TierMinutes, t.ThresholdMinutes)
		m.TierRoles = append(m.TierRoles, t.Role)
		m.TierNames = append(m.TierNames, t.Name)
	}
	return m
}

// Validate checks the tier ladder: every tier names a role, and thresholds
// are strictly increasing (duplicates would make the held tier ambiguous).
func (c Config) Validate() error {
	for i, t := range c.Tiers {
		if t.Role == "" {
			return fmt.Errorf("reward config for %s: tier %d has no role", c.CommunityID, i)
		}
		if i > 0 && c.Tiers[i].ThresholdMinutes <= c.Tiers[i-1].ThresholdMinutes {
			return fmt.Errorf("reward config for %s: tier thresholds must be strictly increasing (%d then %d)",
				c.CommunityID, c.Tiers[i-1].ThresholdMinutes, c.Tiers[i].ThresholdMinutes)
		}
	}
	return nil
}

// RoleRefs returns every configured tier role.
func (c Config) RoleRefs() []string {
	out := make([]string, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		out = append(out, t.Role)
	}
	return out
}

// Resolution is the outcome of resolving effective minutes against the tier
// ladder: at most one tier to hold, and every other configured tier to revoke
// where currently held.
type Resolution struct {
	Grant  *Tier
	Revoke []Tier
}

// Resolve returns the single highest earned tier and the set of all other
// configured tiers. Idempotent: the same minutes and ladder always produce
// the same resolution. With no qualifying tier the grant is nil and every
// configured tier lands in the revoke set.
func Resolve(effectiveMinutes uint64, tiers []Tier) Resolution {
	var grant *Tier
	for i := range tiers {
		t := tiers[i]
		if t.ThresholdMinutes <= effectiveMinutes {
			if grant == nil || t.ThresholdMinutes > grant.ThresholdMinutes {
				grant = &tiers[i]
			}
		}
	}

	res := Resolution{Grant: grant}
	for _, t := range tiers {
		if grant != nil && t.Role == grant.Role {
			continue
		}
		res.Revoke = append(res.Revoke, t)
	}
	return res
}
