package models

import (
	"time"
)

const RewardConfigsTableName = "reward_configs"

// RewardConfigColumns defines the schema for the reward_configs table.
// Table: ReplacingMergeTree(updated_at) ORDER BY (community_id)
//
// Tiers are stored as parallel arrays; index i of each array describes one
// tier. Validation of ordering and shape happens in pkg/rewards on load.
var RewardConfigColumns = []ColumnDef{
	{Name: "community_id", Type: "String"},
	{Name: "tier_minutes", Type: "Array(UInt64)"},
	{Name: "tier_roles", Type: "Array(String)"},
	{Name: "tier_names", Type: "Array(String)"},
	{Name: "allowed_channels", Type: "Array(String)"},
	{Name: "created_at", Type: "DateTime"},
	{Name: "updated_at", Type: "DateTime"},
}

// RewardConfig is the per-community reward and channel configuration row.
type RewardConfig struct {
	CommunityID     string    `json:"community_id" ch:"community_id"`
	TierMinutes     []uint64  `json:"tier_minutes" ch:"tier_minutes"`
	TierRoles       []string  `json:"tier_roles" ch:"tier_roles"`
	TierNames       []string  `json:"tier_names" ch:"tier_names"`
	AllowedChannels []string  `json:"allowed_channels" ch:"allowed_channels"`
	CreatedAt       time.Time `json:"created_at" ch:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" ch:"updated_at"`
}
