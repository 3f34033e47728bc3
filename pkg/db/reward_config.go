package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/airtimehq/airtime/pkg/db/models"
	"github.com/airtimehq/airtime/pkg/utils"
)

func rewardConfigColumnList() string {
	return strings.Join(models.ColumnsToNameList(models.RewardConfigColumns), ", ")
}

// GetRewardConfig returns the reward configuration for a community, or nil
// when none has been saved yet (all channels eligible, no tiers).
func (db *DB) GetRewardConfig(ctx context.Context, communityID string) (*models.RewardConfig, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s FINAL
		WHERE community_id = ?
		LIMIT 1
	`, rewardConfigColumnList(), models.RewardConfigsTableName)

	var rows []models.RewardConfig
	if err := db.Select(ctx, &rows, query, communityID); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// UpsertRewardConfig writes the community configuration.
func (db *DB) UpsertRewardConfig(ctx context.Context, cfg *models.RewardConfig) error {
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	cfg.AllowedChannels = utils.Dedup(cfg.AllowedChannels)

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, models.RewardConfigsTableName, rewardConfigColumnList())

	return db.Exec(ctx, query,
		cfg.CommunityID,
		cfg.TierMinutes,
		cfg.TierRoles,
		cfg.TierNames,
		cfg.AllowedChannels,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)
}
