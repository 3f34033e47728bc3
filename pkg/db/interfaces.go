package db

import (
	"context"

	"github.com/airtimehq/airtime/pkg/db/models"
)

// LedgerStore exposes the ledger operations used by the tracker, the sweep
// and the query API.
type LedgerStore interface {
	GetLedger(ctx context.Context, communityID, subjectID string) (*models.Ledger, error)
	UpsertLedger(ctx context.Context, l *models.Ledger) error
	ListLedgers(ctx context.Context, communityID string) ([]models.Ledger, error)
	ListActiveLedgers(ctx context.Context, communityID string) ([]models.Ledger, error)
	ListCommunities(ctx context.Context) ([]string, error)
	DeleteLedger(ctx context.Context, communityID, subjectID string) error
}

// ConfigStore exposes the per-community reward configuration operations.
type ConfigStore interface {
	GetRewardConfig(ctx context.Context, communityID string) (*models.RewardConfig, error)
	UpsertRewardConfig(ctx context.Context, cfg *models.RewardConfig) error
}

// Store is the combined persistence surface.
type Store interface {
	LedgerStore
	ConfigStore
}
