package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/airtimehq/airtime/pkg/db/clickhouse"
	"github.com/airtimehq/airtime/pkg/db/models"
	"github.com/airtimehq/airtime/pkg/utils"
)

// DB is the application database: the ledgers and reward_configs tables in a
// single ClickHouse database.
type DB struct {
	*clickhouse.Client
}

// New connects to ClickHouse (database name from AIRTIME_DB). Callers run
// InitializeTables before first use.
func New(ctx context.Context, logger *zap.Logger) (*DB, error) {
	dbName := utils.Env("AIRTIME_DB", "airtime")

	client, err := clickhouse.New(ctx, logger, dbName)
	if err != nil {
		return nil, err
	}
	return &DB{Client: client}, nil
}

// InitializeTables creates the ledgers and reward_configs tables if missing.
func (db *DB) InitializeTables(ctx context.Context) error {
	if err := db.initLedgers(ctx); err != nil {
		return err
	}
	return db.initRewardConfigs(ctx)
}

// initLedgers creates the ledger table.
// Table: ReplacingMergeTree(updated_at) ORDER BY (community_id, subject_id)
func (db *DB) initLedgers(ctx context.Context) error {
	schemaSQL := models.ColumnsToSchemaSQL(models.LedgerColumns)

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			%s
		) ENGINE = %s(updated_at)
		ORDER BY (community_id, subject_id)
	`, models.LedgersTableName, schemaSQL, clickhouse.ReplacingMergeTree)
	return db.Exec(ctx, query)
}

// initRewardConfigs creates the reward config table.
// Table: ReplacingMergeTree(updated_at) ORDER BY (community_id)
func (db *DB) initRewardConfigs(ctx context.Context) error {
	schemaSQL := models.ColumnsToSchemaSQL(models.RewardConfigColumns)

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			%s
		) ENGINE = %s(updated_at)
		ORDER BY (community_id)
	`, models.RewardConfigsTableName, schemaSQL, clickhouse.ReplacingMergeTree)
	return db.Exec(ctx, query)
}
