package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/airtimehq/airtime/pkg/retry"
	"github.com/airtimehq/airtime/pkg/utils"
	"go.uber.org/zap"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Table engines used by the schema initializers.
const (
	MergeTree          = "MergeTree"
	ReplacingMergeTree = "ReplacingMergeTree"
)

// Client wraps a native-protocol ClickHouse connection pool.
type Client struct {
	Logger   *zap.Logger
	Db       driver.Conn
	Database string
}

// New opens a connection pool against the DSN in CLICKHOUSE_ADDR, creates the
// target database if it does not exist, and returns a client bound to it.
func New(ctx context.Context, logger *zap.Logger, dbName string) (*Client, error) {
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dsn := utils.Env("CLICKHOUSE_ADDR", "clickhouse://localhost:9000?sslmode=disable")
	options, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid clickhouse DSN: %w", err)
	}

	options.DialTimeout = 30 * time.Second
	options.MaxOpenConns = utils.EnvInt("CLICKHOUSE_MAX_OPEN_CONNS", 25)
	options.MaxIdleConns = utils.EnvInt("CLICKHOUSE_MAX_IDLE_CONNS", 10)
	options.ConnMaxLifetime = utils.EnvDuration("CLICKHOUSE_CONN_MAX_LIFETIME", time.Hour)
	options.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
	options.Settings = clickhouse.Settings{
		"prefer_column_name_to_alias": 1,
	}

	// Connect to the default database first; the target may not exist yet.
	options.Auth.Database = "default"

	if logger.Core().Enabled(zap.DebugLevel) {
		sugar := logger.Named("clickhouse.driver").Sugar()
		options.Debugf = sugar.Debugf
	}

	client := &Client{Logger: logger, Database: dbName}
	retryConfig := retry.DefaultConfig()

	err = retry.WithBackoff(connCtx, retryConfig, logger, "clickhouse_connection", func() error {
		conn, openErr := clickhouse.Open(options)
		if openErr != nil {
			return fmt.Errorf("failed to open clickhouse connection: %w", openErr)
		}
		if pingErr := conn.Ping(connCtx); pingErr != nil {
			return fmt.Errorf("failed to ping clickhouse: %w", pingErr)
		}
		if createErr := conn.Exec(connCtx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", dbName)); createErr != nil {
			return fmt.Errorf("failed to create database %s: %w", dbName, createErr)
		}
		_ = conn.Close()

		// Reconnect bound to the target database.
		bound := *options
		bound.Auth.Database = dbName
		conn, openErr = clickhouse.Open(&bound)
		if openErr != nil {
			return fmt.Errorf("failed to open clickhouse connection to %s: %w", dbName, openErr)
		}
		if pingErr := conn.Ping(connCtx); pingErr != nil {
			return fmt.Errorf("failed to ping clickhouse database %s: %w", dbName, pingErr)
		}

		client.Db = conn
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("ClickHouse connection pool ready",
		zap.String("database", dbName),
		zap.Int("max_open_conns", options.MaxOpenConns),
		zap.Int("max_idle_conns", options.MaxIdleConns))

	return client, nil
}

// Exec runs a statement without returning rows.
func (c *Client) Exec(ctx context.Context, query string, args ...any) error {
	return c.Db.Exec(ctx, query, args...)
}

// Select scans query results into dest (a pointer to a slice of structs with
// ch tags).
func (c *Client) Select(ctx context.Context, dest any, query string, args ...any) error {
	return c.Db.Select(ctx, dest, query, args...)
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if c.Db == nil {
		return nil
	}
	return c.Db.Close()
}
