// Package tracker is the intake service: it consumes presence events from
// the Redis stream and drives the session state machine.
package tracker

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/airtimehq/airtime/pkg/db"
	"github.com/airtimehq/airtime/pkg/logging"
	"github.com/airtimehq/airtime/pkg/notify"
	"github.com/airtimehq/airtime/pkg/presence"
	"github.com/airtimehq/airtime/pkg/redis"
	"github.com/airtimehq/airtime/pkg/rewards"
	"github.com/airtimehq/airtime/pkg/session"
	"github.com/airtimehq/airtime/pkg/utils"
	"github.com/puzpuzpuz/xsync/v4"
)

// configTTL bounds how stale a cached community config may be on the hot
// path. The sweep re-reads fresh configs on its own schedule.
const configTTL = time.Minute

type cachedConfig struct {
	cfg       rewards.Config
	fetchedAt time.Time
}

type App struct {
	DB          *db.DB
	RedisClient *redis.Client
	Tracker     *session.Tracker
	Consumer    *redis.StreamConsumer
	Logger      *zap.Logger

	configs *xsync.Map[string, cachedConfig]
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	database, err := db.New(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to initialize database", zap.Error(err))
	}
	if err := database.InitializeTables(ctx); err != nil {
		logger.Fatal("Unable to initialize database tables", zap.Error(err))
	}

	redisClient, err := redis.NewClient(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to initialize Redis client", zap.Error(err))
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "tracker"
	}

	consumer, err := redis.NewStreamConsumer(redisClient, redis.StreamConsumerConfig{
		Stream:   redis.PresenceStream,
		Group:    utils.Env("PRESENCE_GROUP", "trackers"),
		Consumer: utils.Env("PRESENCE_CONSUMER", hostname),
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("Unable to initialize stream consumer", zap.Error(err))
	}

	tracker := session.NewTracker(database, logger,
		session.WithSignal(notify.NewTransitionPublisher(redisClient, logger)))

	return &App{
		DB:          database,
		RedisClient: redisClient,
		Tracker:     tracker,
		Consumer:    consumer,
		Logger:      logger,
		configs:     xsync.NewMap[string, cachedConfig](),
	}
}

// Start consumes the presence stream and blocks until the context is
// canceled.
func (a *App) Start(ctx context.Context) {
	if err := a.Consumer.Run(ctx, a.handleMessage); err != nil && ctx.Err() == nil {
		a.Logger.Fatal("Stream consumer failed", zap.Error(err))
	}
	a.Stop()
}

// Stop closes the application's connections.
func (a *App) Stop() {
	if err := a.RedisClient.Close(); err != nil {
		a.Logger.Error("Failed to close Redis connection", zap.Error(err))
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Error("Failed to close database connection", zap.Error(err))
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}

// handleMessage applies one presence stream entry to the session tracker.
// Malformed entries are acknowledged and dropped; redelivering them can
// never succeed.
func (a *App) handleMessage(ctx context.Context, msg redis.Message) error {
	ev, err := presence.ParseEvent(msg.Values)
	if err != nil {
		a.Logger.Warn("Dropping malformed presence event",
			zap.String("id", msg.ID),
			zap.Error(err))
		return nil
	}

	cfg, err := a.communityConfig(ctx, ev.CommunityID)
	if err != nil {
		return fmt.Errorf("load config for %s: %w", ev.CommunityID, err)
	}

	if _, err := a.Tracker.HandleEvent(ctx, ev, cfg.AllowedChannels); err != nil {
		return fmt.Errorf("apply presence event: %w", err)
	}
	return nil
}

// communityConfig returns the community's reward config, cached briefly so a
// busy channel doesn't hammer the config table.
func (a *App) communityConfig(ctx context.Context, communityID string) (rewards.Config, error) {
	if cached, ok := a.configs.Load(communityID); ok && time.Since(cached.fetchedAt) < configTTL {
		return cached.cfg, nil
	}

	row, err := a.DB.GetRewardConfig(ctx, communityID)
	if err != nil {
		return rewards.Config{}, err
	}
	cfg, err := rewards.FromModel(communityID, row)
	if err != nil {
		// A config that fails validation should not stall tracking; fall
		// back to the permissive default and let the sweep surface it.
		a.Logger.Error("Invalid reward config, using defaults",
			zap.String("community_id", communityID),
			zap.Error(err))
		cfg = rewards.Empty(communityID)
	}

	a.configs.Store(communityID, cachedConfig{cfg: cfg, fetchedAt: time.Now()})
	return cfg, nil
}
