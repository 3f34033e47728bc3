package query

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/airtimehq/airtime/app/query/types"
	"github.com/airtimehq/airtime/pkg/db"
	"github.com/airtimehq/airtime/pkg/gateway"
	"github.com/airtimehq/airtime/pkg/logging"
	"github.com/airtimehq/airtime/pkg/notify"
	"github.com/airtimehq/airtime/pkg/reconcile"
	"github.com/airtimehq/airtime/pkg/redis"
	"github.com/airtimehq/airtime/pkg/session"
	"github.com/airtimehq/airtime/pkg/utils"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
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

	// Initialize Redis client for real-time WebSocket events (optional)
	var redisClient *redis.Client
	if utils.Env("REDIS_ENABLED", "true") == "true" {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - WebSocket real-time events will be disabled",
				zap.Error(err))
			redisClient = nil
		} else {
			logger.Info("Redis client initialized for WebSocket real-time events")
		}
	} else {
		logger.Info("Redis disabled - WebSocket real-time events will not be available")
	}

	tracker := session.NewTracker(database, logger)

	gatewayClient := gateway.NewFromEnv()
	reconciler := &reconcile.Reconciler{
		Store:       database,
		Tracker:     tracker,
		Gateway:     gatewayClient,
		Roles:       gatewayClient,
		Logger:      logger,
		MaxParallel: utils.EnvInt("SWEEP_MAX_PARALLEL", 8),
	}
	if redisClient != nil {
		reconciler.Notifier = notify.NewRedisNotifier(redisClient, logger)
	}

	app := &types.App{
		DB:               database,
		RedisClient:      redisClient,
		Tracker:          tracker,
		Reconciler:       reconciler,
		CronSpec:         utils.Env("LEADERBOARD_CRON", "*/30 * * * * *"),
		LeaderboardCache: types.NewLeaderboardCache(),
		Logger:           logger,
	}

	if err := SetupScheduler(ctx, app); err != nil {
		logger.Fatal("Unable to set up leaderboard scheduler", zap.Error(err))
	}

	return app
}

// SetupScheduler wires the cron job that recomputes cached leaderboards.
func SetupScheduler(ctx context.Context, app *types.App) error {
	// Seconds field, optional
	app.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	_, err := app.Cron.AddFunc(app.CronSpec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, 25*time.Second)
		defer cancel()
		types.RefreshLeaderboards(rctx, app)
	})
	return err
}
