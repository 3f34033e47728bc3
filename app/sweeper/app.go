// Package sweeper is the reconciliation worker: a Temporal worker hosting
// the sweep workflow plus the schedule that fires it.
package sweeper

import (
	"context"
	"time"

	"go.temporal.io/sdk/worker"
	sdkworkflow "go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/airtimehq/airtime/pkg/db"
	"github.com/airtimehq/airtime/pkg/gateway"
	"github.com/airtimehq/airtime/pkg/logging"
	"github.com/airtimehq/airtime/pkg/notify"
	"github.com/airtimehq/airtime/pkg/reconcile"
	"github.com/airtimehq/airtime/pkg/reconcile/activity"
	"github.com/airtimehq/airtime/pkg/reconcile/workflow"
	"github.com/airtimehq/airtime/pkg/redis"
	"github.com/airtimehq/airtime/pkg/session"
	"github.com/airtimehq/airtime/pkg/temporal"
	"github.com/airtimehq/airtime/pkg/utils"
)

type App struct {
	Worker         worker.Worker
	TemporalClient *temporal.Client
	DB             *db.DB
	RedisClient    *redis.Client
	Logger         *zap.Logger
}

// Start starts the worker and blocks until the context is canceled.
func (a *App) Start(ctx context.Context) {
	err := a.Worker.Start()
	if err != nil {
		a.Logger.Fatal("Unable to start worker", zap.Error(err))
	}
	<-ctx.Done()
	a.Stop()
}

// Stop stops the worker.
func (a *App) Stop() {
	a.Worker.Stop()
	a.TemporalClient.Close()
	if err := a.RedisClient.Close(); err != nil {
		a.Logger.Error("Failed to close Redis connection", zap.Error(err))
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Error("Failed to close database connection", zap.Error(err))
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
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

	retention := utils.EnvDuration("TEMPORAL_RETENTION", 72*time.Hour)
	if err := temporal.EnsureNamespace(ctx, logger, retention); err != nil {
		logger.Fatal("Unable to ensure Temporal namespace", zap.Error(err))
	}

	temporalClient, err := temporal.NewClient(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to establish temporal connection", zap.Error(err))
	}

	gatewayClient := gateway.NewFromEnv()

	reconciler := &reconcile.Reconciler{
		Store:       database,
		Tracker:     session.NewTracker(database, logger),
		Gateway:     gatewayClient,
		Roles:       gatewayClient,
		Notifier:    notify.NewRedisNotifier(redisClient, logger),
		Logger:      logger,
		MaxParallel: utils.EnvInt("SWEEP_MAX_PARALLEL", 8),
	}

	activityContext := &activity.Context{
		Logger:         logger,
		Reconciler:     reconciler,
		TemporalClient: temporalClient,
	}
	workflowContext := workflow.Context{
		ActivityContext: activityContext,
	}

	wkr := worker.New(
		temporalClient.TClient,
		temporalClient.SweepQueue,
		worker.Options{},
	)

	// Register the workflow under its schedule-facing name
	wkr.RegisterWorkflowWithOptions(workflowContext.SweepWorkflow,
		sdkworkflow.RegisterOptions{Name: workflow.SweepWorkflowName})
	// Register all the activities
	wkr.RegisterActivity(activityContext.SweepAllCommunities)

	interval := utils.EnvDuration("SWEEP_INTERVAL", reconcile.SweepInterval)
	if err := temporalClient.EnsureSweepSchedule(ctx, logger, workflow.SweepWorkflowName, interval); err != nil {
		logger.Fatal("Unable to ensure sweep schedule", zap.Error(err))
	}

	return &App{
		Worker:         wkr,
		TemporalClient: temporalClient,
		DB:             database,
		RedisClient:    redisClient,
		Logger:         logger,
	}
}
