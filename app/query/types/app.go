package types

import (
	"context"
	"net/http"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/airtimehq/airtime/pkg/db"
	"github.com/airtimehq/airtime/pkg/reconcile"
	"github.com/airtimehq/airtime/pkg/redis"
	"github.com/airtimehq/airtime/pkg/session"
)

// User is one admin account loaded from the environment.
type User struct {
	Username string `json:"username"`
	Hash     []byte `json:"hash"`
	Role     string `json:"role"`
}

type App struct {
	DB          *db.DB
	RedisClient *redis.Client
	Tracker     *session.Tracker
	Reconciler  *reconcile.Reconciler

	// Cron periodically refreshes leaderboard caches.
	Cron     *cron.Cron
	CronSpec string

	// LeaderboardCache holds precomputed standings per community and scope.
	LeaderboardCache *xsync.Map[string, CachedLeaderboard]

	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()
	if a.Cron != nil {
		a.Cron.Start()
		a.Logger.Info("Leaderboard refresh cron started", zap.String("cronSpec", a.CronSpec))
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}

	if err := a.DB.Close(); err != nil {
		a.Logger.Error("Failed to close database connection", zap.Error(err))
	}

	_ = a.Server.Shutdown(shutdownCtx)
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
