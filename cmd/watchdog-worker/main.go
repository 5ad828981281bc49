package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-smartflow/internal/appointment"
	"github.com/hackgods/clinic-smartflow/internal/config"
	"github.com/hackgods/clinic-smartflow/internal/db"
	redisclient "github.com/hackgods/clinic-smartflow/internal/redis"
	"github.com/hackgods/clinic-smartflow/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}
	if cfg.Store != config.StorePostgres {
		logging.Default().Error("watchdog-worker needs STORE=postgres")
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "watchdog-worker", "env", cfg.Env)
	logger.Info("watchdog-worker starting up", "interval", cfg.WorkerInterval, "grace", cfg.Engine.NoShowGrace)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	var locker redisclient.Locker = redisclient.NewLocalLocker(cfg.LockWait)
	if cfg.LockBackend == config.LockRedis {
		rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.ClientOptions{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			LockTTL:  cfg.LockTTL,
		})
		if err != nil {
			logger.Error("redis connection error", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", "error", err)
			}
		}()
		logger.Info("connected to Redis")
		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
	}

	repo := appointment.NewPgRepository(pgPool, cfg.Location())
	svc := appointment.NewService(repo, locker, cfg, logger, nil)

	// Run once at startup
	runOnce(rootCtx, svc, repo, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping watchdog")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, repo, logger)
		}
	}
}

// runOnce sweeps every practitioner working today for overdue appointments.
// One practitioner failing does not stop the sweep.
func runOnce(ctx context.Context, svc *appointment.Service, repo appointment.Repository, logger *logging.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	practitioners, err := repo.ListActivePractitioners(runCtx, start.In(svc.Location()))
	if err != nil {
		logger.Error("list active practitioners", "error", err)
		return
	}

	flagged := 0
	for _, id := range practitioners {
		report, err := svc.DetectOverdue(runCtx, id, time.Now())
		if err != nil {
			logger.Warn("overdue sweep failed", "practitioner_id", id, "error", err)
			continue
		}
		flagged += len(report)
	}

	logger.Info("watchdog run completed",
		"practitioners", len(practitioners), "flagged", flagged, "duration", time.Since(start))
}
