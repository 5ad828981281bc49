package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-smartflow/internal/api"
	"github.com/hackgods/clinic-smartflow/internal/appointment"
	"github.com/hackgods/clinic-smartflow/internal/config"
	"github.com/hackgods/clinic-smartflow/internal/db"
	"github.com/hackgods/clinic-smartflow/internal/demo"
	"github.com/hackgods/clinic-smartflow/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-smartflow/internal/redis"
	"github.com/hackgods/clinic-smartflow/pkg/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "api-server", "env", cfg.Env)
	logger.Info("api-server starting up",
		"http_port", cfg.HTTPPort, "store", cfg.Store, "lock", cfg.LockBackend, "timezone", cfg.ClinicTimezone)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo   appointment.Repository
		pgPool *pgxpool.Pool
		rdb    *redis.Client
		locker redisclient.Locker
	)

	switch cfg.Store {
	case config.StorePostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
		cancelPg()
		if err != nil {
			logger.Error("postgres connection error", "error", err)
			os.Exit(1)
		}
		defer pgPool.Close()
		logger.Info("connected to Postgres")
		repo = appointment.NewPgRepository(pgPool, cfg.Location())
	default:
		mem := appointment.NewMemoryRepository()
		ds := demo.Generate(gofakeit.New(0), 5, 200, time.Now())
		demo.LoadMemory(mem, ds)
		logger.Info("using in-memory store with demo data",
			"practitioners", len(ds.Practitioners), "patients", len(ds.Patients))
		repo = mem
	}

	switch cfg.LockBackend {
	case config.LockRedis:
		rdb, err = redisclient.NewRedisClient(rootCtx, redisclient.ClientOptions{
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
	default:
		locker = redisclient.NewLocalLocker(cfg.LockWait)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := appointment.NewService(repo, locker, cfg, logger, metrics.NewEngineMetrics(reg))

	router := api.NewRouter(api.RouterConfig{
		Service:     svc,
		PgPool:      pgPool,
		Redis:       rdb,
		Logger:      logger,
		HTTPMetrics: metrics.NewHTTPMetrics(reg),
		Gatherer:    reg,
		Clock:       time.Now,
		Env:         cfg.Env,
		Version:     version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	logger.Info("api-server stopped")
}
