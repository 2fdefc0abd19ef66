package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pawlab/petstate/internal/api"
	"github.com/pawlab/petstate/internal/config"
	"github.com/pawlab/petstate/internal/coord"
	"github.com/pawlab/petstate/internal/evolution"
	"github.com/pawlab/petstate/internal/lock"
	"github.com/pawlab/petstate/internal/queue"
	"github.com/pawlab/petstate/internal/ratelimit"
	"github.com/pawlab/petstate/internal/store"
	"github.com/pawlab/petstate/internal/worker"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting petstate...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/petstate.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Coordination store: locks, rate windows, queues, cache.
	kv, err := coord.New(cfg.Database.Redis.URL, logger)
	if err != nil {
		logger.Fatal("redis unavailable", zap.Error(err))
	}
	defer kv.Close()

	// Transactional store: entities and the audit log.
	pg, err := store.New(cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("postgres unavailable", zap.Error(err))
	}
	defer pg.Close()
	if err := pg.Migrate(context.Background(), "migrations"); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	cache := store.NewCache(kv, time.Duration(cfg.Evolution.CacheTTLSeconds)*time.Second, logger)
	pg.SetAuditCache(cache)

	locks := lock.New(kv, 0, logger)
	limiter := ratelimit.New(kv, logger)
	queues := queue.New(kv, logger)

	orch := evolution.New(pg, locks, limiter,
		evolution.NewRuleClassifier(), evolution.NewRuleEngine(),
		evolution.Config{
			RateLimit:      cfg.Evolution.RateLimit,
			RateWindow:     cfg.Evolution.RateWindow(),
			LockTTL:        time.Duration(cfg.Evolution.LockTTLSeconds) * time.Second,
			LockMaxRetries: cfg.Evolution.LockMaxRetries,
			RenewInterval:  time.Duration(cfg.Evolution.RenewSeconds) * time.Second,
			AuditTailSize:  cfg.Evolution.AuditTailSize,
			AuditRetention: time.Duration(cfg.Evolution.AuditRetentionDays) * 24 * time.Hour,
		}, logger)

	// Notifications are consumed externally; without a delivery adapter
	// the dispatcher only invalidates caches.
	dispatcher := evolution.NewDispatcher(cache, nil, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := worker.NewRunner(queues, locks, orch, dispatcher,
		cfg.Worker.QueueName, cfg.Worker.DrainBatchSize,
		time.Duration(cfg.Worker.DrainIntervalSeconds)*time.Second, logger)
	go runner.Start(ctx)

	sweeper := worker.NewDecaySweeper(pg, orch, dispatcher,
		time.Duration(cfg.Worker.DecayIntervalMinutes)*time.Minute, logger)
	go sweeper.Start(ctx)

	purger := worker.NewAuditPurger(pg,
		time.Duration(cfg.Worker.PurgeIntervalMinutes)*time.Minute, logger)
	go purger.Start(ctx)

	handler := api.NewHandler(queues, cfg.Worker.QueueName, pg, logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	logger.Info("Bye")
}
