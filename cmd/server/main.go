// Package main runs the membership HTTP API with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scouthub/backend/config"
	"github.com/scouthub/backend/internal/access"
	"github.com/scouthub/backend/internal/accounts"
	"github.com/scouthub/backend/internal/analytics"
	"github.com/scouthub/backend/internal/audit"
	"github.com/scouthub/backend/internal/auth"
	"github.com/scouthub/backend/internal/emaillogs"
	"github.com/scouthub/backend/internal/metrics"
	"github.com/scouthub/backend/internal/notify"
	"github.com/scouthub/backend/internal/realtime"
	"github.com/scouthub/backend/internal/scouts"
	"github.com/scouthub/backend/internal/server"
	"github.com/scouthub/backend/pkg/database"
	"github.com/scouthub/backend/pkg/queue"
	"github.com/scouthub/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	var (
		jobQueue *queue.Queue
		feedBus  realtime.Bus
	)
	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
		if err != nil {
			logger.Warn("redis disabled: e-mails, audit replay and archives are off", zap.Error(err))
		} else {
			defer rdb.Close()
			jobQueue = queue.NewQueue(rdb.Client, logger)
			feedBus = realtime.NewRedisBus(rdb.Client, logger)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	tx := database.NewTxManager(pool)

	// Audit trail, streamed live to admin consoles
	feed := realtime.NewHub(logger, feedBus)
	recorderOpts := []audit.Option{
		audit.WithMetrics(m),
		audit.WithPublisher(feed),
		audit.WithLimits(cfg.Audit.DefaultLimit, cfg.Audit.MaxLimit),
	}
	if jobQueue != nil {
		recorderOpts = append(recorderOpts, audit.WithRetryQueue(jobQueue))
	}
	recorder := audit.NewRecorder(audit.NewRepository(pool), logger, recorderOpts...)

	// Access policy
	guardOpts := []access.Option{access.WithMetrics(m)}
	if cfg.Audit.RecordDenials {
		guardOpts = append(guardOpts, access.WithDenialAudit(recorder))
	}
	guard := access.NewGuard(logger, guardOpts...)

	// Membership engine
	scoutRepo := scouts.NewRepository(pool)
	scoutSvc := scouts.NewService(scoutRepo, tx, guard, recorder, logger,
		scouts.WithUIDPrefix(cfg.Membership.UIDPrefix),
		scouts.WithMetrics(m))

	// Registration & approval
	accountOpts := []accounts.Option{accounts.WithMetrics(m)}
	var archiveScheduler audit.ArchiveScheduler
	if jobQueue != nil {
		accountOpts = append(accountOpts, accounts.WithNotifier(notify.NewQueueNotifier(jobQueue, m, logger)))
		archiveScheduler = jobQueue
	}
	accountSvc := accounts.NewService(accounts.NewRepository(pool), tx, guard, recorder, scoutSvc, logger, accountOpts...)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	router := server.NewRouter(server.Deps{
		Logger:      logger,
		Metrics:     m,
		Gatherer:    registry,
		Guard:       guard,
		Tokens:      jwtService,
		Actors:      accountSvc,
		Auth:        auth.NewHandler(accountSvc, jwtService, logger),
		Accounts:    accounts.NewHandler(accountSvc, logger),
		Scouts:      scouts.NewHandler(scoutSvc, logger),
		Audit:       audit.NewHandler(recorder, archiveScheduler, logger),
		Stats:       analytics.NewHandler(analytics.NewService(scoutRepo, guard), logger),
		EmailLogs:   emaillogs.NewHandler(emaillogs.NewRepository(pool), logger),
		Feed:        feed,
		CORSOrigins: cfg.Server.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
