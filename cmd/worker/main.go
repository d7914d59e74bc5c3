// Package main runs the background job worker: notification e-mails, audit
// replay and audit archive exports.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scouthub/backend/config"
	"github.com/scouthub/backend/internal/audit"
	"github.com/scouthub/backend/internal/emaillogs"
	"github.com/scouthub/backend/internal/metrics"
	"github.com/scouthub/backend/internal/notify"
	"github.com/scouthub/backend/internal/worker"
	"github.com/scouthub/backend/pkg/database"
	"github.com/scouthub/backend/pkg/queue"
	"github.com/scouthub/backend/pkg/redis"
	"github.com/scouthub/backend/pkg/storage"
)

const pollTimeout = 5 * time.Second

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

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		ReadTimeout: pollTimeout + 5*time.Second,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	auditRepo := audit.NewRepository(pool)
	recorder := audit.NewRecorder(auditRepo, logger, audit.WithMetrics(m))

	var sender notify.Sender = notify.NewLogSender(logger)
	if cfg.Email.APIKey != "" {
		sender = notify.NewResendSender(cfg.Email.APIKey, cfg.Email.From(), cfg.Email.ReplyTo, logger)
	} else {
		logger.Warn("RESEND_API_KEY not set: e-mails are logged, not sent")
	}

	opts := []worker.Option{
		worker.WithMetrics(m),
		worker.WithEmailLogs(emaillogs.NewRepository(pool)),
		worker.WithPollTimeout(pollTimeout),
	}
	if cfg.AWS.AuditBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			AuditBucket:          cfg.AWS.AuditBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled: audit archives are off", zap.Error(err))
		} else {
			opts = append(opts, worker.WithArchiver(audit.NewArchiver(auditRepo, s3Client, logger)))
		}
	} else {
		logger.Warn("AWS_S3_AUDIT_BUCKET not set: audit archives are off")
	}

	processor := worker.NewProcessor(queue.NewQueue(rdb.Client, logger), sender, recorder, logger, opts...)

	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Run(workerCtx)
	}()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(pollTimeout + 2*time.Second):
		logger.Warn("worker did not stop in time")
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
