package main

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/backend-groupbuy/internal/app"
	"github.com/noah-isme/backend-groupbuy/internal/archive"
	"github.com/noah-isme/backend-groupbuy/internal/config"
	"github.com/noah-isme/backend-groupbuy/internal/notify"
	"github.com/noah-isme/backend-groupbuy/internal/obs"
	"github.com/noah-isme/backend-groupbuy/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "worker").Logger()
	if cfg.RedisURL == "" {
		logger.Fatal().Msg("worker requires REDIS_URL")
	}
	if cfg.DatabaseURL == "" && cfg.WebhookURL == "" {
		logger.Fatal().Msg("worker has nothing to do without DATABASE_URL or WEBHOOK_URL")
	}

	if cfg.Obs.EnableTracing {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "groupbuy-worker",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	pool, err := app.OpenPostgres(ctx, cfg.DatabaseURL, "groupbuy-worker")
	if err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("database")
	}
	redisClient, err := app.OpenRedis(ctx, cfg.RedisURL, false, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if pool != nil {
		defer pool.Close()
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse queue redis url")
	}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.QueueConcurrency,
		Logger:      obs.AsynqLogger{Logger: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			evt := logger.Warn()
			if retried >= maxRetry {
				evt = logger.Error()
				if task.Type() == archive.TypeArchiveBatch && obs.ArchiveFailuresTotal != nil {
					obs.ArchiveFailuresTotal.Inc()
				}
			}
			evt.Err(err).Str("task", task.Type()).Int("retried", retried).Int("max_retry", maxRetry).Msg("task failed")
		}),
	})

	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	resilience.MustRegisterMetrics(cfg.Obs.MetricsNamespace, nil)

	mux := asynq.NewServeMux()
	if pool != nil {
		mux.Handle(archive.TypeArchiveBatch, archive.TaskHandler{Store: archive.Store{DB: pool}, Logger: logger})
	}
	if cfg.WebhookURL != "" {
		hook := &notify.Webhook{
			URL:    cfg.WebhookURL,
			Secret: cfg.WebhookSecret,
			Topics: cfg.WebhookTopics,
			Client: notify.HTTPClient(cfg.WebhookTimeout),
			Caller: resilience.Caller{
				Breaker:     resilience.NewBreaker(10, 0.5, 30*time.Second).WithTarget("webhook").WithLogger(logger),
				MaxAttempts: 2,
				BaseBackoff: 200 * time.Millisecond,
				Jitter:      0.2,
				Timeout:     cfg.WebhookTimeout,
			},
			Replay:    notify.RedisReplayProtector{Client: redisClient},
			ReplayTTL: cfg.IdempotencyTTL,
		}
		mux.Handle(notify.TypeWebhookDelivery, notify.DeliveryWorker{Webhook: hook, Logger: logger})
	}

	logger.Info().Int("concurrency", cfg.QueueConcurrency).Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped with error")
	}
	logger.Info().Msg("worker shutdown complete")
}
