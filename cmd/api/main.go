package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-groupbuy/internal/app"
	"github.com/noah-isme/backend-groupbuy/internal/archive"
	"github.com/noah-isme/backend-groupbuy/internal/audit"
	"github.com/noah-isme/backend-groupbuy/internal/auth"
	"github.com/noah-isme/backend-groupbuy/internal/common"
	"github.com/noah-isme/backend-groupbuy/internal/config"
	"github.com/noah-isme/backend-groupbuy/internal/events"
	"github.com/noah-isme/backend-groupbuy/internal/groupbuy"
	"github.com/noah-isme/backend-groupbuy/internal/health"
	"github.com/noah-isme/backend-groupbuy/internal/lock"
	"github.com/noah-isme/backend-groupbuy/internal/notify"
	"github.com/noah-isme/backend-groupbuy/internal/obs"
	"github.com/noah-isme/backend-groupbuy/internal/ratelimit"
	"github.com/noah-isme/backend-groupbuy/internal/resilience"
	"github.com/noah-isme/backend-groupbuy/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	resilience.MustRegisterMetrics(cfg.Obs.MetricsNamespace, nil)

	tracingEnabled := cfg.Obs.EnableTracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "groupbuy-api",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	pool, err := app.OpenPostgres(connectCtx, cfg.DatabaseURL, "groupbuy-api")
	if err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("database")
	}
	redisClient, err := app.OpenRedis(connectCtx, cfg.RedisURL, cfg.Obs.EnablePrometheus, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	if pool != nil {
		defer pool.Close()
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	}

	bus := &events.Bus{Notifiers: []events.Notifier{events.LogNotifier{Logger: logger}}}
	if pool != nil {
		bus.Store = events.PGStore{DB: pool}
	} else {
		bus.Store = &events.MemoryStore{}
	}
	var taskClient *asynq.Client
	if cfg.RedisURL != "" && (cfg.ArchiveMode == config.ArchiveAsync || cfg.WebhookURL != "") {
		redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse queue redis url")
		}
		taskClient = asynq.NewClient(redisOpt)
		defer func() {
			if err := taskClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close task client")
			}
		}()
	}
	if cfg.WebhookURL != "" {
		if err := notify.ValidateURL(cfg.WebhookURL); err != nil {
			logger.Fatal().Err(err).Msg("webhook url")
		}
		bus.Notifiers = append(bus.Notifiers, notify.Dispatcher{Client: taskClient, Topics: cfg.WebhookTopics})
	}

	svc := &groupbuy.Service{
		Engine: groupbuy.NewEngine(groupbuy.EngineConfig{
			HistoryLimit:     cfg.HistoryLimit,
			MaxQuantity:      cfg.MaxQuantity,
			MaxBatchQuantity: cfg.MaxBatchQuantity,
		}),
		LockTTL: cfg.LockTTL,
		Events:  bus,
		Logger:  logger.With().Str("component", "groupbuy").Logger(),
	}
	if redisClient != nil {
		svc.Locker = lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff}
	} else {
		svc.Locker = &lock.Local{}
	}
	configureArchiver(cfg, svc, pool, taskClient, logger)

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		ClockSkew: cfg.JWTClockSkew,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("configure token verifier")
	}

	var allower ratelimit.Allower = ratelimit.NewMemoryFixed("groupbuy:rl:")
	switch {
	case redisClient != nil && cfg.RateLimitStrategy == "sliding":
		allower = ratelimit.Limiter{Client: redisClient, Prefix: "groupbuy:rl:"}
	case redisClient != nil:
		fixed, err := ratelimit.NewRedisFixed(redisClient, "groupbuy:rl:")
		if err != nil {
			logger.Fatal().Err(err).Msg("configure rate limiter")
		}
		allower = fixed
	}

	probes := map[string]health.Probe{}
	if pool != nil {
		probes["database"] = health.DBProbe(pool)
	}
	if redisClient != nil {
		probes["redis"] = health.RedisProbe(redisClient)
	}

	deps := app.Dependencies{
		Logger:   logger,
		GroupBuy: &groupbuy.Handler{Svc: svc},
		Auth:     auth.Middleware{Verifier: verifier, AllowGuests: cfg.AllowGuests},
		Health:   health.Handler{Probes: probes, Timeout: 500 * time.Millisecond},
		Headers: security.Headers{
			Enable:     true,
			EnableHSTS: cfg.AppEnv == "production",
			NoStore:    true,
		},
		BodyLimit: security.BodyLimit{Max: cfg.BodyLimitBytes},
		UpsertLimit: &ratelimit.Handler{
			Limiter: allower,
			Config: ratelimit.Config{
				Key:    ratelimit.KeyByContributor("upsert:"),
				Window: cfg.UpsertRateWindow,
				Max:    cfg.UpsertRateMax,
			},
			OnError: func(err error) {
				logger.Warn().Err(err).Msg("rate limiter unavailable")
			},
		},
		Tracing:            tracingEnabled,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		PprofEnabled:       os.Getenv("OBS_ENABLE_PPROF") == "true",
		PprofUser:          os.Getenv("SECURE_PPROF_BASIC_AUTH_USER"),
		PprofPass:          os.Getenv("SECURE_PPROF_BASIC_AUTH_PASS"),
	}
	if pool != nil {
		deps.Archive = archive.Handler{Store: archive.Store{DB: pool}, Logger: logger}
	}
	if cfg.AuditEnabled {
		var auditStore audit.Store = audit.LogStore{Logger: logger.With().Str("component", "audit").Logger()}
		if pool != nil {
			auditStore = audit.PGStore{DB: pool}
		}
		deps.Audit = &audit.HTTPRecorder{
			Service: &audit.Service{Store: auditStore, Enabled: true, SamplingRate: cfg.AuditSamplingRate},
			OnError: func(err error) {
				logger.Error().Err(err).Msg("record audit entry")
			},
		}
		deps.AuditList = audit.Handler{Store: auditStore}
	}
	if redisClient != nil {
		deps.Idempotency = &common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	}
	if cfg.Obs.EnablePrometheus {
		deps.HTTPMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), nil)
		deps.MetricsHandler = promhttp.Handler()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           app.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().
		Str("addr", srv.Addr).
		Str("archive_mode", cfg.ArchiveMode).
		Bool("redis", redisClient != nil).
		Bool("database", pool != nil).
		Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

// configureArchiver selects where finalized batches go.
func configureArchiver(cfg *config.Config, svc *groupbuy.Service, pool archive.DB, tasks *asynq.Client, logger zerolog.Logger) {
	switch cfg.ArchiveMode {
	case config.ArchiveSync:
		svc.Archiver = archive.Guarded{
			Next: archive.Store{DB: pool},
			Caller: resilience.Caller{
				Breaker:     resilience.NewBreaker(5, 0.5, 30*time.Second).WithTarget("archive").WithLogger(logger),
				MaxAttempts: 2,
				BaseBackoff: 100 * time.Millisecond,
				Timeout:     2 * time.Second,
			},
		}
	case config.ArchiveAsync:
		svc.Archiver = archive.Enqueuer{Client: tasks}
	default:
		logger.Warn().Msg("archive disabled; finalized batches stay in memory only")
	}
}
