package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/audit"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/auth"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/cache"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/common"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/config"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/crm"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/db"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/feereview"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/health"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/lock"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/obs"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/queue"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/ratelimit"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/repo"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/resilience"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Str("service", cfg.Obs.ServiceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Obs.MetricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, prometheus.DefaultRegisterer)
		queue.MustRegisterMetrics(prometheus.DefaultRegisterer)
		resilience.MustRegisterMetrics(prometheus.DefaultRegisterer)
	}
	if cfg.Obs.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   cfg.Obs.ServiceName,
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			cfg.Obs.TracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
		logger.Info().Msg("migrations applied")
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.Open(startCtx, db.PoolConfig{URL: cfg.DatabaseURL, Tracer: obs.PGXTracer{}})
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer pool.Close()

	redisClient, err := openRedis(startCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Secret:    cfg.Auth.JWTSecret,
		Issuer:    cfg.Auth.JWTIssuer,
		Audience:  cfg.Auth.JWTAudience,
		ClockSkew: cfg.Auth.ClockSkew,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("configure auth")
	}
	authMiddleware := auth.Middleware{Verifier: verifier}

	svc, err := feereview.NewService(feereview.ServiceConfig{
		Store: repo.NewFeeConfigRepo(pool),
		Locker: lock.Locker{
			R:            redisClient,
			TTL:          cfg.Lock.TTL,
			RetryBackoff: cfg.Lock.RetryBackoff,
			MaxWait:      cfg.Lock.MaxWait,
		},
		Cache:      cache.NewJSON(redisClient, cfg.Review.CacheTTL),
		Logger:     logger.With().Str("component", "feereview").Logger(),
		WarmOnSave: true,
		Debounce:   cfg.Review.Debounce,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("configure fee review service")
	}
	reviewHandler := &feereview.Handler{Service: svc, Logger: logger}

	leadHandler := &crm.Handler{
		Queue:       queue.Enqueuer{R: redisClient, Prefix: cfg.Queue.Prefix},
		MaxAttempts: cfg.Queue.MaxAttempts,
		Logger:      logger.With().Str("component", "crm").Logger(),
	}
	queueAdmin := &queue.AdminHandler{
		DLQ:         queue.DLQ{R: redisClient, Prefix: cfg.Queue.Prefix},
		MaxAttempts: cfg.Queue.MaxAttempts,
		Logger:      logger,
	}
	limiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "ratelimit:"},
		Config:  ratelimit.Config{Key: ratelimit.KeyByCaller("api"), Window: cfg.HTTP.RateLimitWindow, Max: cfg.HTTP.RateLimitMax},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}
	leadStore, err := ratelimit.NewFixedWindowStore(redisClient, "ratelimit:leads")
	if err != nil {
		logger.Fatal().Err(err).Msg("configure lead rate limiter")
	}
	leadLimiter := ratelimit.Handler{
		Limiter: ratelimit.FixedWindow{Store: leadStore},
		Config:  ratelimit.Config{Key: ratelimit.KeyByCaller("crm-leads"), Window: cfg.HTTP.RateLimitWindow, Max: cfg.CRM.IntakeRateLimit},
		OnError: limiter.OnError,
	}
	auditRecorder := audit.HTTPRecorder{
		Service: &audit.Service{
			Store:        audit.PGStore{DB: pool},
			Enabled:      cfg.Audit.Enabled,
			SamplingRate: cfg.Audit.SamplingRate,
		},
		OnError: func(err error) { logger.Error().Err(err).Msg("record audit log") },
	}
	idem := common.Idem{R: redisClient, TTL: cfg.HTTP.IdempotencyTTL}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.Obs.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.Obs.MetricsEnabled {
		httpMetrics := obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), prometheus.DefaultRegisterer)
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.AppEnv == "production"}.Middleware)
	r.Use(security.CORS(cfg.CORSAllowedOrigins))

	if cfg.Obs.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	health.Handler{Probes: []health.Probe{health.DBProbe(pool), health.RedisProbe(redisClient)}}.Register(r)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: cfg.HTTP.BodyLimitBytes}.Middleware)
		v.Use(authMiddleware.RequireAuth)
		v.Use(limiter.Middleware)
		v.Use(idem.Middleware)
		v.Use(auditRecorder.Middleware)

		reviewHandler.Register(v)
		v.Group(func(leads chi.Router) {
			leads.Use(leadLimiter.Middleware)
			leadHandler.Register(leads)
		})
		v.Route("/admin", func(admin chi.Router) {
			admin.Use(auth.RequireRole(cfg.Auth.AdminRoles...))
			queueAdmin.Register(admin)
			audit.Handler{Store: audit.PGStore{DB: pool}}.Register(admin)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	health.SetReady(true)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	health.SetReady(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	svc.Wait()
	logger.Info().Msg("server stopped")
}

func openRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if cfg.Obs.TracingEnabled {
		if err := redisotel.InstrumentTracing(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis tracing")
		}
	}
	if cfg.Obs.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
