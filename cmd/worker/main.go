package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/config"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/crm"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/obs"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/queue"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Obs.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   cfg.Obs.ServiceName + "-worker",
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

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	var metricsSrv *http.Server
	if cfg.Obs.MetricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, prometheus.DefaultRegisterer)
		queue.MustRegisterMetrics(prometheus.DefaultRegisterer)
		resilience.MustRegisterMetrics(prometheus.DefaultRegisterer)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.HTTPAddr(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server")
			}
		}()
	}

	syncer := &crm.Syncer{
		Client: crm.NewClient(crm.ClientConfig{
			Timeout:     cfg.CRM.Timeout,
			MaxAttempts: cfg.CRM.MaxAttempts,
			BaseBackoff: cfg.Queue.RetryBase / 4,
			Breaker: resilience.NewBreaker(resilience.BreakerConfig{
				MinRequests:  cfg.Circuit.MinRequests,
				FailureRatio: cfg.Circuit.FailureRatio,
				OpenFor:      cfg.Circuit.OpenFor,
				Target:       "crm",
				Logger:       logger,
			}),
		}),
		Endpoint: cfg.CRM.Endpoint,
		APIKey:   cfg.CRM.APIKey,
		Logger:   logger,
	}
	if cfg.CRM.Endpoint == "" {
		logger.Warn().Msg("CRM_ENDPOINT not set; lead sync tasks will fail until configured")
	}

	crmWorker := queue.Worker{
		R:            redisClient,
		Prefix:       cfg.Queue.Prefix,
		Kind:         crm.TaskKind,
		Concurrency:  cfg.Queue.Concurrency,
		RetryBase:    cfg.Queue.RetryBase,
		RetryJitter:  0.2,
		PollInterval: cfg.Queue.PollInterval,
		Logger:       logger,
		Handler:      syncer.Handle,
	}

	logger.Info().Str("kind", crm.TaskKind).Msg("worker starting")
	if err := crmWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown")
		}
	}
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
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
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	return client
}
