// quakefused is the long-running worker: per-source pollers feed raw
// envelopes through JetStream into the normalizer consumer, a cron schedule
// drives the clustering pass, and an Echo server exposes the read-only ops
// API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/client"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/cluster"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/config"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/consumer"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/handler"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/natsclient"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/publisher"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/source"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/store/postgres"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/telemetry"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/unify"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// ── OpenTelemetry ──────────────────────────────────────────────────────
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "quakefused", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", otelEndpoint))
		}
	}

	// ── Configuration & secrets ────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuration invalid", zap.Error(err))
	}
	secrets, err := config.LoadConnectionSecrets()
	if err != nil {
		logger.Fatal("failed to load connection secrets", zap.Error(err))
	}

	// ── Database ───────────────────────────────────────────────────────────
	st, err := postgres.Connect(context.Background(), secrets.PGURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer st.Close()
	logger.Info("connected to database (OTel-instrumented)")

	// ── NATS JetStream ─────────────────────────────────────────────────────
	natsClient, err := natsclient.NewClient(secrets.NATSURL, logger)
	if err != nil {
		logger.Fatal("NATS initialization failed", zap.Error(err))
	}
	defer natsClient.Close()

	// Ensure the QUAKE_RAW stream exists before the consumer subscribes.
	if err := natsClient.ProvisionStreams(); err != nil {
		logger.Fatal("NATS stream provisioning failed", zap.Error(err))
	}

	// ── Normalizer consumer ────────────────────────────────────────────────
	pipelineCtx, pipelineCancel := context.WithCancel(context.Background())
	defer pipelineCancel()

	normalizer := consumer.NewNormalizerConsumer(natsClient, st, st, logger)
	if err := normalizer.Start(pipelineCtx); err != nil {
		logger.Fatal("failed to start normalizer consumer", zap.Error(err))
	}
	logger.Info("normalizer NATS consumer started")

	// ── Pollers ────────────────────────────────────────────────────────────
	registry, err := source.NewRegistry(cfg.SourcesEnabled)
	if err != nil {
		logger.Fatal("source registry invalid", zap.Error(err))
	}

	fetcher := client.New(client.RetryPolicy{
		MaxAttempts:    cfg.RetryMaxAttempts,
		Base:           cfg.RetryBase,
		Cap:            cfg.RetryCap,
		AttemptTimeout: cfg.Timeout,
	}, logger)
	pub := publisher.New(natsClient, logger)

	for _, src := range registry.All() {
		p := worker.NewPoller(src, cfg.PollIntervals[src.Tag], fetcher, pub, st, logger)
		go p.Run(pipelineCtx)
	}
	logger.Info("pollers started", zap.Int("sources", registry.Len()))

	// ── Clustering schedule ────────────────────────────────────────────────
	weights := cluster.Weights{
		Time:      cfg.WeightTime,
		Distance:  cfg.WeightDistance,
		Magnitude: cfg.WeightMagnitude,
	}
	engine := cluster.NewEngine(cluster.Params{
		EpsKm:          cfg.ClusterEpsKm,
		DtSec:          cfg.ClusterDtSec,
		DMag:           cfg.ClusterDMag,
		MatchThreshold: cfg.MatchThreshold,
		Weights:        weights,
	})
	runner := worker.NewClusterRunner(st, engine, unify.New(weights), cfg.WindowHours, logger)

	sched := cron.New()
	if _, err := sched.AddFunc("@every "+cfg.ClusterEvery.String(), func() {
		if err := runner.RunOnce(pipelineCtx); err != nil {
			logger.Error("clustering pass failed", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("failed to schedule clustering pass", zap.Error(err))
	}
	sched.Start()
	logger.Info("clustering scheduled", zap.Duration("every", cfg.ClusterEvery))

	// ── HTTP Server ────────────────────────────────────────────────────────
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request",
				zap.String("URI", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	handler.RegisterRoutes(e, st, logger)

	go func() {
		logger.Info("ops API listening", zap.String("addr", cfg.HTTPAddr))
		if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// ── Graceful Shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	sched.Stop()
	pipelineCancel() // stop pollers and drain the consumer loop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Echo shutdown error", zap.Error(err))
	}
	logger.Info("quakefused shut down cleanly")
}
