// quakefuse-batch runs the pipeline once: poll every enabled source, persist
// directly to Postgres, run a single clustering pass, and exit. Exit code is
// non-zero when any source fails or the clustering pass aborts.
package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/andermartinezdonate/usgs-quake-stream/internal/client"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/cluster"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/config"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/source"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/store/postgres"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/telemetry"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/unify"
	"github.com/andermartinezdonate/usgs-quake-stream/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Error("batch run failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("batch run complete")
}

func run(logger *zap.Logger) error {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(ctx, "quakefuse-batch", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(ctx)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	secrets, err := config.LoadConnectionSecrets()
	if err != nil {
		return err
	}

	st, err := postgres.Connect(ctx, secrets.PGURL)
	if err != nil {
		return err
	}
	defer st.Close()

	registry, err := source.NewRegistry(cfg.SourcesEnabled)
	if err != nil {
		return err
	}

	fetcher := client.New(client.RetryPolicy{
		MaxAttempts:    cfg.RetryMaxAttempts,
		Base:           cfg.RetryBase,
		Cap:            cfg.RetryCap,
		AttemptTimeout: cfg.Timeout,
	}, logger)
	sink := worker.NewStoreSink(st, st, logger)

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

	batch := worker.NewBatch(registry, cfg.PollIntervals, fetcher, sink, st, runner, logger)
	return batch.Run(ctx)
}
