// Package main wires together the geoaudit service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pubsubv2 "cloud.google.com/go/pubsub/v2"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/seoscope/geoaudit/internal/analysis"
	"github.com/seoscope/geoaudit/internal/api"
	"github.com/seoscope/geoaudit/internal/audit"
	"github.com/seoscope/geoaudit/internal/clock/system"
	"github.com/seoscope/geoaudit/internal/collector"
	"github.com/seoscope/geoaudit/internal/config"
	"github.com/seoscope/geoaudit/internal/id/uuid"
	"github.com/seoscope/geoaudit/internal/logging"
	"github.com/seoscope/geoaudit/internal/pipeline"
	"github.com/seoscope/geoaudit/internal/progress"
	"github.com/seoscope/geoaudit/internal/progress/sinks"
	pubsubpublisher "github.com/seoscope/geoaudit/internal/publisher/pubsub"
	"github.com/seoscope/geoaudit/internal/score"
	"github.com/seoscope/geoaudit/internal/service"
	"github.com/seoscope/geoaudit/internal/storage/gcs"
	"github.com/seoscope/geoaudit/internal/storage/local"
	"github.com/seoscope/geoaudit/internal/storage/memory"
	"github.com/seoscope/geoaudit/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := system.New()
	idGen := uuid.New()

	store, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer cleanup()

	archive, err := buildArchive(ctx, cfg)
	if err != nil {
		logger.Fatal("archive init failed", zap.Error(err))
	}

	scorer, err := score.New(cfg.Scoring)
	if err != nil {
		logger.Fatal("scoring weights invalid", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		logger.Fatal("prometheus sink init failed", zap.Error(err))
	}
	hubSinks := []progress.Sink{
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
	}
	if cfg.PubSub.ProjectID != "" {
		client, psErr := pubsubv2.NewClient(ctx, cfg.PubSub.ProjectID)
		if psErr != nil {
			logger.Fatal("pubsub client init failed", zap.Error(psErr))
		}
		defer func() {
			_ = client.Close()
		}()
		publisher := pubsubpublisher.New(client.Publisher(cfg.PubSub.TopicName))
		hubSinks = append(hubSinks, sinks.NewExportSink(publisher, logger.Named("export")))
	}
	hub := progress.NewHub(progress.HubConfig{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.BatchWait(),
		Logger:         logger.Named("hub"),
	}, hubSinks...)

	broker := progress.NewBroker(progress.SnapshotFunc(
		func(ctx context.Context, auditID string) (progress.Event, error) {
			a, getErr := store.GetAudit(ctx, auditID)
			if getErr != nil {
				return progress.Event{}, getErr
			}
			return progress.FromAudit(a, clk.Now()), nil
		},
	), logger.Named("broker"))

	runner, err := pipeline.New(
		store,
		collector.NewColly(collector.Config{
			UserAgent:     cfg.Crawl.UserAgent,
			RespectRobots: cfg.Crawl.RespectRobots,
			Timeout:       cfg.CrawlTimeout(),
			Parallelism:   cfg.Crawl.Parallelism,
		}),
		analysis.NewHeuristic(),
		scorer,
		progress.Tee(broker, hub),
		archive,
		clk,
		idGen,
		pipeline.Config{
			Weights:            cfg.Stages,
			PageConcurrency:    cfg.Audit.PageConcurrency,
			MaxPages:           cfg.Audit.MaxPages,
			StoreRetries:       cfg.Audit.StoreRetries,
			ArchiveContentType: cfg.Archive.ContentType,
		},
		logger.Named("pipeline"),
	)
	if err != nil {
		logger.Fatal("pipeline init failed", zap.Error(err))
	}

	svc := service.New(ctx, store, runner, idGen, clk, service.Config{
		MaxConcurrentAudits: cfg.Audit.MaxConcurrent,
	}, logger.Named("service"))

	apiServer := api.NewServer(svc, broker, registry, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownSeconds)*time.Second,
	)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	broker.Close()
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("hub shutdown error", zap.Error(err))
	}
}

func buildStore(ctx context.Context, cfg config.Config) (audit.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "postgres":
		store, pool, err := postgres.Connect(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		return memory.NewStore(), func() {}, nil
	}
}

func buildArchive(ctx context.Context, cfg config.Config) (audit.Archive, error) {
	switch cfg.Archive.Backend {
	case "local":
		return local.New(local.Config{BaseDir: cfg.Archive.LocalDir})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Archive.GCSBucket})
	default:
		return memory.NewArchive(), nil
	}
}
