// Package main wires together the tracking service binary.
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

	gcppubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/pagepulse/pagepulse/internal/api"
	"github.com/pagepulse/pagepulse/internal/batch"
	"github.com/pagepulse/pagepulse/internal/clock/system"
	"github.com/pagepulse/pagepulse/internal/config"
	"github.com/pagepulse/pagepulse/internal/engine"
	"github.com/pagepulse/pagepulse/internal/extract"
	"github.com/pagepulse/pagepulse/internal/hash/sha256"
	"github.com/pagepulse/pagepulse/internal/id/uuid"
	"github.com/pagepulse/pagepulse/internal/logging"
	"github.com/pagepulse/pagepulse/internal/observe"
	"github.com/pagepulse/pagepulse/internal/observe/sinks"
	"github.com/pagepulse/pagepulse/internal/poller"
	memorypublisher "github.com/pagepulse/pagepulse/internal/publisher/memory"
	pubsubpublisher "github.com/pagepulse/pagepulse/internal/publisher/pubsub"
	"github.com/pagepulse/pagepulse/internal/selector"
	"github.com/pagepulse/pagepulse/internal/sitemap"
	gcsstorage "github.com/pagepulse/pagepulse/internal/storage/gcs"
	localstorage "github.com/pagepulse/pagepulse/internal/storage/local"
	memorystorage "github.com/pagepulse/pagepulse/internal/storage/memory"
	memorystore "github.com/pagepulse/pagepulse/internal/store/memory"
	postgresstore "github.com/pagepulse/pagepulse/internal/store/postgres"
	"github.com/pagepulse/pagepulse/internal/telemetry"
	"github.com/pagepulse/pagepulse/internal/tracker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, "pagepulse")
	if err != nil {
		logger.Fatal("telemetry init failed", zap.Error(err))
	}

	jobs, pages, closeStore, err := buildStores(ctx, cfg)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer closeStore()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	publisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}

	hasher := sha256.New()
	clock := system.New()
	idGen := uuid.NewGenerator()

	methods := []extract.Method{
		extract.NewStatic(extract.StaticConfig{
			UserAgent: cfg.Sitemap.UserAgent,
			Timeout:   cfg.SitemapTimeout(),
		}),
	}
	if cfg.Headless.Enabled {
		headless, err := extract.NewHeadless(extract.HeadlessConfig{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Sitemap.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless method init failed", zap.Error(err))
		} else {
			defer headless.Close()
			methods = append(methods, headless)
		}
	}

	coordinator := batch.New(pages, blobs, hasher, clock, idGen, batch.Config{
		Concurrency:     cfg.Engine.WorkerConcurrency,
		FreshnessWindow: cfg.FreshnessWindow(),
		BlobPrefix:      cfg.Storage.Prefix,
		ContentType:     cfg.Storage.ContentType,
	}, logger.Named("batch"))

	sel := selector.New(selector.Config{
		SampleSize: cfg.Engine.SampleSize,
		Priority:   cfg.Engine.MethodPriority,
	}, logger.Named("selector"))

	fetcher := sitemap.NewFetcher(sitemap.FetcherConfig{
		UserAgent: cfg.Sitemap.UserAgent,
		Timeout:   cfg.SitemapTimeout(),
	})

	eng := engine.New(jobs, pages, fetcher, methods, sel, coordinator, publisher,
		clock, idGen, engine.Config{
			TerminalTopic:  cfg.PubSub.TopicName,
			DefaultProject: cfg.Engine.DefaultProject,
		}, logger.Named("engine"))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		logger.Fatal("prometheus sink init failed", zap.Error(err))
	}
	bridge := observe.NewBridge(observe.Config{Logger: logger.Named("bridge")},
		sinks.NewLogSink(logger.Named("progress")), promSink)

	jobPoller := poller.New(statusClient{eng}, bridge, poller.Config{
		Interval: cfg.PollInterval(),
		Logger:   logger.Named("poller"),
	})
	canceller := poller.NewCanceller(controlClient{eng}, logger.Named("canceller"))

	apiServer := api.NewServer(eng, canceller, jobPoller, registry, cfg, logger.Named("api"))

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := eng.Close(shutdownCtx); err != nil {
		logger.Error("engine shutdown error", zap.Error(err))
	}
	jobPoller.Close()
	if err := bridge.Close(shutdownCtx); err != nil {
		logger.Error("bridge shutdown error", zap.Error(err))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildStores(ctx context.Context, cfg config.Config) (tracker.JobStore, tracker.PageStore, func(), error) {
	switch cfg.DB.Backend {
	case "postgres":
		store, err := postgresstore.New(ctx, postgresstore.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, store.Close, nil
	default:
		return memorystore.NewJobStore(), memorystore.NewPageStore(), func() {}, nil
	}
}

func buildBlobStore(ctx context.Context, cfg config.Config) (tracker.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Storage.GCSBucket})
	case "local":
		return localstorage.New(localstorage.Config{BaseDir: cfg.Storage.LocalDir})
	default:
		return memorystorage.NewBlobStore(), nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (tracker.Publisher, error) {
	if !cfg.PubSub.Enabled {
		return memorypublisher.New(), nil
	}
	client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return pubsubpublisher.New(client), nil
}

// statusClient adapts the in-process engine to the poller's read surface.
type statusClient struct {
	engine tracker.Engine
}

func (c statusClient) Status(ctx context.Context, jobID string) (tracker.Job, error) {
	return c.engine.Status(ctx, jobID)
}

// controlClient adapts the engine for the cancellation handler.
type controlClient struct {
	engine tracker.Engine
}

func (c controlClient) Status(ctx context.Context, jobID string) (tracker.Job, error) {
	return c.engine.Status(ctx, jobID)
}

func (c controlClient) Cancel(ctx context.Context, jobID string) (tracker.Job, error) {
	return c.engine.Cancel(ctx, jobID)
}
