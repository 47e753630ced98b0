// Package main wires together the catalog importer service.
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

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/skuworks/catalog-importer/internal/api"
	"github.com/skuworks/catalog-importer/internal/catalog"
	"github.com/skuworks/catalog-importer/internal/clock/system"
	"github.com/skuworks/catalog-importer/internal/config"
	"github.com/skuworks/catalog-importer/internal/events"
	"github.com/skuworks/catalog-importer/internal/hash/sha256"
	"github.com/skuworks/catalog-importer/internal/id/uuid"
	"github.com/skuworks/catalog-importer/internal/importer"
	"github.com/skuworks/catalog-importer/internal/logging"
	"github.com/skuworks/catalog-importer/internal/metrics"
	"github.com/skuworks/catalog-importer/internal/progress"
	pubsubpublisher "github.com/skuworks/catalog-importer/internal/publisher/pubsub"
	queueMemory "github.com/skuworks/catalog-importer/internal/queue/memory"
	gcsStorage "github.com/skuworks/catalog-importer/internal/storage/gcs"
	localStorage "github.com/skuworks/catalog-importer/internal/storage/local"
	memoryStorage "github.com/skuworks/catalog-importer/internal/storage/memory"
	"github.com/skuworks/catalog-importer/internal/storage/postgres"
	"github.com/skuworks/catalog-importer/internal/webhook"
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
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	hasher := sha256.New()
	idGen := uuid.New()

	var (
		products catalog.ProductStore
		jobs     catalog.JobStore
		webhooks catalog.WebhookStore
	)
	if cfg.DB.DSN != "" {
		pool, poolErr := postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if poolErr != nil {
			logger.Fatal("postgres init failed", zap.Error(poolErr))
		}
		defer pool.Close()
		products = postgres.NewProductStore(pool)
		jobs = postgres.NewJobStore(pool)
		webhooks = postgres.NewWebhookStore(pool)
		logger.Info("using postgres persistence")
	} else {
		products = memoryStorage.NewProductStore()
		jobs = memoryStorage.NewJobStore()
		webhooks = memoryStorage.NewWebhookStore()
		logger.Warn("no database configured, using in-memory stores")
	}

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	queue := queueMemory.NewQueue(cfg.Webhook.QueueDepth)
	policy := webhook.NewExponentialRetryPolicy(
		cfg.Webhook.MaxAttempts,
		time.Duration(cfg.Webhook.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.Webhook.BackoffMaxMs)*time.Millisecond,
	)
	dispatcher := webhook.New(queue, webhooks, policy, clock, webhook.Config{
		Workers:      cfg.Webhook.Workers,
		Timeout:      cfg.WebhookTimeout(),
		PerHostRPS:   cfg.Webhook.PerHostRPS,
		PerHostBurst: cfg.Webhook.PerHostBurst,
	}, logger.Named("webhook"))

	sinks := []catalog.EventSink{dispatcher}
	if cfg.PubSub.TopicName != "" {
		client, clientErr := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if clientErr != nil {
			logger.Fatal("pubsub init failed", zap.Error(clientErr))
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("pubsub client close failed", zap.Error(closeErr))
			}
		}()
		topic := client.Topic(cfg.PubSub.TopicName)
		defer topic.Stop()
		sinks = append(sinks, events.NewPublisherSink(
			pubsubpublisher.New(topic),
			cfg.PubSub.TopicName,
			0,
			logger.Named("pubsub"),
		))
		logger.Info("pubsub event mirroring enabled", zap.String("topic", cfg.PubSub.TopicName))
	}
	sink := events.NewFanout(sinks...)

	broker := progress.NewBroker(progress.Config{
		SubscriberBuffer: cfg.Import.SubscriberBuf,
		Logger:           logger.Named("progress"),
	})
	upserter := importer.NewUpserter(products, clock, logger.Named("upserter"))
	controller := importer.NewController(jobs, upserter, broker, sink, clock, importer.Config{
		ChunkSize:    cfg.Import.ChunkSize,
		MaxRowErrors: cfg.Import.MaxRowErrors,
	}, logger.Named("importer"))

	apiServer := api.NewServer(api.Deps{
		Products:   products,
		Jobs:       jobs,
		Webhooks:   webhooks,
		Blobs:      blobs,
		Broker:     broker,
		Controller: controller,
		Dispatcher: dispatcher,
		Events:     sink,
		Hasher:     hasher,
		IDGen:      idGen,
		Clock:      clock,
		Logger:     logger.Named("api"),
	}, cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("webhook dispatcher started", zap.Int("workers", cfg.Webhook.Workers))
		dispatcher.Run(ctx)
	}()

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
	queue.Close()
	logger.Info("shutdown complete")
}

func buildBlobStore(ctx context.Context, cfg config.Config) (catalog.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "", "memory":
		return memoryStorage.NewBlobStore(), nil
	case "local":
		store, err := localStorage.New(localStorage.Config{BaseDir: cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcsStorage.New(client, gcsStorage.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}
