package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"catalogsync/internal/clock"
	"catalogsync/internal/config"
	"catalogsync/internal/database"
	"catalogsync/internal/events"
	"catalogsync/internal/guard"
	"catalogsync/internal/images"
	"catalogsync/internal/ingest"
	"catalogsync/internal/metrics"
	"catalogsync/internal/models"
	"catalogsync/internal/repository"
	"catalogsync/internal/scheduler"
	"catalogsync/internal/services/shopify"
)

// App holds the services shared by the API server, the worker and the
// serverless entry point.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Clock     clock.Clock
	Store     repository.ProductStore
	Metrics   *metrics.Metrics
	Publisher events.Publisher
	Ingestor  *ingest.Ingestor
	Attacher  *images.Attacher
	Library   *images.Library
	// Shopify is nil when no shop credentials are configured.
	Shopify   *shopify.Bridge
	Scheduler *scheduler.Scheduler

	closers []func() error
}

type Options struct {
	// UsePQ opens PostgreSQL through lib/pq instead of pgx.
	UsePQ bool
	// Registry receives the metrics; nil disables them.
	Registry *prometheus.Registry
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Clock: clock.New()}

	if cfg.MetricsEnabled && opts.Registry != nil {
		a.Metrics = metrics.New(opts.Registry)
	}

	store, err := a.openStore(ctx, opts.UsePQ)
	if err != nil {
		return nil, err
	}
	a.Store = store

	g, err := guard.NewFromURL(cfg.RedisURL, cfg.Ingest.LockTTL)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Publisher = events.New(cfg.KafkaBrokers, cfg.KafkaEventsTopic, logger)
	a.closers = append(a.closers, a.Publisher.Close)

	a.Ingestor = ingest.New(store, logger.Named("ingest"),
		ingest.WithClock(a.Clock),
		ingest.WithGuard(g),
		ingest.WithObserver(a.Metrics),
		ingest.WithPublisher(a.Publisher),
	)

	source, err := imageSource(ctx, cfg.Images)
	if err != nil {
		a.Close()
		return nil, err
	}
	partitions, err := partitions(cfg.Images)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Attacher = images.NewAttacher(store, source, logger.Named("images"), images.Config{
		Partitions: partitions,
		Extensions: cfg.Images.Extensions,
		URLPrefix:  cfg.Images.URLPrefix,
		Guard:      g,
		Observer:   a.Metrics,
	})
	a.Library = images.NewLibrary(store, cfg.Images.UploadDir, cfg.Images.URLPrefix, logger.Named("images"))

	if cfg.ShopifyConfigured() {
		client := shopify.NewClient(cfg.Shopify.ShopDomain, cfg.Shopify.AccessToken, cfg.Shopify.APIVersion, logger.Named("shopify"))
		a.Shopify = shopify.NewBridge(store, client, shopify.NewTransformer(cfg.Shopify.Vendor), logger.Named("shopify"),
			shopify.WithClock(a.Clock),
			shopify.WithDelay(cfg.Shopify.SyncDelay),
			shopify.WithObserver(a.Metrics),
			shopify.WithPublisher(a.Publisher),
		)
	}

	a.Scheduler = scheduler.New(a.Ingestor, store, scheduler.Config{
		Source:   cfg.Ingest.SourcePath,
		Interval: cfg.AutoSync.Interval,
		Watch:    cfg.AutoSync.Watch,
	}, a.Clock, logger.Named("autosync"), a.Metrics)

	return a, nil
}

func (a *App) openStore(ctx context.Context, usePQ bool) (repository.ProductStore, error) {
	cfg := a.Config
	if cfg.StoreDriver == "mongo" {
		client, err := database.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { return client.Disconnect(context.Background()) })
		store := repository.NewMongoStore(client.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection), a.Clock)
		if err := store.EnsureIndexes(ctx); err != nil {
			a.Close()
			return nil, err
		}
		return store, nil
	}

	var (
		db  *database.Database
		err error
	)
	if usePQ && !strings.HasPrefix(cfg.DatabaseURL, "sqlite://") {
		db, err = database.NewWithPQ(cfg.DatabaseURL)
	} else {
		db, err = database.New(cfg.DatabaseURL)
	}
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	return repository.NewGormStore(db.DB, a.Clock), nil
}

func imageSource(ctx context.Context, cfg config.ImagesConfig) (images.Source, error) {
	if strings.HasPrefix(cfg.Root, "s3://") {
		return images.NewS3SourceFromURL(ctx, cfg.Root, cfg.S3Region)
	}
	return images.NewFSSource(cfg.Root), nil
}

func partitions(cfg config.ImagesConfig) ([]images.Partition, error) {
	parts := images.DefaultPartitions()
	for i := range parts {
		raw := cfg.FrontPolicy
		if parts[i].View == models.ViewBack {
			raw = cfg.BackPolicy
		}
		if raw == "" {
			continue
		}
		policy, err := images.ParsePolicy(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", parts[i].Dir, err)
		}
		parts[i].Policy = policy
	}
	return parts, nil
}

// Close stops the scheduler and releases connections in reverse order.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Disable()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
