package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ordo/vendor-engine/internal/application/engine"
	"github.com/ordo/vendor-engine/internal/domain/vendor"
	"github.com/ordo/vendor-engine/internal/infrastructure/archive"
	"github.com/ordo/vendor-engine/internal/infrastructure/cache"
	"github.com/ordo/vendor-engine/internal/infrastructure/config"
	"github.com/ordo/vendor-engine/internal/infrastructure/event"
	"github.com/ordo/vendor-engine/internal/infrastructure/invoice"
	"github.com/ordo/vendor-engine/internal/infrastructure/logger"
	"github.com/ordo/vendor-engine/internal/infrastructure/persistence"
	"github.com/ordo/vendor-engine/internal/infrastructure/runlock"
	"github.com/ordo/vendor-engine/internal/infrastructure/scheduler"
	"github.com/ordo/vendor-engine/internal/infrastructure/vendors"
	"github.com/ordo/vendor-engine/internal/infrastructure/vendors/dentaldirect"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&cfg.Log)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting vendor engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
	)

	// Database connection
	db, err := persistence.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected")

	// Redis connection: run locks, price cache, event pub/sub
	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Error("Error closing redis", zap.Error(err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to redis", zap.Error(err))
	}
	log.Info("Redis connected")

	// Repositories
	orderRepo := persistence.NewGormVendorOrderRepository(db.DB)
	productRepo := persistence.NewGormProductRepository(db.DB)
	credRepo := persistence.NewGormCredentialRepository(db.DB)

	// Price staleness resolves per vendor slug; vendor ids are mapped
	// through the linked credentials known at startup, everything else
	// falls back to the default window.
	slugByVendor := make(map[uuid.UUID]vendor.Slug)
	if pairs, err := credRepo.ActivePairs(context.Background()); err != nil {
		log.Warn("Could not preload vendor slugs for price staleness", zap.Error(err))
	} else {
		for _, pair := range pairs {
			slugByVendor[pair.VendorID] = pair.Slug
		}
	}
	priceCache := cache.NewRedisPriceCache(redisClient, func(vendorID uuid.UUID) time.Duration {
		if slug, ok := slugByVendor[vendorID]; ok {
			return cfg.Engine.StalenessFor(slug.String())
		}
		return cfg.Engine.DefaultPriceStaleness
	})

	// Run lock: one active run per office-vendor pair, cluster-wide
	locker := runlock.NewRedisLocker(redisClient, cfg.Scheduler.LockTTL)

	// Invoice pipeline: chromedp renderer plus optional S3 archive
	renderer := invoice.NewChromedpRenderer(&invoice.ChromedpConfig{
		Timeout:   cfg.Engine.InvoiceRenderTimeout,
		NoSandbox: cfg.App.Env != "development",
		Logger:    log,
	})
	defer func() {
		if err := renderer.Close(); err != nil {
			log.Error("Error closing renderer", zap.Error(err))
		}
	}()

	var archiveStore engine.ArchiveStore
	if cfg.Archive.Enabled {
		s3Store, err := archive.NewS3Store(&cfg.Archive, archive.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to initialize invoice archive", zap.Error(err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s3Store.EnsureBucket(ctx); err != nil {
			cancel()
			log.Fatal("Failed to ensure archive bucket", zap.Error(err))
		}
		cancel()
		archiveStore = s3Store
		log.Info("Invoice archive enabled", zap.String("bucket", cfg.Archive.Bucket))
	}

	// Vendor adapters
	dentalDirect, err := dentaldirect.NewAdapter(
		dentaldirect.NewConfig(cfg.Vendors.DentalDirectBaseURL), log)
	if err != nil {
		log.Fatal("Failed to initialize dental_direct adapter", zap.Error(err))
	}
	registry, err := vendors.NewStaticRegistry(dentalDirect)
	if err != nil {
		log.Fatal("Failed to build adapter registry", zap.Error(err))
	}
	for _, adapter := range registry.List() {
		log.Info("Vendor adapter registered",
			zap.String("slug", adapter.Slug().String()),
			zap.Bool("blocking", adapter.Blocking()))
	}

	// Engine
	eng := engine.New(
		registry,
		orderRepo,
		productRepo,
		credRepo,
		priceCache,
		event.NewRedisPublisher(redisClient, log),
		locker,
		renderer,
		archiveStore,
		log,
		engine.Options{
			RelinkThreshold: cfg.Engine.RelinkThreshold,
			SearchPageBound: cfg.Engine.SearchPageBound,
			SearchFanout:    cfg.Engine.SearchFanout,
			BlockingWorkers: cfg.Engine.BlockingWorkers,
		},
	)
	defer eng.Close()

	// History fetch scheduler
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		fetchScheduler *scheduler.HistoryScheduler
		sweep          *scheduler.SweepTrigger
	)
	if cfg.Scheduler.Enabled {
		fetchScheduler, err = scheduler.NewHistoryScheduler(scheduler.Config{
			Enabled:           true,
			MaxConcurrentJobs: cfg.Engine.HistoryFanout,
			JobTimeout:        cfg.Scheduler.JobTimeout,
			RetryAttempts:     cfg.Scheduler.RetryAttempts,
			RetryDelay:        cfg.Scheduler.RetryDelay,
			FetchWindow:       cfg.Scheduler.FetchWindow,
		}, eng, log)
		if err != nil {
			log.Fatal("Failed to build history scheduler", zap.Error(err))
		}
		if err := fetchScheduler.Start(ctx); err != nil {
			log.Fatal("Failed to start history scheduler", zap.Error(err))
		}

		sweep = scheduler.NewSweepTrigger(scheduler.DefaultSweepTriggerConfig(), fetchScheduler, credRepo, log)
		if err := sweep.Start(ctx); err != nil {
			log.Fatal("Failed to start sweep trigger", zap.Error(err))
		}
		log.Info("History fetch scheduler running",
			zap.Duration("fetch_window", cfg.Scheduler.FetchWindow))
	} else {
		log.Info("History fetch scheduler disabled")
	}

	<-ctx.Done()
	log.Info("Shutting down")

	if sweep != nil {
		sweep.Stop()
	}
	if fetchScheduler != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := fetchScheduler.Stop(stopCtx); err != nil {
			log.Error("Scheduler shutdown incomplete", zap.Error(err))
		}
	}
	log.Info("Vendor engine stopped")
}
