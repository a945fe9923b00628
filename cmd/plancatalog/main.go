package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	flog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/PlanCatalog/app/repository"
	apiv1 "github.com/ManuelReschke/PlanCatalog/internal/api/v1"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/cache"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/database"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/env"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/invalidation"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/override"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/pricing"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/reloader"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/router"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/snapshotsource"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/subscription"
)

func main() {
	app, manager := NewApplication()
	manager.Start()

	go func() {
		if err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))); err != nil {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	flog.Info("[Main] Shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		flog.Errorf("[Main] Server shutdown: %v", err)
	}
	manager.Stop()
}

// catalogSource is where tenant catalogs are read from and uploaded to.
type catalogSource interface {
	catalog.SnapshotSource
	apiv1.SnapshotWriter
}

func NewApplication() (*fiber.App, *reloader.Manager) {
	env.SetupEnvFile()
	if env.IsDev() {
		flog.SetLevel(flog.LevelDebug)
	}
	database.SetupDatabase()
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalFactory()

	var (
		source  catalogSource         = repos.GetCatalogSnapshotRepository()
		tenants reloader.TenantLister = repos.GetCatalogSnapshotRepository()
	)
	switch env.GetEnv("CATALOG_SOURCE", "db") {
	case "db":
	case "s3":
		cfg, err := snapshotsource.LoadConfig()
		if err != nil {
			panic(err)
		}
		s3Source, err := snapshotsource.NewClient(context.Background(), cfg)
		if err != nil {
			panic(err)
		}
		source, tenants = s3Source, nil
		flog.Infof("[Main] Reading catalogs from s3://%s/%s", cfg.BucketName, cfg.Prefix)
	default:
		panic(fmt.Sprintf("unknown CATALOG_SOURCE %q, expected db or s3", env.GetEnv("CATALOG_SOURCE", "")))
	}

	store := catalog.NewStore(source)
	registry := override.NewRegistry(repos.GetPriceOverrideRepository(), override.Options{
		UseStrictOverridePattern: env.GetBool("CATALOG_PRICE_OVERRIDE_STRICT_DELIMITER", false),
	})
	planCache := override.NewCache(override.CacheConfig{
		MaxSize: env.GetInt("OVERRIDE_CACHE_SIZE", override.DefaultCacheConfig().MaxSize),
		TTL:     env.GetDuration("OVERRIDE_CACHE_TTL", override.DefaultCacheConfig().TTL),
	})
	resolutions := counter.New(cache.GetClient(), database.GetDB())
	subscriptions := subscription.NewService(repos.GetSubscriptionRepository())

	facade := pricing.NewFacade(store, registry, planCache).
		WithSubscriptions(subscriptions).
		WithRecorder(resolutions)

	manager := reloader.NewManager(reloader.Config{
		ReloadInterval: env.GetDuration("CATALOG_RELOAD_INTERVAL", 0),
		FlushInterval:  env.GetDuration("COUNTER_FLUSH_INTERVAL", 0),
	}, store, tenants, resolutions, invalidation.NewBus(cache.GetClient(), env.GetEnv("CATALOG_RELOAD_CHANNEL", "")))

	server := apiv1.NewAPIServer(apiv1.Dependencies{
		Prices:          facade,
		Subscriptions:   subscriptions,
		Reloader:        manager,
		Snapshots:       source,
		Overrides:       repos.GetPriceOverrideRepository(),
		OverridePattern: registry.Pattern(),
	})

	app := fiber.New(fiber.Config{
		AppName:   "plancatalog",
		BodyLimit: 16 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	specPath := env.GetEnv("OPENAPI_FILE", apiv1.DefaultSpecPath)
	var apiMiddleware []fiber.Handler
	if env.GetBool("API_VALIDATE_REQUESTS", true) {
		doc, err := apiv1.LoadSpec(context.Background(), specPath)
		if err != nil {
			panic(err)
		}
		validate, err := apiv1.RequestValidator(doc)
		if err != nil {
			panic(err)
		}
		apiMiddleware = append(apiMiddleware, validate)
		flog.Infof("[Main] Validating API requests against %s", specPath)
	}

	// ROUTER
	router.InstallRouter(app,
		router.NewDocsRouter(specPath),
		router.NewHttpRouter(map[string]router.HealthCheck{
			"database": pingDatabase,
			"cache":    cache.Ping,
		}),
		router.NewApiRouter(server, apiMiddleware...),
	)

	return app, manager
}

func pingDatabase() error {
	sqlDB, err := database.GetDB().DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
