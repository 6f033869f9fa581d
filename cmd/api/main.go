package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/forumnotify/debounce-engine/internal/config"
	"github.com/forumnotify/debounce-engine/internal/debouncer"
	"github.com/forumnotify/debounce-engine/internal/delivery"
	"github.com/forumnotify/debounce-engine/internal/domain"
	"github.com/forumnotify/debounce-engine/internal/forum"
	"github.com/forumnotify/debounce-engine/internal/handler"
	"github.com/forumnotify/debounce-engine/internal/infra/postgresql"
	"github.com/forumnotify/debounce-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/forumnotify/debounce-engine/internal/infra/redis"
	"github.com/forumnotify/debounce-engine/internal/observability"
	"github.com/forumnotify/debounce-engine/internal/repository"
	"github.com/forumnotify/debounce-engine/internal/service"
	"github.com/forumnotify/debounce-engine/internal/stream"
	"github.com/forumnotify/debounce-engine/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	mailer, err := transport.NewWebhookMailer(cfg.MailGatewayURL)
	if err != nil {
		logger.Fatal("mailer initialization failed", zap.Error(err))
	}

	linker, err := delivery.NewHMACUnsubscribeLinker(cfg.SiteBaseURL, cfg.UnsubscribeSecret)
	if err != nil {
		logger.Fatal("unsubscribe linker initialization failed", zap.Error(err))
	}

	envelope, err := delivery.NewEnvelope(cfg.SiteName, linker)
	if err != nil {
		logger.Fatal("envelope initialization failed", zap.Error(err))
	}

	store, err := forum.NewStore(db)
	if err != nil {
		logger.Fatal("forum store initialization failed", zap.Error(err))
	}

	registry, err := buildRegistry(store)
	if err != nil {
		logger.Fatal("stream registry initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	reporter := observability.NewLogReporter(logger)

	batchRepo := repository.NewGormPendingBatchRepo(db)
	deliveryLog := repository.NewGormDeliveryLogRepo(db)

	engine, err := debouncer.New(registry, batchRepo, logger)
	if err != nil {
		logger.Fatal("debouncer initialization failed", zap.Error(err))
	}
	engine.SetMetrics(metrics)

	pipeline, err := delivery.NewPipeline(store, envelope, mailer, deliveryLog, rateLimiter, reporter, logger)
	if err != nil {
		logger.Fatal("delivery pipeline initialization failed", zap.Error(err))
	}
	pipeline.SetMetrics(metrics)

	scheduler, err := service.NewFlushScheduler(
		batchRepo,
		registry,
		pipeline,
		store,
		time.Duration(cfg.FlushIntervalSeconds)*time.Second,
		cfg.FlushClaimLimit,
		logger,
	)
	if err != nil {
		logger.Fatal("flush scheduler initialization failed", zap.Error(err))
	}
	scheduler.SetMetrics(metrics)
	scheduler.SetReporter(reporter)
	engine.SetWake(scheduler.Wake)

	previewService, err := service.NewPreviewService(registry, store, envelope, store, logger)
	if err != nil {
		logger.Fatal("preview service initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handler.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterEventRoutes(app, engine, registry); err != nil {
		logger.Fatal("event routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterAdminRoutes(app, scheduler, previewService, deliveryLog, cfg.AdminToken); err != nil {
		logger.Fatal("admin routes registration failed", zap.Error(err))
	}
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scheduler.Start(groupCtx)
	})

	g.Go(func() error {
		logger.Info("debounce-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		logger.Error("shutdown with error", zap.Error(err))
	}
	logger.Info("debounce-engine api stopped")
}

// buildRegistry declares the notification streams served by this deployment.
// Reply and subscription activity is digested; direct messages go out
// immediately; karma changes wait for the recipient's daily batch hour.
func buildRegistry(store *forum.Store) (*stream.Registry, error) {
	replyDigest, err := stream.NewDigestConsumer(store, "New replies to your posts")
	if err != nil {
		return nil, err
	}
	subscriptionDigest, err := stream.NewDigestConsumer(store, "New posts from your subscriptions")
	if err != nil {
		return nil, err
	}
	karmaDigest, err := stream.NewDigestConsumer(store, "Your daily karma summary")
	if err != nil {
		return nil, err
	}
	perEvent, err := stream.NewPerEventConsumer(store)
	if err != nil {
		return nil, err
	}

	return stream.NewRegistry(
		stream.Config{
			Name:       "replyNotification",
			Policy:     domain.DelayedBy(15 * time.Minute),
			Consumer:   replyDigest,
			Combinable: true,
		},
		stream.Config{
			Name:       "subscribedPostNotification",
			Policy:     domain.DelayedBy(30 * time.Minute),
			Consumer:   subscriptionDigest,
			Combinable: true,
		},
		stream.Config{
			Name:       "karmaChangeNotification",
			Policy:     domain.AtDailyTime(8, "UTC"),
			Consumer:   karmaDigest,
			Combinable: true,
		},
		stream.Config{
			Name:       "privateMessage",
			Policy:     domain.Immediate(),
			Consumer:   perEvent,
			Combinable: false,
		},
	)
}
