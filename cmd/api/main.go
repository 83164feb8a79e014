package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/salesops/notify-relay/internal/ai"
	"github.com/salesops/notify-relay/internal/chat"
	"github.com/salesops/notify-relay/internal/config"
	"github.com/salesops/notify-relay/internal/dispatch"
	"github.com/salesops/notify-relay/internal/handler"
	"github.com/salesops/notify-relay/internal/infra/postgresql"
	"github.com/salesops/notify-relay/internal/infra/postgresql/migrations"
	infraredis "github.com/salesops/notify-relay/internal/infra/redis"
	"github.com/salesops/notify-relay/internal/observability"
	"github.com/salesops/notify-relay/internal/payload"
	"github.com/salesops/notify-relay/internal/queue"
	"github.com/salesops/notify-relay/internal/repository"
	"github.com/salesops/notify-relay/internal/service"
	"github.com/salesops/notify-relay/internal/transport"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	spaceCacheTTL    = 30 * 24 * time.Hour
	consumerPrefetch = 8
	shutdownTimeout  = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("notify-relay terminated", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	spaceCache, err := infraredis.NewRedisSpaceCache(rdb, spaceCacheTTL)
	if err != nil {
		return fmt.Errorf("space cache initialization failed: %w", err)
	}

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	publisher := queue.NewRabbitMQPublisher(rabbit)
	defer publisher.Close()
	consumer := queue.NewRabbitMQConsumer(rabbit, consumerPrefetch, logger)

	metrics := observability.NewMetrics()
	dispatcher := dispatch.NewDispatcher(logger)

	repo := repository.NewGormOutboxRepo(db)

	chatSender, slackSender := buildSenders(cfg, spaceCache, dispatcher, metrics, logger)

	deliverer, err := service.NewDeliverer(
		repo,
		payload.NewBuilder(cfg.AppDomain),
		chatSender,
		slackSender,
		dispatcher,
		cfg.WebhookTargetURL,
		rateLimiter,
		logger,
	)
	if err != nil {
		return fmt.Errorf("deliverer initialization failed: %w", err)
	}
	deliverer.SetMetrics(metrics)

	notificationService, err := service.NewNotificationService(repo, publisher, logger)
	if err != nil {
		return fmt.Errorf("notification service initialization failed: %w", err)
	}

	worker, err := service.NewWorkerService(repo, consumer, deliverer, cfg.WorkerConcurrency, logger)
	if err != nil {
		return fmt.Errorf("worker initialization failed: %w", err)
	}

	location, err := time.LoadLocation(cfg.BusinessHoursTZ)
	if err != nil {
		return fmt.Errorf("invalid business hours timezone %q: %w", cfg.BusinessHoursTZ, err)
	}
	scanner, err := service.NewOutboxScanner(
		repo,
		deliverer,
		location,
		time.Duration(cfg.ScanIntervalMin)*time.Minute,
		0,
		logger,
	)
	if err != nil {
		return fmt.Errorf("outbox scanner initialization failed: %w", err)
	}

	chain, err := ai.NewChain(logger,
		ai.NewGeminiProvider(cfg.GeminiAPIKey),
		ai.NewDeepSeekProvider(cfg.DeepSeekAPIKey),
	)
	if err != nil {
		return fmt.Errorf("ai chain initialization failed: %w", err)
	}
	diagnosticService, err := service.NewDiagnosticService(chain, dispatcher, cfg.WebhookTargetURL, logger)
	if err != nil {
		return fmt.Errorf("diagnostic service initialization failed: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      "notify-relay",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(transport.CORS(cors.Config{
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization,X-Request-ID",
	}))
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterNotificationRoutes(app, notificationService); err != nil {
		return fmt.Errorf("failed to register notification routes: %w", err)
	}
	if err := handler.RegisterDiagnosticRoutes(app, diagnosticService); err != nil {
		return fmt.Errorf("failed to register diagnostic routes: %w", err)
	}
	app.Get("/metrics", func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(metrics.Handler())(c.Context())
		return nil
	})

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api listening", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down api")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	g.Go(func() error {
		return worker.Start(groupCtx)
	})

	g.Go(func() error {
		return scanner.Start(groupCtx)
	})

	logger.Info("notify-relay started",
		zap.Int("workerConcurrency", cfg.WorkerConcurrency),
		zap.Int("scanIntervalMinutes", cfg.ScanIntervalMin),
		zap.String("businessHoursTz", cfg.BusinessHoursTZ),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("notify-relay stopped")
	return nil
}

// buildSenders wires the optional channel senders. A missing credential
// disables its channel; deliveries routed there fail onto the outbox row
// instead of crashing startup.
func buildSenders(
	cfg *config.Config,
	spaceCache chat.SpaceCache,
	dispatcher *dispatch.Dispatcher,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (service.ChatSender, service.SlackSender) {
	var chatSender service.ChatSender
	if cfg.GoogleChatCreds != "" {
		account, err := chat.ParseServiceAccount(cfg.GoogleChatCreds)
		if err != nil {
			logger.Warn("google chat credentials invalid, chat channel disabled", zap.Error(err))
		} else {
			tokens, err := chat.NewTokenSource(account, resty.New())
			if err != nil {
				logger.Warn("google chat token source failed, chat channel disabled", zap.Error(err))
			} else {
				client, err := chat.NewGoogleChatClient(tokens, spaceCache, dispatcher, logger)
				if err != nil {
					logger.Warn("google chat client failed, chat channel disabled", zap.Error(err))
				} else {
					client.SetCacheObservers(metrics.IncSpaceCacheHit, metrics.IncSpaceCacheMiss)
					chatSender = client
				}
			}
		}
	} else {
		logger.Info("google chat credentials not set, chat channel disabled")
	}

	var slackSender service.SlackSender
	if cfg.SlackWebhookURL != "" {
		sender, err := chat.NewSlackSender(dispatcher, cfg.SlackWebhookURL)
		if err != nil {
			logger.Warn("slack sender failed, slack channel disabled", zap.Error(err))
		} else {
			slackSender = sender
		}
	} else {
		logger.Info("slack webhook not set, slack channel disabled")
	}

	return chatSender, slackSender
}
