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
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/kursadbilgin/courier/internal/config"
	"github.com/kursadbilgin/courier/internal/domain"
	"github.com/kursadbilgin/courier/internal/handler"
	"github.com/kursadbilgin/courier/internal/infra/postgresql"
	"github.com/kursadbilgin/courier/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/courier/internal/infra/redis"
	"github.com/kursadbilgin/courier/internal/observability"
	"github.com/kursadbilgin/courier/internal/priority"
	"github.com/kursadbilgin/courier/internal/provider"
	"github.com/kursadbilgin/courier/internal/queue"
	"github.com/kursadbilgin/courier/internal/ratelimit"
	"github.com/kursadbilgin/courier/internal/repository"
	"github.com/kursadbilgin/courier/internal/service"
	"github.com/kursadbilgin/courier/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 10 * time.Second
	consumerPrefetch = 10
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("courier stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("courier stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	location, err := cfg.Location()
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.DefaultPoolConfig)
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

	checks := []handler.HealthCheck{handler.SQLCheck("postgres", sqlDB)}

	var limiter ratelimit.RateLimiter = ratelimit.Unlimited{}
	if cfg.RedisURL != "" {
		rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		defer rdb.Close()

		redisLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec, cfg.RateLimitOverrides())
		if err != nil {
			return fmt.Errorf("rate limiter initialization failed: %w", err)
		}
		limiter = redisLimiter
		checks = append(checks, handler.RedisCheck("redis", rdb))
	} else {
		logger.Warn("REDIS_URL not set, sends are not rate limited")
	}

	transports, err := newTransportRouter(cfg, logger)
	if err != nil {
		return err
	}

	policy, err := queue.NewBackoffPolicy(cfg.BaseBackoff(), cfg.MaxRetries)
	if err != nil {
		return err
	}
	retryQueue, err := queue.NewRetryQueue(policy)
	if err != nil {
		return err
	}

	communications := repository.NewGormCommunicationRepo(db)
	deliveryLog := repository.NewGormDeliveryLogRepo(db)

	worker, err := service.NewDeliveryWorker(retryQueue, transports, limiter, service.DeliveryWorkerConfig{
		PollInterval:     cfg.PollInterval(),
		TransportTimeout: cfg.TransportTimeout(),
		Concurrency:      cfg.WorkerConcurrency,
	}, logger)
	if err != nil {
		return err
	}
	worker.SetMetrics(metrics)
	worker.SetDeliveryLog(deliveryLog)
	worker.SetCommunicationStore(communications)

	outbox, err := service.NewOutboxService(retryQueue, deliveryLog, logger)
	if err != nil {
		return err
	}

	scorer := priority.NewScorer(communications, logger,
		priority.WithJitter(priority.UniformJitter(cfg.ChannelStability)),
		priority.WithMetrics(metrics),
	)
	planner := priority.NewResponsePlanner(communications, location, logger)
	inbox, err := service.NewInboxService(communications, scorer, planner, logger)
	if err != nil {
		return err
	}
	inbox.SetMetrics(metrics)
	inbox.SetDefaultLimit(cfg.InboxDefaultLimit)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RabbitMQURL != "" {
		mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		defer mq.Close()

		worker.SetDeadLetterPublisher(queue.NewRabbitMQPublisher(mq))
		checks = append(checks, handler.HealthCheck{Name: "rabbitmq", Check: mq.Ping})

		consumer := queue.NewRabbitMQConsumer(mq, consumerPrefetch, logger)
		for _, name := range queue.IntakeQueueNames() {
			g.Go(func() error {
				return consumer.Consume(gctx, name, outbox.HandleIntake)
			})
		}
	} else {
		logger.Warn("RABBITMQ_URL not set, broker intake and dead letters are disabled")
	}

	app := fiber.New(fiber.Config{
		AppName:               "courier",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(transport.CorrelationID())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, checks...)
	if err := handler.RegisterDeliveryRoutes(app, outbox); err != nil {
		return err
	}
	if err := handler.RegisterInboxRoutes(app, inbox); err != nil {
		return err
	}

	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("courier api started",
			zap.Int("port", cfg.APIPort),
			zap.Strings("channels", channelNames(transports.Channels())),
		)
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", zap.Error(err))
		}
		if pending := outbox.Pending(); pending > 0 {
			logger.Warn("undelivered attempts dropped on shutdown", zap.Int("pending", pending))
		}
		return nil
	})

	return g.Wait()
}

// newTransportRouter registers a transport for every channel that has a provider configured.
func newTransportRouter(cfg *config.Config, logger *zap.Logger) (*provider.Router, error) {
	router := provider.NewRouter()

	if cfg.SMTPHost != "" {
		smtp, err := provider.NewSMTPTransport(provider.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			UseTLS:   cfg.SMTPUseTLS,
			UseSSL:   cfg.SMTPUseSSL,
			From:     cfg.SMTPFrom,
			Timeout:  cfg.TransportTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("smtp transport initialization failed: %w", err)
		}
		router.Register(domain.ChannelEmail, smtp)
	}

	if cfg.SMSWebhookURL != "" {
		webhook, err := provider.NewWebhookTransport(cfg.SMSWebhookURL)
		if err != nil {
			return nil, fmt.Errorf("sms webhook initialization failed: %w", err)
		}
		router.Register(domain.ChannelSMS, webhook)
	}

	if len(router.Channels()) == 0 {
		logger.Warn("no delivery transports configured, every send will fail permanently")
	}
	return router, nil
}

func channelNames(channels []domain.Channel) []string {
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.String())
	}
	return names
}
