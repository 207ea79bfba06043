package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/alarm-engine/internal/config"
	"github.com/kursadbilgin/alarm-engine/internal/dispatch"
	"github.com/kursadbilgin/alarm-engine/internal/handler"
	"github.com/kursadbilgin/alarm-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/alarm-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/alarm-engine/internal/infra/redis"
	"github.com/kursadbilgin/alarm-engine/internal/observability"
	"github.com/kursadbilgin/alarm-engine/internal/queue"
	"github.com/kursadbilgin/alarm-engine/internal/ratelimit"
	"github.com/kursadbilgin/alarm-engine/internal/registry"
	"github.com/kursadbilgin/alarm-engine/internal/repository"
	"github.com/kursadbilgin/alarm-engine/internal/service"
	"github.com/kursadbilgin/alarm-engine/internal/transport"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

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
		logger.Fatal("alarm-engine stopped with error", zap.Error(err))
	}
	logger.Info("alarm-engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()

	reg := registry.New(logger)
	metrics.RegisterActiveConnections(reg.ActiveCount)

	dispatcher := dispatch.NewDispatcher(reg, metrics, logger)

	var checks []handler.Checker

	var rdb *goredis.Client
	if cfg.RedisEnabled() {
		client, err := infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		defer client.Close()
		rdb = client
		checks = append(checks, infraredis.Checker{Client: rdb})
	}

	var limiter ratelimit.RateLimiter
	if cfg.DispatchRateLimitPerSec > 0 {
		redisLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.DispatchRateLimitPerSec)
		if err != nil {
			return fmt.Errorf("rate limiter initialization failed: %w", err)
		}
		limiter = redisLimiter
	}

	var db *gorm.DB
	var letters repository.DeadLetterRepository
	if cfg.DatabaseEnabled() {
		conn, err := postgresql.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
		defer postgresql.Close(conn) //nolint:errcheck
		if err := migrations.Migrate(conn); err != nil {
			return fmt.Errorf("database migrations failed: %w", err)
		}
		db = conn
		letters = repository.NewGormDeadLetterRepo(db)
		checks = append(checks, postgresql.Checker{DB: db})
	}

	g, groupCtx := errgroup.WithContext(ctx)

	var publisher service.AlarmPublisher
	if cfg.BrokerEnabled() {
		rmq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		defer rmq.Close() //nolint:errcheck
		checks = append(checks, rmq)

		brokerPublisher := service.NewBrokerPublisher(
			queue.NewRabbitMQPublisher(rmq),
			cfg.MaxRetries,
			cfg.PublishTimeout(),
			logger,
		)
		brokerPublisher.SetMetrics(metrics)
		publisher = brokerPublisher

		consumer := queue.NewRabbitMQConsumer(rmq, cfg.ConsumerPrefetch, logger)
		alarmConsumer, err := service.NewAlarmConsumer(consumer, dispatcher, publisher, service.AlarmConsumerOptions{
			MaxRetries:     cfg.MaxRetries,
			Concurrency:    cfg.ConsumerConcurrency,
			MaxConcurrency: cfg.ConsumerMaxConcurrency,
			RateLimiter:    limiter,
		}, logger)
		if err != nil {
			return fmt.Errorf("alarm consumer initialization failed: %w", err)
		}
		alarmConsumer.SetMetrics(metrics)
		g.Go(func() error { return alarmConsumer.Start(groupCtx) })

		if letters != nil {
			archiver, err := service.NewDeadLetterArchiver(consumer, letters, logger)
			if err != nil {
				return fmt.Errorf("dead letter archiver initialization failed: %w", err)
			}
			archiver.SetMetrics(metrics)
			g.Go(func() error { return archiver.Start(groupCtx) })
		}
	} else {
		logger.Info("broker disabled, alarms are delivered directly")
	}

	coordinator, err := service.NewDeliveryCoordinator(reg, dispatcher, publisher, logger)
	if err != nil {
		return fmt.Errorf("delivery coordinator initialization failed: %w", err)
	}
	coordinator.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "alarm-engine",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(requestid.New())
	app.Use(recover.New())
	app.Use(handler.RequestContext())
	app.Use(metrics.HTTPMiddleware())

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, checks...)
	if err := handler.RegisterAlarmRoutes(app, coordinator, handler.StreamOptions{
		Timeout:           cfg.StreamTimeout(),
		HeartbeatInterval: cfg.HeartbeatInterval(),
	}, logger); err != nil {
		return err
	}
	if letters != nil {
		if err := handler.RegisterDeadLetterRoutes(app, letters); err != nil {
			return err
		}
	}

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("alarm-engine api started",
			zap.Int("port", cfg.APIPort),
			zap.Bool("broker", publisher != nil),
			zap.Bool("rateLimit", limiter != nil),
			zap.Bool("deadLetterArchive", letters != nil),
		)
		if err := app.Listen(addr); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down", zap.Int("activeConnections", reg.ActiveCount()))

		reg.CloseAll()
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Warn("http server shutdown failed", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}
