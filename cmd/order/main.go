package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fasttechfoods/order-service/internal/repository"
	"github.com/fasttechfoods/order-service/internal/service"
	orderhttp "github.com/fasttechfoods/order-service/internal/transport/http"
	"github.com/fasttechfoods/order-service/internal/transport/rabbit"
	"github.com/fasttechfoods/order-service/pkg/config"
	"github.com/fasttechfoods/order-service/pkg/db"
	"github.com/fasttechfoods/order-service/pkg/mylogger"
	"github.com/fasttechfoods/order-service/pkg/outbox/dispatcher"
	outboxrepo "github.com/fasttechfoods/order-service/pkg/outbox/repository"
	"github.com/fasttechfoods/order-service/pkg/rabbitmq"
	"github.com/fasttechfoods/order-service/pkg/txmanager"
	"github.com/fasttechfoods/order-service/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const serviceName = "order-service"

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()

	logger, err := config.NewLogger(config.LoggerConfig{
		Level: cfg.LogLevel,
		Env:   cfg.Env,
	})
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := utils.InitTracer(ctx, serviceName)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down tracer provider", zap.Error(err))
		}
	}()

	pool, err := db.NewPostgresDB(cfg.Postgres.URL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rabbitConn, err := rabbitmq.Connect(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Fatal("failed to connect to rabbitmq", zap.Error(err))
	}
	defer rabbitConn.Close() //nolint:errcheck

	publisher, err := rabbitmq.NewPublisher(rabbitConn, logger)
	if err != nil {
		logger.Fatal("failed to create publisher", zap.Error(err))
	}
	defer publisher.Close() //nolint:errcheck

	orderRepo := repository.NewOrderRepository(pool, logger)
	outboxStore := outboxrepo.NewOutboxStore(pool, logger)
	txManager := txmanager.New(pool, logger)
	orderService := service.NewOrderService(orderRepo, outboxStore, txManager, logger)

	outboxDispatcher := dispatcher.New(outboxStore, logger, dispatcher.Config{
		Interval:   cfg.Outbox.Interval,
		BatchSize:  cfg.Outbox.BatchSize,
		MaxRetries: cfg.Outbox.MaxRetries,
	})
	rabbit.RegisterPublishers(outboxDispatcher, publisher)

	go outboxDispatcher.Start(ctx)

	for queue, handler := range rabbit.Handlers(orderService, logger) {
		consumer := rabbitmq.NewQueueConsumer(rabbitConn, queue, handler, cfg.Consumer.HandlerTimeout, logger)

		go func(queue string) {
			if err := consumer.Start(ctx); err != nil {
				mylogger.Error(ctx, logger, "Consumer stopped",
					zap.String("queue", queue),
					zap.Error(err),
				)
			}
		}(queue)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTP.Timeout,
		WriteTimeout: cfg.HTTP.Timeout,
	})

	orderhttp.NewOrderHandlers(orderService, logger).Register(app)
	orderhttp.NewOutboxHandlers(outboxStore, logger).Register(app)

	go func() {
		mylogger.Info(ctx, logger, "HTTP server starting", zap.String("port", cfg.HTTP.Port))

		if err := app.Listen(cfg.HTTP.Port); err != nil {
			logger.Fatal("http server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()

	mylogger.Info(context.Background(), logger, "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("failed to shut down http server", zap.Error(err))
	}
}
