package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopmesh/saga/internal/customer"
	"github.com/shopmesh/saga/internal/order/repository"
	"github.com/shopmesh/saga/internal/order/service"
	"github.com/shopmesh/saga/internal/order/transport/kafka"
	"github.com/shopmesh/saga/pkg/config"
	"github.com/shopmesh/saga/pkg/db"
	kafka2 "github.com/shopmesh/saga/pkg/kafka"
	"github.com/shopmesh/saga/pkg/mylogger"
	repository2 "github.com/shopmesh/saga/pkg/outbox/repository"
	"github.com/shopmesh/saga/pkg/outbox/worker"
	"github.com/shopmesh/saga/pkg/utils"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := utils.InitTracer(ctx, "order-service")
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}

	pool, err := db.NewPostgresDB(cfg.Postgres.URL)
	if err != nil {
		log.Fatalf("failed to create pool: %v", err)
	}

	logger, err := config.NewLogger(config.LoggerConfig{
		Level: "Info",
		Env:   cfg.Env,
	})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	outboxRepo := repository2.NewPostgresRepository(pool, logger)
	orderRepo := repository.NewOrderRepository(pool, outboxRepo, logger)
	gate := customer.NewHTTPGate(cfg.CustomerGate.URL, cfg.CustomerGate.Timeout, logger)

	orderService := service.NewOrderService(
		orderRepo,
		gate,
		cfg.Kafka.IntentTopic,
		cfg.Saga.OutcomeTimeout,
		logger,
	)
	defer orderService.Close()

	producer, err := kafka2.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}

	dispatcher := worker.NewDispatcher(outboxRepo, producer, logger, cfg.Outbox.Interval, cfg.Outbox.BatchSize)

	go dispatcher.Start(ctx)

	if err := orderService.ResumePending(ctx); err != nil {
		mylogger.Error(ctx, logger, "Failed to resume pending orders", zap.Error(err))
	}

	consumer := kafka.NewConsumer(orderService, producer, logger)

	if err := consumer.Start(ctx, cfg.Kafka.Brokers, cfg.Kafka.OutcomeTopic, cfg.Kafka.OrderGroup); err != nil {
		mylogger.Error(ctx, logger, "Consumer stopped", zap.Error(err))
	}

	<-ctx.Done()

	shutdownCtx, exit := context.WithTimeout(context.Background(), time.Second*5)
	defer exit()

	mylogger.Info(shutdownCtx, logger, "Shutting down order service")

	if err := producer.Close(); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to close producer", zap.Error(err))
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to shut down telemetry", zap.Error(err))
	}

	pool.Close()
}
