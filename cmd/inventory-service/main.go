package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopmesh/saga/internal/inventory/repository"
	"github.com/shopmesh/saga/internal/inventory/service"
	"github.com/shopmesh/saga/internal/inventory/transport/kafka"
	"github.com/shopmesh/saga/pkg/config"
	"github.com/shopmesh/saga/pkg/db"
	kafka2 "github.com/shopmesh/saga/pkg/kafka"
	"github.com/shopmesh/saga/pkg/mylogger"
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

	tp, err := utils.InitTracer(ctx, "inventory-service")
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

	stockRepo := repository.NewStockRepository(pool, logger)
	outcomeLog := repository.NewOutcomeLog(pool, logger)

	producer, err := kafka2.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}

	reservationService := service.NewReservationService(
		stockRepo,
		outcomeLog,
		producer,
		cfg.Kafka.OutcomeTopic,
		logger,
	)

	consumer := kafka.NewConsumer(reservationService, producer, logger)

	if err := consumer.Start(ctx, cfg.Kafka.Brokers, cfg.Kafka.IntentTopic, cfg.Kafka.InventoryGroup); err != nil {
		mylogger.Error(ctx, logger, "Consumer stopped", zap.Error(err))
	}

	<-ctx.Done()

	shutdownCtx, exit := context.WithTimeout(context.Background(), time.Second*5)
	defer exit()

	mylogger.Info(shutdownCtx, logger, "Shutting down inventory service")

	if err := producer.Close(); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to close producer", zap.Error(err))
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to shut down telemetry", zap.Error(err))
	}

	pool.Close()
}
