package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OpenPecha/webuddhist/backend/internal/queue"
	"github.com/OpenPecha/webuddhist/backend/internal/server"
	"github.com/OpenPecha/webuddhist/backend/internal/telemetry"
	"github.com/OpenPecha/webuddhist/backend/internal/util"
	"github.com/OpenPecha/webuddhist/backend/pkg/logger"
	"github.com/OpenPecha/webuddhist/backend/pkg/logger/console"

	_ "github.com/lib/pq"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
		JSON:  util.GetEnv("LOG_FORMAT") == "json",
	})
	logger.Init(consoleLogger)

	shutdownTracing, err := telemetry.Init(ctx, "text-uploader-worker")
	if err != nil {
		logger.Fatal("Failed to init tracing", "err", err)
	}
	defer shutdownTracing(context.Background())

	services, err := server.NewServices(ctx)
	if err != nil {
		logger.Fatal("Failed to init services", "err", err)
	}
	defer services.Close()

	leaseTTL := util.GetEnvSeconds("LEASE_TTL_SECONDS", 5*time.Minute)
	if services.Ledger != nil {
		if err := queue.RecoverStaleRuns(ctx, services.Ledger, leaseTTL); err != nil {
			logger.Error("Failed to recover stale runs", "err", err)
		}
	}

	// Init rabbitmq
	conn, err := queue.Init(ctx)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.UploadQueue}); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	// prefetch=1: one upload at a time per worker
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()
	if err := consumerCh.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(queue.UploadQueue, "upload_queue_consumer", false, false, false, false, nil)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.UploadQueue, "err", err)
	}

	maxRetries := util.GetEnvInt("UPLOAD_MAX_RETRIES", 3)
	serviceToken := util.GetEnv("WORKER_API_TOKEN")
	logger.Info("Listening for messages", "queue", queue.UploadQueue)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				logger.Info("Stopping consumer", "queue", queue.UploadQueue)
				return nil
			case msg, ok := <-msgs:
				if !ok {
					return errors.New("upload queue delivery channel closed")
				}
				handle(gctx, services, ch, msg, maxRetries, serviceToken)
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped", "err", err)
		return
	}
	logger.Info("Shutdown signal received, exiting...")
}

func handle(ctx context.Context, services *server.Services, ch *amqp.Channel, msg amqp.Delivery, maxRetries int, serviceToken string) {
	start := time.Now()
	logger.Info("Received message", "queue", queue.UploadQueue)

	if err := queue.ProcessUploadMessage(ctx, services.Runner, msg.Body, serviceToken); err != nil {
		logger.Error("Error processing message", "queue", queue.UploadQueue, "err", err)
		disposition := queue.HandleProcessingError(ctx, ch, msg, queue.UploadQueue, maxRetries, err)
		logger.Info("Message rerouted", "disposition", disposition, "duration", time.Since(start).Round(time.Millisecond))
		return
	}

	if err := msg.Ack(false); err != nil {
		logger.Error("Failed to ack message", "err", err)
	}
	logger.Info("Message processed successfully", "duration", time.Since(start).Round(time.Millisecond))
}
