package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OpenPecha/webuddhist/backend/internal/uploader"
	"github.com/OpenPecha/webuddhist/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const retriesHeader = "x-retries"

// ErrMalformedMessage marks a message that can never be processed.
var ErrMalformedMessage = errors.New("malformed message")

// Disposition is where a failed message went.
type Disposition string

const (
	Retried      Disposition = "retry"
	DeadLettered Disposition = "dlq"
	Requeued     Disposition = "requeue"
)

func retries(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// HandleProcessingError routes a failed delivery. Errors a re-run cannot fix go
// straight to the dead-letter queue; others go to the retry queue until
// maxRetries is reached. A busy lease is retried without counting against the
// limit. Dead-lettered bodies lose their bearer token. The delivery is acked
// once republished, and requeued if publishing fails.
func HandleProcessingError(ctx context.Context, ch Channel, msg amqp091.Delivery, queueName string, maxRetries int, procErr error) Disposition {
	attempts := retries(msg.Headers)
	busy := errors.Is(procErr, uploader.ErrIngestionInProgress)
	permanent := errors.Is(procErr, ErrMalformedMessage) || uploader.IsPermanent(procErr)

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if procErr != nil {
		headers["x-last-error"] = procErr.Error()
	}

	body := msg.Body
	target, disposition := queueName+retrySuffix, Retried
	switch {
	case permanent || (!busy && attempts >= maxRetries):
		target, disposition = queueName+dlqSuffix, DeadLettered
		body = withoutToken(body)
	case !busy:
		headers[retriesHeader] = int32(attempts + 1)
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := publish(pubCtx, ch, target, body, headers); err != nil {
		logger.Error("[Queue] Failed to republish message", "queue", target, "err", err)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			logger.Error("[Queue] Failed to nack message", "err", nackErr)
		}
		return Requeued
	}

	logger.Info("[Queue] Message rerouted", "queue", target, "retries", attempts, "permanent", permanent)
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
	return disposition
}

// StaleRunFailer is the part of *ledger.Ledger used on startup.
type StaleRunFailer interface {
	FailStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RecoverStaleRuns marks runs left running by a crashed worker as failed. Their
// messages were never acked, so RabbitMQ redelivers them.
func RecoverStaleRuns(ctx context.Context, runs StaleRunFailer, olderThan time.Duration) error {
	n, err := runs.FailStale(ctx, olderThan)
	if err != nil {
		return fmt.Errorf("failed to fail stale runs: %w", err)
	}
	if n == 0 {
		logger.Debug("[Queue] No stale runs found")
		return nil
	}
	logger.Info("[Queue] Marked stale runs as failed", "count", n)
	return nil
}
