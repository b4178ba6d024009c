package app

import (
	"context"
	"log"
	"time"

	"github.com/Mark777g/CajeroVortexFinal/internal/store"
	"github.com/Mark777g/CajeroVortexFinal/pkg/metrics"
	"github.com/Mark777g/CajeroVortexFinal/pkg/rabbitmq"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = 1200 * time.Millisecond
	defaultStaleProcessing = 2 * time.Minute
)

// OutboxDispatcher drains the audit outbox and publishes each queued event
// to the broker. Rows it cannot publish go back to pending with an
// exponential retry delay, so an audit event is delivered eventually no
// matter how long the broker stays down.
type OutboxDispatcher struct {
	repo                store.Repository
	producer            rabbitmq.Publisher
	collector           *metrics.Collector
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
}

func NewOutboxDispatcher(repo store.Repository, producer rabbitmq.Publisher, collector *metrics.Collector) *OutboxDispatcher {
	return &OutboxDispatcher{
		repo:                repo,
		producer:            producer,
		collector:           collector,
		batchSize:           defaultBatchSize,
		pollInterval:        defaultPollInterval,
		staleProcessingTime: defaultStaleProcessing,
	}
}

// Run polls the outbox until the context is canceled.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.flushOnce(ctx); err != nil {
				log.Printf("level=error component=outbox_dispatcher msg=\"flush failed\" err=%v", err)
			}
		}
	}
}

func (d *OutboxDispatcher) flushOnce(ctx context.Context) error {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	messages, err := d.repo.ClaimOutboxMessages(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	for _, message := range messages {
		if err := d.producer.Publish(ctx, message.Exchange, message.RoutingKey, message.Payload); err != nil {
			d.collector.RecordOutboxPublish(false)
			retryAfter := retryDelaySeconds(message.Attempts)
			if markErr := d.repo.MarkOutboxFailed(ctx, message.ID, retryAfter, err.Error()); markErr != nil {
				log.Printf("level=error component=outbox_dispatcher msg=\"failed to mark message for retry\" id=%d err=%v", message.ID, markErr)
			}
			continue
		}
		d.collector.RecordOutboxPublish(true)
		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			log.Printf("level=error component=outbox_dispatcher msg=\"failed to mark message published\" id=%d err=%v", message.ID, err)
		}
	}
	return nil
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << minInt(attempt, 8)
	if delay > 300 {
		return 300
	}
	return delay
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
