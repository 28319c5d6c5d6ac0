// Package consumer keeps a replica's index in step with the shared record
// store. Another replica's reload event triggers a full rebuild from the
// store; this replica's own events are ignored.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/kafka"
)

// ReloadConsumer wraps a Kafka consumer subscribed to reload events.
type ReloadConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *ReloadConsumer {
	return &ReloadConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "reload-consumer"),
	}
}

// Start consumes until ctx is cancelled.
func (rc *ReloadConsumer) Start(ctx context.Context) error {
	rc.logger.Info("reload consumer starting")
	return rc.consumer.Start(ctx)
}

// HandleMessage returns a MessageHandler that rebuilds engine from src on
// every reload event not published by instanceID. afterReload, when set, runs
// after each successful rebuild.
func HandleMessage(
	engine *indexer.Engine,
	src indexer.RecordSource,
	instanceID string,
	afterReload func(ctx context.Context, stats indexer.BuildStats),
) kafka.MessageHandler {
	logger := slog.Default().With("component", "reload-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.ReloadEvent](value)
		if err != nil {
			logger.Error("failed to decode reload event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		if event.InstanceID == instanceID {
			logger.Debug("ignoring own reload event")
			return nil
		}

		stats, err := engine.Hydrate(ctx, src)
		if err != nil {
			return fmt.Errorf("rebuilding index for reload from %s: %w", event.InstanceID, err)
		}
		if stats.Fingerprint != event.Fingerprint {
			logger.Warn("index differs from the announced reload, store may have changed since",
				"from", event.InstanceID,
				"announced", event.Fingerprint,
				"local", stats.Fingerprint,
			)
		}
		if afterReload != nil {
			afterReload(ctx, stats)
		}
		logger.Info("index reloaded from peer event",
			"from", event.InstanceID,
			"records", stats.Records,
			"generation", stats.Generation,
		)
		return nil
	}
}
