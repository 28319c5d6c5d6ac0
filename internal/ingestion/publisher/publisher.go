// Package publisher announces completed reloads of the shared record store
// on Kafka so that other search replicas rebuild their indexes.
package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/kafka"
)

// EventProducer is the slice of kafka.Producer the publisher needs.
type EventProducer interface {
	Publish(ctx context.Context, event kafka.Event) error
}

type Publisher struct {
	instanceID string
	producer   EventProducer
	logger     *slog.Logger
}

// New returns a Publisher tagging events with instanceID. A nil producer
// makes PublishReload a no-op, which is how single-instance deployments run.
func New(instanceID string, producer EventProducer) *Publisher {
	return &Publisher{
		instanceID: instanceID,
		producer:   producer,
		logger:     slog.Default().With("component", "publisher"),
	}
}

func (p *Publisher) InstanceID() string {
	return p.instanceID
}

// PublishReload announces that the store now holds records rows whose index
// fingerprint is fingerprint. Publish failures are logged and returned; the
// local reload has already succeeded.
func (p *Publisher) PublishReload(ctx context.Context, records int, fingerprint string) error {
	if p == nil || p.producer == nil {
		return nil
	}
	event := kafka.Event{
		Key: p.instanceID,
		Value: ingestion.ReloadEvent{
			InstanceID:  p.instanceID,
			Records:     records,
			Fingerprint: fingerprint,
			ReloadedAt:  time.Now().UTC(),
		},
	}
	if err := p.producer.Publish(ctx, event); err != nil {
		p.logger.Error("failed to publish reload event, replicas keep their current index",
			"records", records,
			"fingerprint", fingerprint,
			"error", err,
		)
		return err
	}
	p.logger.Info("reload event published", "records", records, "fingerprint", fingerprint)
	return nil
}
