// Package publisher emits forward events to NATS so downstream consumers
// (digests, archival, alerting) can react without touching the pipeline.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/blockedby/tg-autoforwarder/internal/forwarder"
)

// SubjectForwarded is the subject forward events are published on.
const SubjectForwarded = "forwarder.message.forwarded"

// NATSClient interface to allow mocking
type NATSClient interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher implements forwarder.EventPublisher
type NATSPublisher struct {
	nc NATSClient
}

// NewNATSPublisher creates a new publisher
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: conn}
}

// PublishForwarded publishes one forward event.
func (p *NATSPublisher) PublishForwarded(_ context.Context, event forwarder.ForwardedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.nc.Publish(SubjectForwarded, data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
