// Package client holds adapters for external collaborators: the NATS event
// publisher and the identity service client.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Subject convention for dispatched domain events.
const subjectPrefix = "procurement.requests."

// EventPublisher is the dispatcher's publish step. Implementations must
// return an error on failure so the dispatcher can record it on the message.
type EventPublisher interface {
	Publish(ctx context.Context, envelope *EventEnvelope) error
}

// EventEnvelope is the wire shape of a dispatched event.
type EventEnvelope struct {
	MessageID  uuid.UUID       `json:"message_id"`
	RequestID  uuid.UUID       `json:"request_id"`
	TenantID   uuid.UUID       `json:"tenant_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NATSPublisher publishes event envelopes to NATS. Delivery is at-least-once:
// a crash between publish and the outbox mark re-delivers, so consumers must
// deduplicate on message_id.
type NATSPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NewNATSPublisher connects to the given NATS URL.
func NewNATSPublisher(url string, log zerolog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, log: log}, nil
}

// Publish sends the envelope to procurement.requests.<event_type> and flushes
// so failures surface to the caller instead of dying in the client buffer.
func (p *NATSPublisher) Publish(ctx context.Context, envelope *EventEnvelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	subject := subjectPrefix + envelope.EventType
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush publish to %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("message_id", envelope.MessageID.String()).
		Msg("event published")
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.log.Warn().Err(err).Msg("failed to drain NATS connection")
	}
}
