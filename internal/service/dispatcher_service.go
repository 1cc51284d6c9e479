package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/procurio/be-purchase-requests/internal/client"
	"github.com/procurio/be-purchase-requests/internal/repository"
	"github.com/procurio/be-purchase-requests/internal/tenant"
)

// DispatcherService polls the outbox and publishes pending events. It runs as
// a single long-lived background loop; delivery is at-least-once, so running
// a second instance only increases duplicate-delivery probability.
type DispatcherService struct {
	outbox    repository.OutboxRepository
	publisher client.EventPublisher
	tctx      tenant.Context
	log       zerolog.Logger
}

// NewDispatcherService wires the dispatcher. tctx must be the cross-tenant
// system context; dequeuing fails closed on anything else.
func NewDispatcherService(outbox repository.OutboxRepository, publisher client.EventPublisher, tctx tenant.Context, log zerolog.Logger) *DispatcherService {
	return &DispatcherService{outbox: outbox, publisher: publisher, tctx: tctx, log: log}
}

// ProcessBatch dequeues up to batchSize unprocessed messages oldest-first,
// publishes each, and records the per-message outcome. Publish failures are
// recorded on the message and never abort the batch; the message stays
// unprocessed for a later pass.
func (s *DispatcherService) ProcessBatch(ctx context.Context, batchSize int) (published int, err error) {
	messages, err := s.outbox.Dequeue(ctx, s.tctx, batchSize)
	if err != nil {
		return 0, err
	}

	for _, msg := range messages {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}

		envelope := &client.EventEnvelope{
			MessageID:  msg.ID,
			RequestID:  msg.RequestID,
			TenantID:   msg.TenantID,
			EventType:  msg.EventType,
			OccurredAt: msg.OccurredAt,
			Payload:    msg.Payload,
		}

		if pubErr := s.publisher.Publish(ctx, envelope); pubErr != nil {
			s.log.Warn().
				Err(pubErr).
				Str("message_id", msg.ID.String()).
				Str("event_type", msg.EventType).
				Int("retry_count", msg.RetryCount+1).
				Msg("failed to publish outbox message")
			if markErr := s.outbox.MarkFailed(ctx, msg.ID, pubErr.Error()); markErr != nil {
				s.log.Error().Err(markErr).Str("message_id", msg.ID.String()).Msg("failed to record publish failure")
			}
			continue
		}

		if markErr := s.outbox.MarkSucceeded(ctx, msg.ID); markErr != nil {
			// The publish went out but the mark failed: the message will be
			// re-delivered on the next pass. Consumers deduplicate on
			// message_id.
			s.log.Error().Err(markErr).Str("message_id", msg.ID.String()).Msg("failed to mark outbox message processed")
			continue
		}
		published++
	}

	if published > 0 {
		s.log.Info().Int("published", published).Int("batch", len(messages)).Msg("outbox batch dispatched")
	}
	return published, nil
}

// Run polls on the given interval until the context is cancelled.
func (s *DispatcherService) Run(ctx context.Context, pollInterval time.Duration, batchSize int) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("outbox dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := s.ProcessBatch(ctx, batchSize); err != nil && ctx.Err() == nil {
				s.log.Error().Err(err).Msg("outbox batch failed")
			}
		}
	}
}

// RetentionSweeper removes expired idempotency records on a slow cadence,
// keeping expiry off the command hot path.
type RetentionSweeper struct {
	store     repository.IdempotencyStore
	retention time.Duration
	tctx      tenant.Context
	log       zerolog.Logger
}

// NewRetentionSweeper wires the sweeper. tctx must be the cross-tenant system
// context.
func NewRetentionSweeper(store repository.IdempotencyStore, retention time.Duration, tctx tenant.Context, log zerolog.Logger) *RetentionSweeper {
	return &RetentionSweeper{store: store, retention: retention, tctx: tctx, log: log}
}

// SweepOnce deletes records older than the retention window.
func (s *RetentionSweeper) SweepOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.retention)
	removed, err := s.store.DeleteExpired(ctx, s.tctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("idempotency records expired")
	}
	return removed, nil
}

// Run sweeps on the given period until the context is cancelled.
func (s *RetentionSweeper) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("retention sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error().Err(err).Msg("idempotency sweep failed")
			}
		}
	}
}
