package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurio/be-purchase-requests/internal/apperrors"
	"github.com/procurio/be-purchase-requests/internal/client"
	"github.com/procurio/be-purchase-requests/internal/domain"
	"github.com/procurio/be-purchase-requests/internal/repository"
	"github.com/procurio/be-purchase-requests/internal/service"
	"github.com/procurio/be-purchase-requests/internal/tenant"
)

type capturingPublisher struct {
	published []*client.EventEnvelope
	failFor   map[string]error
}

func (p *capturingPublisher) Publish(ctx context.Context, envelope *client.EventEnvelope) error {
	if err := p.failFor[envelope.EventType]; err != nil {
		return err
	}
	p.published = append(p.published, envelope)
	return nil
}

func seedOutbox(t *testing.T, store *memStore, eventTypes ...domain.EventType) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC()
	for i, et := range eventTypes {
		err := store.Outbox().Append(ctx, domain.Event{
			Type:       et,
			RequestID:  uuid.New(),
			TenantID:   tenantA,
			OccurredAt: base.Add(time.Duration(i) * time.Millisecond),
			Payload:    json.RawMessage(`{}`),
		})
		require.NoError(t, err)
	}
}

func TestProcessBatch_PublishesAndMarksProcessed(t *testing.T) {
	store := newMemStore()
	publisher := &capturingPublisher{}
	dispatcher := service.NewDispatcherService(store.Outbox(), publisher, tenant.SystemContext(), zerolog.Nop())

	seedOutbox(t, store, domain.EventSubmitted, domain.EventStepApproved, domain.EventApproved)

	published, err := dispatcher.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, published)

	var types []string
	for _, env := range publisher.published {
		types = append(types, env.EventType)
	}
	assert.Equal(t, []string{
		string(domain.EventSubmitted),
		string(domain.EventStepApproved),
		string(domain.EventApproved),
	}, types, "oldest-first delivery")

	for _, row := range store.outboxRows() {
		assert.NotNil(t, row.ProcessedAt)
	}

	// A second pass finds nothing to do.
	published, err = dispatcher.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, published)
	assert.Len(t, publisher.published, 3)
}

func TestProcessBatch_FailureRecordedAndBatchContinues(t *testing.T) {
	store := newMemStore()
	publisher := &capturingPublisher{failFor: map[string]error{
		string(domain.EventStepApproved): errors.New("broker unavailable"),
	}}
	dispatcher := service.NewDispatcherService(store.Outbox(), publisher, tenant.SystemContext(), zerolog.Nop())

	seedOutbox(t, store, domain.EventSubmitted, domain.EventStepApproved, domain.EventApproved)

	published, err := dispatcher.ProcessBatch(context.Background(), 10)
	require.NoError(t, err, "per-message failures never abort the batch")
	assert.Equal(t, 2, published)

	rows := store.outboxRows()
	require.Len(t, rows, 3)
	failed := rows[1]
	assert.Nil(t, failed.ProcessedAt, "failed message stays unprocessed")
	assert.Equal(t, 1, failed.RetryCount)
	require.NotNil(t, failed.LastError)
	assert.Contains(t, *failed.LastError, "broker unavailable")

	// Broker recovers: the next pass delivers only the stranded message.
	publisher.failFor = nil
	published, err = dispatcher.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, published)
	assert.Equal(t, string(domain.EventStepApproved), publisher.published[len(publisher.published)-1].EventType)
}

func TestProcessBatch_RespectsBatchSize(t *testing.T) {
	store := newMemStore()
	publisher := &capturingPublisher{}
	dispatcher := service.NewDispatcherService(store.Outbox(), publisher, tenant.SystemContext(), zerolog.Nop())

	seedOutbox(t, store, domain.EventSubmitted, domain.EventStepApproved, domain.EventApproved)

	published, err := dispatcher.ProcessBatch(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, published)

	published, err = dispatcher.ProcessBatch(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, published)
}

func TestProcessBatch_StopsOnCancelledContext(t *testing.T) {
	store := newMemStore()
	publisher := &capturingPublisher{}
	dispatcher := service.NewDispatcherService(store.Outbox(), publisher, tenant.SystemContext(), zerolog.Nop())

	seedOutbox(t, store, domain.EventSubmitted, domain.EventApproved)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dispatcher.ProcessBatch(ctx, 10)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, publisher.published)
}

func TestRetentionSweeper_RemovesOnlyExpiredRecords(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	tctx := tenant.New(tenantA, requesterID)

	stale := &repository.IdempotencyRecord{
		RequestKey:  "stale",
		CommandType: "approve",
		Result:      json.RawMessage(`{"success":true}`),
		CreatedAt:   time.Now().UTC().Add(-72 * time.Hour),
	}
	fresh := &repository.IdempotencyRecord{
		RequestKey:  "fresh",
		CommandType: "approve",
		Result:      json.RawMessage(`{"success":true}`),
		CreatedAt:   time.Now().UTC(),
	}
	for _, rec := range []*repository.IdempotencyRecord{stale, fresh} {
		created, err := store.Idempotency().Record(ctx, tctx, rec)
		require.NoError(t, err)
		require.True(t, created)
	}

	sweeper := service.NewRetentionSweeper(store.Idempotency(), 48*time.Hour, tenant.SystemContext(), zerolog.Nop())
	removed, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	rec, err := store.Idempotency().Get(ctx, tctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, rec)
	rec, err = store.Idempotency().Get(ctx, tctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCrossTenantPaths_RejectRequestScopedContext(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	seedOutbox(t, store, domain.EventSubmitted)

	// A request-scoped context must never reach the cross-tenant dequeue or
	// sweep, no matter which tenant it carries.
	userCtx := tenant.New(tenantA, requesterID)

	_, err := store.Outbox().Dequeue(ctx, userCtx, 10)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.Code(err))

	_, err = store.Idempotency().DeleteExpired(ctx, userCtx, time.Now().UTC())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.Code(err))

	dispatcher := service.NewDispatcherService(store.Outbox(), &capturingPublisher{}, userCtx, zerolog.Nop())
	_, err = dispatcher.ProcessBatch(ctx, 10)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.Code(err))

	msgs, err := store.Outbox().Dequeue(ctx, tenant.SystemContext(), 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
