package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careflow/careflow-api/internal/model"
	"github.com/careflow/careflow-api/internal/repository"
	"github.com/careflow/careflow-api/internal/repository/memory"
	"github.com/careflow/careflow-api/pkg/logger"
	"github.com/careflow/careflow-api/pkg/messaging"
	"github.com/careflow/careflow-api/pkg/metrics"
)

type failingBroker struct {
	messaging.Broker
}

func (failingBroker) Publish(context.Context, string, interface{}) error {
	return errors.New("broker down")
}

func seedEvent(t *testing.T, store *memory.Store) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, store.WithTx(context.Background(), func(tx repository.Tx) error {
		return tx.Outbox().Create(context.Background(), &model.OutboxEvent{
			ID:            id,
			AggregateType: "appointment",
			AggregateID:   uuid.New(),
			EventType:     model.EventAppointmentCreated,
			Payload:       json.RawMessage(`{}`),
		})
	}))
	return id
}

func quietLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

func TestProcessBatchPublishesAndMarksProcessed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := memory.NewStore()
	id := seedEvent(t, store)

	broker := messaging.NewMemoryBroker()
	ch, err := broker.Subscribe(ctx, "careflow.events")
	require.NoError(t, err)

	p := NewOutboxProcessor(store, broker, OutboxProcessorConfig{Channel: "careflow.events"}, quietLogger(), metrics.NewNop())
	n, err := p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case raw := <-ch:
		var msg messaging.Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, id, msg.ID)
		assert.Equal(t, model.EventAppointmentCreated, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("event not relayed")
	}

	events := store.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, model.OutboxStatusProcessed, events[0].Status)

	n, err = p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessBatchRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedEvent(t, store)

	p := NewOutboxProcessor(store, failingBroker{}, OutboxProcessorConfig{Channel: "c", MaxRetries: 2}, quietLogger(), metrics.NewNop())

	_, err := p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusRetry, store.OutboxEvents()[0].Status)

	_, err = p.ProcessBatch(ctx)
	require.NoError(t, err)
	ev := store.OutboxEvents()[0]
	assert.Equal(t, model.OutboxStatusFailed, ev.Status)
	assert.Equal(t, 2, ev.RetryCount)
	require.NotNil(t, ev.ErrorMessage)
	assert.Equal(t, "broker down", *ev.ErrorMessage)
}
