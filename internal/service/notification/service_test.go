package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careflow/careflow-api/internal/email"
	"github.com/careflow/careflow-api/internal/model"
	"github.com/careflow/careflow-api/pkg/messaging"
)

type outbox struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (o *outbox) Send(ctx context.Context, msg email.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) messages() []email.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]email.Message(nil), o.sent...)
}

func relayed(t *testing.T, eventType string, notice model.AppointmentNotice) []byte {
	t.Helper()
	payload, err := json.Marshal(notice)
	require.NoError(t, err)
	raw, err := json.Marshal(messaging.Message{ID: uuid.New(), Type: eventType, AggregateID: notice.AppointmentID, Payload: payload})
	require.NoError(t, err)
	return raw
}

func notice() model.AppointmentNotice {
	iv, _ := model.NewInterval("2025-06-02", "09:00", "09:30")
	return model.AppointmentNotice{
		AppointmentID:    uuid.New(),
		Status:           model.AppointmentStatusScheduled,
		PatientName:      "Ada Lovelace",
		PatientEmail:     "ada@example.com",
		PractitionerName: "Dr. Grace Hopper",
		Interval:         iv,
		Reason:           "checkup",
	}
}

func TestHandleSendsForAppointmentEvents(t *testing.T) {
	mail := &outbox{}
	svc := NewService(messaging.NewMemoryBroker(), mail, "events", zerolog.Nop())

	require.NoError(t, svc.Handle(context.Background(), relayed(t, model.EventAppointmentCancelled, notice())))

	sent := mail.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "ada@example.com", sent[0].To)
	assert.Equal(t, "Your appointment was cancelled", sent[0].Subject)
	assert.Contains(t, sent[0].Text, "2025-06-02 09:00-09:30")
	assert.Contains(t, sent[0].HTML, "Dr. Grace Hopper")
}

func TestHandleIgnoresOtherEvents(t *testing.T) {
	mail := &outbox{}
	svc := NewService(messaging.NewMemoryBroker(), mail, "events", zerolog.Nop())

	require.NoError(t, svc.Handle(context.Background(), relayed(t, model.EventAppointmentCompleted, notice())))

	n := notice()
	n.PatientEmail = ""
	require.NoError(t, svc.Handle(context.Background(), relayed(t, model.EventAppointmentCreated, n)))
	assert.Empty(t, mail.messages())
}

func TestHandleErrors(t *testing.T) {
	mail := &outbox{err: errors.New("smtp down")}
	svc := NewService(messaging.NewMemoryBroker(), mail, "events", zerolog.Nop())

	assert.Error(t, svc.Handle(context.Background(), []byte("{")))
	assert.ErrorContains(t, svc.Handle(context.Background(), relayed(t, model.EventAppointmentCreated, notice())), "smtp down")
}

func TestRunConsumesBroker(t *testing.T) {
	broker := messaging.NewMemoryBroker()
	mail := &outbox{}
	svc := NewService(broker, mail, "events", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	var msg messaging.Message
	require.NoError(t, json.Unmarshal(relayed(t, model.EventAppointmentRescheduled, notice()), &msg))
	require.Eventually(t, func() bool {
		_ = broker.Publish(context.Background(), "events", msg)
		return len(mail.messages()) > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, "Your appointment has moved", mail.messages()[0].Subject)
}
