package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careflow/careflow-api/internal/model"
	"github.com/careflow/careflow-api/internal/repository/memory"
	"github.com/careflow/careflow-api/internal/service/txn"
	apperrors "github.com/careflow/careflow-api/pkg/errors"
	"github.com/careflow/careflow-api/pkg/metrics"
	blobs "github.com/careflow/careflow-api/pkg/storage/memory"
)

type fixture struct {
	svc     *Service
	store   *memory.Store
	doctor  model.User
	nurse   model.User
	patient model.Patient
	caller  model.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	coord := txn.NewCoordinator(store, blobs.NewStore(), metrics.NewNop(), zerolog.Nop(), txn.Config{UnitTimeout: time.Second})
	clock := func() time.Time { return time.Date(2025, time.May, 30, 10, 0, 0, 0, time.UTC) }

	f := &fixture{
		svc:     NewService(coord, WithClock(clock)),
		store:   store,
		doctor:  model.User{Base: model.Base{ID: uuid.New()}, FirstName: "Ada", LastName: "Osei", Role: model.RoleDoctor, IsActive: true},
		nurse:   model.User{Base: model.Base{ID: uuid.New()}, FirstName: "Ben", LastName: "Ruiz", Role: model.RoleNurse, IsActive: true},
		patient: model.Patient{Base: model.Base{ID: uuid.New()}, FirstName: "Cy", LastName: "Dale", Email: "cy@example.com"},
	}
	f.caller = model.Caller{UserID: f.nurse.ID, Role: model.RoleNurse}
	store.SeedUser(f.doctor)
	store.SeedUser(f.nurse)
	store.SeedPatient(f.patient)
	return f
}

func (f *fixture) book(date, start, end string) (*model.Appointment, error) {
	return f.svc.Create(context.Background(), f.caller, model.CreateAppointmentRequest{
		PatientID:      f.patient.ID,
		PractitionerID: f.doctor.ID,
		Date:           date,
		StartTime:      start,
		EndTime:        end,
		Reason:         "check-up",
	})
}

func TestBookingScenario(t *testing.T) {
	f := newFixture(t)

	first, err := f.book("2025-06-01", "09:00", "09:30")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusScheduled, first.Status)
	assert.Equal(t, 30, first.DurationMinutes)
	assert.Equal(t, f.nurse.ID, first.CreatedBy)

	_, err = f.book("2025-06-01", "09:15", "09:45")
	assert.True(t, apperrors.Is(err, apperrors.ErrSlotConflict))

	_, err = f.book("2025-06-01", "09:30", "10:00")
	assert.NoError(t, err, "back-to-back slots do not overlap")

	events := f.store.OutboxEvents()
	require.Len(t, events, 2)
	assert.Equal(t, model.EventAppointmentCreated, events[0].EventType)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.book("2025-05-29", "09:00", "09:30")
	assert.True(t, apperrors.Is(err, apperrors.ErrPastDate))

	_, err = f.book("2025-05-30", "08:00", "08:30")
	assert.NoError(t, err, "same-day bookings are allowed")

	_, err = f.book("2025-06-01", "9:00", "09:30")
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = f.book("2025-06-01", "10:00", "09:30")
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = f.svc.Create(ctx, f.caller, model.CreateAppointmentRequest{
		PatientID: f.patient.ID, PractitionerID: f.nurse.ID, Date: "2025-06-01", StartTime: "09:00", EndTime: "09:30", Reason: "x",
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidRole))

	_, err = f.svc.Create(ctx, f.caller, model.CreateAppointmentRequest{
		PatientID: f.patient.ID, PractitionerID: uuid.New(), Date: "2025-06-01", StartTime: "09:00", EndTime: "09:30", Reason: "x",
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	_, err = f.svc.Create(ctx, f.caller, model.CreateAppointmentRequest{
		PatientID: uuid.New(), PractitionerID: f.doctor.ID, Date: "2025-06-01", StartTime: "09:00", EndTime: "09:30", Reason: "x",
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestPatientBooksOnlyForThemselves(t *testing.T) {
	f := newFixture(t)
	other := uuid.New()
	_, err := f.svc.Create(context.Background(), model.Caller{UserID: other, Role: model.RolePatient}, model.CreateAppointmentRequest{
		PatientID: f.patient.ID, PractitionerID: f.doctor.ID, Date: "2025-06-01", StartTime: "09:00", EndTime: "09:30", Reason: "x",
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden))
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.book("2025-06-01", "09:00", "09:30")
	require.NoError(t, err)
	_, err = f.book("2025-06-01", "10:00", "10:30")
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, f.caller, a.ID, model.RescheduleAppointmentRequest{Date: "2025-06-01", StartTime: "10:15", EndTime: "10:45"})
	assert.True(t, apperrors.Is(err, apperrors.ErrSlotConflict))

	moved, err := f.svc.Reschedule(ctx, f.caller, a.ID, model.RescheduleAppointmentRequest{Date: "2025-06-01", StartTime: "09:10", EndTime: "09:50"})
	require.NoError(t, err, "overlapping only its own old slot is fine")
	assert.Equal(t, model.MustClock("09:10"), moved.Start)
	assert.Equal(t, 40, moved.DurationMinutes)
	assert.Equal(t, model.AppointmentStatusScheduled, moved.Status)

	_, err = f.svc.Reschedule(ctx, f.caller, uuid.New(), model.RescheduleAppointmentRequest{Date: "2025-06-01", StartTime: "12:00", EndTime: "12:30"})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestTerminalStatesFreeTheSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cancelled, err := f.book("2025-06-01", "09:00", "09:30")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, f.caller, cancelled.ID, "patient request")
	require.NoError(t, err)
	_, err = f.book("2025-06-01", "09:00", "09:30")
	require.NoError(t, err)

	completed, err := f.book("2025-06-01", "11:00", "11:30")
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, f.caller, completed.ID, model.CompletionNotes{Diagnosis: "healthy"})
	require.NoError(t, err)
	_, err = f.book("2025-06-01", "11:00", "11:30")
	require.NoError(t, err)

	avail, err := f.svc.CheckAvailability(ctx, f.doctor.ID, "2025-06-01", "11:15", "11:45")
	require.NoError(t, err)
	assert.False(t, avail.Available)
	avail, err = f.svc.CheckAvailability(ctx, f.doctor.ID, "2025-06-01", "12:00", "12:30")
	require.NoError(t, err)
	assert.True(t, avail.Available)
}

func TestCancelAndCompleteRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.book("2025-06-01", "09:00", "09:30")
	require.NoError(t, err)

	done, err := f.svc.Complete(ctx, f.caller, a.ID, model.CompletionNotes{Diagnosis: "flu"})
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCompleted, done.Status)
	eventsBefore := len(f.store.OutboxEvents())

	again, err := f.svc.Complete(ctx, f.caller, a.ID, model.CompletionNotes{Diagnosis: "other"})
	require.NoError(t, err, "re-completing is a no-op")
	assert.Equal(t, "flu", again.Diagnosis)
	assert.Len(t, f.store.OutboxEvents(), eventsBefore)

	_, err = f.svc.Cancel(ctx, f.caller, a.ID, "late")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))

	b, err := f.book("2025-06-02", "09:00", "09:30")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, f.caller, b.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, f.caller, b.ID, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrAlreadyInState))
	_, err = f.svc.Reschedule(ctx, f.caller, b.ID, model.RescheduleAppointmentRequest{Date: "2025-06-03", StartTime: "09:00", EndTime: "09:30"})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.book("2025-06-01", "09:00", "09:30")
	require.NoError(t, err)

	a, err = f.svc.Confirm(ctx, f.caller, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusConfirmed, a.Status)

	a, err = f.svc.Start(ctx, f.caller, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusInProgress, a.Status)

	_, err = f.svc.MarkNoShow(ctx, f.caller, a.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))

	_, err = f.book("2025-06-01", "09:00", "09:30")
	assert.True(t, apperrors.Is(err, apperrors.ErrSlotConflict), "in-progress still blocks")

	b, err := f.book("2025-06-01", "13:00", "13:30")
	require.NoError(t, err)
	b, err = f.svc.MarkNoShow(ctx, f.caller, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusNoShow, b.Status)
	_, err = f.book("2025-06-01", "13:00", "13:30")
	assert.NoError(t, err)

	logs := f.store.AuditLogs()
	assert.NotEmpty(t, logs)
}

func TestConcurrentBookingsOnlyOneWins(t *testing.T) {
	f := newFixture(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.book("2025-06-01", "09:00", "09:30")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case apperrors.Is(err, apperrors.ErrSlotConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
	assert.Equal(t, 9, conflicts)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	_, err := f.book("2025-06-02", "09:00", "09:30")
	require.NoError(t, err)
	_, err = f.book("2025-06-01", "09:00", "09:30")
	require.NoError(t, err)

	date := model.NewDate(2025, time.June, 1)
	list, err := f.svc.List(context.Background(), &model.AppointmentFilters{PractitionerID: f.doctor.ID, Date: &date})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Date.Equal(date))
}
