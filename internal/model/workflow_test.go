package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

var now = time.Date(2025, time.June, 1, 8, 0, 0, 0, time.UTC)

func TestAppointmentCancel(t *testing.T) {
	by := uuid.New()

	a := &Appointment{Status: AppointmentStatusConfirmed}
	require.NoError(t, a.Cancel(by, "sick", now))
	assert.Equal(t, AppointmentStatusCancelled, a.Status)
	assert.Equal(t, by, *a.CancelledBy)
	assert.Equal(t, "sick", *a.CancellationReason)

	err := a.Cancel(by, "again", now)
	assert.True(t, apperrors.Is(err, apperrors.ErrAlreadyInState))

	done := &Appointment{Status: AppointmentStatusCompleted}
	err = done.Cancel(by, "late", now)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
	assert.Equal(t, AppointmentStatusCompleted, done.Status)

	noShow := &Appointment{Status: AppointmentStatusNoShow}
	assert.NoError(t, noShow.Cancel(by, "cleanup", now))
}

func TestAppointmentCompleteIsIdempotent(t *testing.T) {
	a := &Appointment{Status: AppointmentStatusInProgress}
	changed, err := a.Complete(CompletionNotes{Diagnosis: "flu"}, now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "flu", a.Diagnosis)

	changed, err = a.Complete(CompletionNotes{Diagnosis: "cold"}, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "flu", a.Diagnosis)

	cancelled := &Appointment{Status: AppointmentStatusCancelled}
	_, err = cancelled.Complete(CompletionNotes{}, now)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestAppointmentRescheduleRequiresActive(t *testing.T) {
	iv := Interval{Date: NewDate(2025, time.June, 2), Start: MustClock("10:00"), End: MustClock("10:45")}

	a := &Appointment{Status: AppointmentStatusScheduled}
	require.NoError(t, a.Reschedule(iv, now))
	assert.Equal(t, 45, a.DurationMinutes)
	assert.Equal(t, AppointmentStatusScheduled, a.Status)

	for _, s := range []AppointmentStatus{AppointmentStatusCompleted, AppointmentStatusCancelled, AppointmentStatusNoShow} {
		err := (&Appointment{Status: s}).Reschedule(iv, now)
		assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition), s)
	}
}

func TestAppointmentSecondaryTransitions(t *testing.T) {
	a := &Appointment{Status: AppointmentStatusScheduled, Interval: Interval{Start: MustClock("09:00"), End: MustClock("09:30")}}
	require.NoError(t, a.Confirm(now))
	assert.True(t, apperrors.Is(a.Confirm(now), apperrors.ErrAlreadyInState))
	require.NoError(t, a.BeginVisit(now))
	assert.Equal(t, AppointmentStatusInProgress, a.Status)
	assert.True(t, apperrors.Is(a.BeginVisit(now), apperrors.ErrAlreadyInState))
	assert.Equal(t, MustClock("09:00"), a.Start, "the interval start stays reachable on the appointment")
	assert.True(t, apperrors.Is(a.MarkNoShow(now), apperrors.ErrInvalidTransition))

	b := &Appointment{Status: AppointmentStatusScheduled}
	require.NoError(t, b.MarkNoShow(now))
	assert.False(t, b.Status.Active())
	assert.True(t, b.Status.Terminal())
}

func TestPrescriptionGraph(t *testing.T) {
	by := uuid.New()
	pharmacyX := uuid.New()

	p := &Prescription{Status: PrescriptionStatusDraft, ValidUntil: now.Add(DefaultPrescriptionValidity)}
	assert.True(t, apperrors.Is(p.Dispense(by, now), apperrors.ErrInvalidTransition), "draft cannot be dispensed")

	require.NoError(t, p.Sign(by, now))
	assert.True(t, apperrors.Is(p.Sign(by, now), apperrors.ErrInvalidTransition))

	require.NoError(t, p.AssignPharmacy(pharmacyX, now))
	assert.Equal(t, PrescriptionStatusSent, p.Status)
	require.NotNil(t, p.SentAt)

	require.NoError(t, p.Dispense(by, now))
	err := p.AssignPharmacy(uuid.New(), now)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
	assert.Equal(t, pharmacyX, *p.PharmacyID)
}

func TestPrescriptionDispenseFromSigned(t *testing.T) {
	p := &Prescription{Status: PrescriptionStatusSigned}
	require.NoError(t, p.Dispense(uuid.New(), now))
	assert.Equal(t, PrescriptionStatusDispensed, p.Status)
}

func TestPrescriptionExpiry(t *testing.T) {
	p := &Prescription{Status: PrescriptionStatusSigned, ValidUntil: now.Add(-time.Minute)}
	assert.True(t, p.ExpireIfDue(now))
	assert.Equal(t, PrescriptionStatusExpired, p.Status)
	assert.False(t, p.ExpireIfDue(now))

	dispensed := &Prescription{Status: PrescriptionStatusDispensed, ValidUntil: now.Add(-time.Minute)}
	assert.False(t, dispensed.ExpireIfDue(now))

	fresh := &Prescription{Status: PrescriptionStatusDraft, ValidUntil: now.Add(time.Hour)}
	assert.False(t, fresh.ExpireIfDue(now))
}

func TestLabOrderAttachResult(t *testing.T) {
	o := &LabOrder{Status: LabOrderStatusOrdered}

	advanced, err := o.AttachResult(uuid.New(), now)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, LabOrderStatusReceived, o.Status)

	advanced, err = o.AttachResult(uuid.New(), now)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Len(t, o.ResultIDs, 2)

	inProgress := &LabOrder{Status: LabOrderStatusInProgress}
	advanced, err = inProgress.AttachResult(uuid.New(), now)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, LabOrderStatusInProgress, inProgress.Status)

	_, err = (&LabOrder{Status: LabOrderStatusCancelled}).AttachResult(uuid.New(), now)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestLabOrderCompletionNeedsResults(t *testing.T) {
	o := &LabOrder{Status: LabOrderStatusInProgress}
	assert.True(t, apperrors.Is(o.Complete(false, now), apperrors.ErrInvalidTransition))
	require.NoError(t, o.Complete(true, now))

	assert.True(t, apperrors.Is(o.Validate(uuid.New(), false, now), apperrors.ErrInvalidTransition))
	require.NoError(t, o.Validate(uuid.New(), true, now))
	assert.True(t, o.Status.Terminal())

	withResult := &LabOrder{Status: LabOrderStatusSampleCollected}
	require.NoError(t, withResult.RecordInlineResults([]InlineResult{{TestName: "CBC", Value: "ok"}}, uuid.New(), now))
	require.NoError(t, withResult.Complete(false, now))
}

func TestLabOrderCollectAndStart(t *testing.T) {
	o := &LabOrder{Status: LabOrderStatusOrdered}
	assert.True(t, apperrors.Is(o.StartProcessing(now), apperrors.ErrInvalidTransition))
	require.NoError(t, o.CollectSample(now))
	require.NoError(t, o.StartProcessing(now))
	assert.NotNil(t, o.SampleCollectedAt)
	assert.NotNil(t, o.StartedAt)
	require.NoError(t, o.Cancel(uuid.New(), "duplicate", now))
	assert.True(t, apperrors.Is(o.Cancel(uuid.New(), "again", now), apperrors.ErrAlreadyInState))
}
