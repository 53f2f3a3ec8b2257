package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careflow/careflow-api/internal/model"
	"github.com/careflow/careflow-api/internal/repository"
	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

func appointment(practitioner uuid.UUID, start, end string) *model.Appointment {
	return &model.Appointment{
		Base:           model.Base{ID: uuid.New()},
		PractitionerID: practitioner,
		Interval: model.Interval{
			Date:  model.NewDate(2025, time.June, 1),
			Start: model.MustClock(start),
			End:   model.MustClock(end),
		},
		Status: model.AppointmentStatusScheduled,
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	a := appointment(uuid.New(), "09:00", "09:30")

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx repository.Tx) error {
		require.NoError(t, tx.Appointments().Create(ctx, a))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = store.View(ctx, func(tx repository.Tx) error {
		_, err := tx.Appointments().Get(ctx, a.ID)
		return err
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestWithTxCommits(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	a := appointment(uuid.New(), "09:00", "09:30")

	require.NoError(t, store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.Appointments().Create(ctx, a)
	}))

	require.NoError(t, store.View(ctx, func(tx repository.Tx) error {
		got, err := tx.Appointments().Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.Interval, got.Interval)
		return nil
	}))
}

func TestViewRejectsWrites(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	err := store.View(ctx, func(tx repository.Tx) error {
		return tx.Appointments().Create(ctx, appointment(uuid.New(), "09:00", "09:30"))
	})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestAppointmentOverlapGuard(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	doc := uuid.New()

	require.NoError(t, store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.Appointments().Create(ctx, appointment(doc, "09:00", "09:30"))
	}))
	err := store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.Appointments().Create(ctx, appointment(doc, "09:15", "09:45"))
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrSlotConflict))
}

func TestFailureHook(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	forced := errors.New("forced")
	store.SetFailureHook(func(op string) error {
		if op == "audit.create" {
			return forced
		}
		return nil
	})

	a := appointment(uuid.New(), "09:00", "09:30")
	err := store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.Appointments().Create(ctx, a); err != nil {
			return err
		}
		return tx.Audit().Create(ctx, &model.AuditLog{ID: uuid.New()})
	})
	assert.ErrorIs(t, err, forced)

	store.SetFailureHook(nil)
	require.NoError(t, store.View(ctx, func(tx repository.Tx) error {
		list, err := tx.Appointments().List(ctx, nil)
		assert.Empty(t, list)
		return err
	}))
}

func TestConsultationAppendIsolatedUntilCommit(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	c := model.Consultation{Base: model.Base{ID: uuid.New()}}
	store.SeedConsultation(c)

	_ = store.WithTx(ctx, func(tx repository.Tx) error {
		require.NoError(t, tx.Consultations().AppendLabOrder(ctx, c.ID, uuid.New()))
		return errors.New("abort")
	})
	require.NoError(t, store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.Consultations().AppendLabOrder(ctx, c.ID, uuid.New())
	}))

	require.NoError(t, store.View(ctx, func(tx repository.Tx) error {
		got, err := tx.Consultations().Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Len(t, got.LabOrderIDs, 1)
		return nil
	}))
}

func TestAppointmentsSortedByStart(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	doc := uuid.New()

	require.NoError(t, store.WithTx(ctx, func(tx repository.Tx) error {
		for _, slot := range [][2]string{{"11:00", "11:30"}, {"09:00", "09:30"}, {"10:00", "10:30"}} {
			if err := tx.Appointments().Create(ctx, appointment(doc, slot[0], slot[1])); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, store.View(ctx, func(tx repository.Tx) error {
		day, err := tx.Appointments().ListActiveForDay(ctx, doc, model.NewDate(2025, time.June, 1), nil)
		require.NoError(t, err)
		require.Len(t, day, 3)
		assert.Equal(t, model.MustClock("09:00"), day[0].Start)
		assert.Equal(t, model.MustClock("11:00"), day[2].Start)

		all, err := tx.Appointments().List(ctx, &model.AppointmentFilters{PractitionerID: doc})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, model.MustClock("10:00"), all[1].Start)
		return nil
	}))
}
