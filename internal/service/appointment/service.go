package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careflow/careflow-api/internal/model"
	"github.com/careflow/careflow-api/internal/repository"
	"github.com/careflow/careflow-api/internal/service/audit"
	"github.com/careflow/careflow-api/internal/service/event"
	"github.com/careflow/careflow-api/internal/service/txn"
	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

type Service struct {
	tx  *txn.Coordinator
	now func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(tx *txn.Coordinator, opts ...Option) *Service {
	s := &Service{tx: tx, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckConflict reports whether iv overlaps an active appointment of the
// practitioner. excludeID skips the appointment being moved. Every booking
// path goes through here.
func CheckConflict(ctx context.Context, tx repository.Tx, practitionerID uuid.UUID, iv model.Interval, excludeID *uuid.UUID) (bool, error) {
	booked, err := tx.Appointments().ListActiveForDay(ctx, practitionerID, iv.Date, excludeID)
	if err != nil {
		return false, fmt.Errorf("failed to load calendar: %w", err)
	}
	for _, other := range booked {
		if model.Overlaps(other.Interval, iv) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) CheckAvailability(ctx context.Context, practitionerID uuid.UUID, date, start, end string) (*model.Availability, error) {
	iv, err := parseInterval(date, start, end)
	if err != nil {
		return nil, err
	}
	var conflict bool
	err = s.tx.View(ctx, func(tx repository.Tx) error {
		if _, err := practitioner(ctx, tx, practitionerID); err != nil {
			return err
		}
		conflict, err = CheckConflict(ctx, tx, practitionerID, iv, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &model.Availability{PractitionerID: practitionerID, Interval: iv, Available: !conflict}, nil
}

func (s *Service) Create(ctx context.Context, caller model.Caller, req model.CreateAppointmentRequest) (*model.Appointment, error) {
	iv, err := parseInterval(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := s.notPast(iv.Date); err != nil {
		return nil, err
	}
	category := req.Category
	if category == "" {
		category = model.AppointmentCategoryConsultation
	}
	if !category.Valid() {
		return nil, apperrors.NewValidation("unknown appointment category "+string(category), nil)
	}

	apt := &model.Appointment{
		Base:            model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		PatientID:       req.PatientID,
		PractitionerID:  req.PractitionerID,
		Interval:        iv,
		DurationMinutes: iv.Duration(),
		Reason:          req.Reason,
		Category:        category,
		Status:          model.AppointmentStatusScheduled,
		Notes:           req.Notes,
		CreatedBy:       caller.UserID,
	}

	err = s.tx.Run(ctx, "appointment.create", func(ctx context.Context, tx repository.Tx) error {
		doctor, err := practitioner(ctx, tx, req.PractitionerID)
		if err != nil {
			return err
		}
		patient, err := tx.Directory().GetPatient(ctx, req.PatientID)
		if err != nil {
			return err
		}
		if caller.Role == model.RolePatient && (patient.UserID == nil || *patient.UserID != caller.UserID) {
			return apperrors.Forbidden("patients can only book for themselves")
		}

		conflict, err := CheckConflict(ctx, tx, apt.PractitionerID, iv, nil)
		if err != nil {
			return err
		}
		if conflict {
			return slotTaken(iv)
		}

		if err := tx.Appointments().Create(ctx, apt); err != nil {
			return err
		}
		if err := audit.Log(ctx, tx, caller.UserID, model.AuditActionCreate, model.AuditEntityAppointment, apt.ID, &audit.LogOptions{Changes: apt}); err != nil {
			return err
		}
		return event.Emit(ctx, tx, model.AuditEntityAppointment, apt.ID, model.EventAppointmentCreated, notice(apt, patient, doctor))
	})
	if err != nil {
		return nil, err
	}
	return apt, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	var apt *model.Appointment
	err := s.tx.View(ctx, func(tx repository.Tx) error {
		var err error
		apt, err = tx.Appointments().Get(ctx, id)
		return err
	})
	return apt, err
}

func (s *Service) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	var list []*model.Appointment
	err := s.tx.View(ctx, func(tx repository.Tx) error {
		var err error
		list, err = tx.Appointments().List(ctx, filters)
		return err
	})
	return list, err
}

func (s *Service) Reschedule(ctx context.Context, caller model.Caller, id uuid.UUID, req model.RescheduleAppointmentRequest) (*model.Appointment, error) {
	iv, err := parseInterval(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	if err := s.notPast(iv.Date); err != nil {
		return nil, err
	}

	var apt *model.Appointment
	err = s.tx.Run(ctx, "appointment.reschedule", func(ctx context.Context, tx repository.Tx) error {
		var err error
		if apt, err = tx.Appointments().Get(ctx, id); err != nil {
			return err
		}
		previous := apt.Interval

		conflict, err := CheckConflict(ctx, tx, apt.PractitionerID, iv, &apt.ID)
		if err != nil {
			return err
		}
		if conflict {
			return slotTaken(iv)
		}
		if err := apt.Reschedule(iv, s.now().UTC()); err != nil {
			return err
		}
		if err := tx.Appointments().Update(ctx, apt); err != nil {
			return err
		}

		if err := audit.Log(ctx, tx, caller.UserID, model.AuditActionUpdate, model.AuditEntityAppointment, apt.ID, &audit.LogOptions{
			Changes: map[string]model.Interval{"from": previous, "to": iv},
		}); err != nil {
			return err
		}
		return s.emitNotice(ctx, tx, apt, model.EventAppointmentRescheduled, "")
	})
	if err != nil {
		return nil, err
	}
	return apt, nil
}

func (s *Service) Cancel(ctx context.Context, caller model.Caller, id uuid.UUID, reason string) (*model.Appointment, error) {
	return s.transition(ctx, caller, id, "appointment.cancel", func(apt *model.Appointment, now time.Time) (bool, error) {
		return true, apt.Cancel(caller.UserID, reason, now)
	}, func(ctx context.Context, tx repository.Tx, apt *model.Appointment) error {
		return s.emitNotice(ctx, tx, apt, model.EventAppointmentCancelled, reason)
	})
}

// Complete closes the visit. Re-completing is a no-op that returns the
// stored appointment.
func (s *Service) Complete(ctx context.Context, caller model.Caller, id uuid.UUID, notes model.CompletionNotes) (*model.Appointment, error) {
	return s.transition(ctx, caller, id, "appointment.complete", func(apt *model.Appointment, now time.Time) (bool, error) {
		return apt.Complete(notes, now)
	}, func(ctx context.Context, tx repository.Tx, apt *model.Appointment) error {
		return event.Emit(ctx, tx, model.AuditEntityAppointment, apt.ID, model.EventAppointmentCompleted, event.StatusChange{
			ID: apt.ID, To: string(apt.Status), By: caller.UserID,
		})
	})
}

func (s *Service) Confirm(ctx context.Context, caller model.Caller, id uuid.UUID) (*model.Appointment, error) {
	return s.statusChange(ctx, caller, id, "appointment.confirm", (*model.Appointment).Confirm)
}

func (s *Service) Start(ctx context.Context, caller model.Caller, id uuid.UUID) (*model.Appointment, error) {
	return s.statusChange(ctx, caller, id, "appointment.start", (*model.Appointment).BeginVisit)
}

func (s *Service) MarkNoShow(ctx context.Context, caller model.Caller, id uuid.UUID) (*model.Appointment, error) {
	return s.statusChange(ctx, caller, id, "appointment.no_show", (*model.Appointment).MarkNoShow)
}

func (s *Service) statusChange(ctx context.Context, caller model.Caller, id uuid.UUID, unit string, apply func(*model.Appointment, time.Time) error) (*model.Appointment, error) {
	var from model.AppointmentStatus
	return s.transition(ctx, caller, id, unit, func(apt *model.Appointment, now time.Time) (bool, error) {
		from = apt.Status
		return true, apply(apt, now)
	}, func(ctx context.Context, tx repository.Tx, apt *model.Appointment) error {
		return event.Emit(ctx, tx, model.AuditEntityAppointment, apt.ID, model.EventAppointmentStatus, event.StatusChange{
			ID: apt.ID, From: string(from), To: string(apt.Status), By: caller.UserID,
		})
	})
}

// transition loads the appointment, applies the move and persists it with
// its audit row and event in one unit.
func (s *Service) transition(
	ctx context.Context,
	caller model.Caller,
	id uuid.UUID,
	unit string,
	apply func(*model.Appointment, time.Time) (bool, error),
	emit func(context.Context, repository.Tx, *model.Appointment) error,
) (*model.Appointment, error) {
	var apt *model.Appointment
	err := s.tx.Run(ctx, unit, func(ctx context.Context, tx repository.Tx) error {
		var err error
		if apt, err = tx.Appointments().Get(ctx, id); err != nil {
			return err
		}
		from := apt.Status
		changed, err := apply(apt, s.now().UTC())
		if err != nil || !changed {
			return err
		}
		if err := tx.Appointments().Update(ctx, apt); err != nil {
			return err
		}
		if err := audit.Log(ctx, tx, caller.UserID, model.AuditActionTransition, model.AuditEntityAppointment, apt.ID, &audit.LogOptions{
			Changes: audit.Transition{From: string(from), To: string(apt.Status)},
		}); err != nil {
			return err
		}
		return emit(ctx, tx, apt)
	})
	if err != nil {
		return nil, err
	}
	return apt, nil
}

func (s *Service) emitNotice(ctx context.Context, tx repository.Tx, apt *model.Appointment, eventType, reason string) error {
	patient, err := tx.Directory().GetPatient(ctx, apt.PatientID)
	if err != nil {
		return err
	}
	doctor, err := tx.Directory().GetUser(ctx, apt.PractitionerID)
	if err != nil {
		return err
	}
	n := notice(apt, patient, doctor)
	n.Reason = reason
	return event.Emit(ctx, tx, model.AuditEntityAppointment, apt.ID, eventType, n)
}

// notPast allows any time on the current day.
func (s *Service) notPast(d model.Date) error {
	today := model.DateOf(s.now().UTC())
	if d.Before(today) {
		return apperrors.NewPastDate(fmt.Sprintf("appointment date %s is in the past", d))
	}
	return nil
}

func practitioner(ctx context.Context, tx repository.Tx, id uuid.UUID) (*model.User, error) {
	u, err := tx.Directory().GetUser(ctx, id)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NewNotFound("practitioner", err)
		}
		return nil, err
	}
	if !u.Role.Clinical() {
		return nil, apperrors.NewInvalidRole(fmt.Sprintf("user %s is not a practitioner", id))
	}
	if !u.IsActive {
		return nil, apperrors.NewInvalidRole(fmt.Sprintf("practitioner %s is not active", id))
	}
	return u, nil
}

func parseInterval(date, start, end string) (model.Interval, error) {
	iv, err := model.NewInterval(date, start, end)
	if err != nil {
		return model.Interval{}, apperrors.NewValidation(err.Error(), err)
	}
	return iv, nil
}

func slotTaken(iv model.Interval) error {
	return apperrors.NewSlotConflict(fmt.Sprintf("practitioner is already booked at %s", iv), nil)
}

func notice(apt *model.Appointment, patient *model.Patient, doctor *model.User) model.AppointmentNotice {
	return model.AppointmentNotice{
		AppointmentID:    apt.ID,
		Status:           apt.Status,
		PatientName:      patient.FullName(),
		PatientEmail:     patient.Email,
		PractitionerName: doctor.FullName(),
		Interval:         apt.Interval,
		Reason:           apt.Reason,
	}
}
