package model

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

type AppointmentStatus string

const (
	AppointmentStatusScheduled  AppointmentStatus = "scheduled"
	AppointmentStatusConfirmed  AppointmentStatus = "confirmed"
	AppointmentStatusInProgress AppointmentStatus = "in-progress"
	AppointmentStatusCompleted  AppointmentStatus = "completed"
	AppointmentStatusCancelled  AppointmentStatus = "cancelled"
	AppointmentStatusNoShow     AppointmentStatus = "no-show"
)

// ActiveAppointmentStatuses are the states that hold a slot on the calendar.
var ActiveAppointmentStatuses = []AppointmentStatus{
	AppointmentStatusScheduled,
	AppointmentStatusConfirmed,
	AppointmentStatusInProgress,
}

// Active reports whether the status blocks overlapping bookings.
func (s AppointmentStatus) Active() bool {
	switch s {
	case AppointmentStatusScheduled, AppointmentStatusConfirmed, AppointmentStatusInProgress:
		return true
	}
	return false
}

func (s AppointmentStatus) Terminal() bool {
	switch s {
	case AppointmentStatusCompleted, AppointmentStatusCancelled, AppointmentStatusNoShow:
		return true
	}
	return false
}

type AppointmentCategory string

const (
	AppointmentCategoryConsultation AppointmentCategory = "consultation"
	AppointmentCategoryFollowUp     AppointmentCategory = "follow-up"
	AppointmentCategoryEmergency    AppointmentCategory = "emergency"
	AppointmentCategoryCheckup      AppointmentCategory = "checkup"
	AppointmentCategoryVaccination  AppointmentCategory = "vaccination"
	AppointmentCategoryOther        AppointmentCategory = "other"
)

func (c AppointmentCategory) Valid() bool {
	switch c {
	case AppointmentCategoryConsultation, AppointmentCategoryFollowUp, AppointmentCategoryEmergency,
		AppointmentCategoryCheckup, AppointmentCategoryVaccination, AppointmentCategoryOther:
		return true
	}
	return false
}

type Appointment struct {
	Base
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	PractitionerID uuid.UUID  `db:"practitioner_id" json:"practitioner_id"`
	ConsultationID *uuid.UUID `db:"consultation_id" json:"consultation_id,omitempty"`
	Interval
	DurationMinutes    int                 `db:"duration_minutes" json:"duration_minutes"`
	Reason             string              `db:"reason" json:"reason"`
	Category           AppointmentCategory `db:"category" json:"category"`
	Status             AppointmentStatus   `db:"status" json:"status"`
	Notes              string              `db:"notes" json:"notes,omitempty"`
	Diagnosis          string              `db:"diagnosis" json:"diagnosis,omitempty"`
	PrescriptionNotes  string              `db:"prescription_notes" json:"prescription_notes,omitempty"`
	CreatedBy          uuid.UUID           `db:"created_by" json:"created_by"`
	CancelledBy        *uuid.UUID          `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancellationReason *string             `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time          `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CompletedAt        *time.Time          `db:"completed_at" json:"completed_at,omitempty"`
}

// Reschedule moves an active appointment to a new interval.
func (a *Appointment) Reschedule(iv Interval, now time.Time) error {
	if !a.Status.Active() {
		return apperrors.NewInvalidTransition("only scheduled, confirmed or in-progress appointments can be rescheduled")
	}
	a.Interval = iv
	a.DurationMinutes = iv.Duration()
	a.UpdatedAt = now
	return nil
}

// Cancel is allowed from every state except completed.
func (a *Appointment) Cancel(by uuid.UUID, reason string, now time.Time) error {
	switch a.Status {
	case AppointmentStatusCancelled:
		return apperrors.NewAlreadyInState("appointment is already cancelled")
	case AppointmentStatusCompleted:
		return apperrors.NewInvalidTransition("cannot cancel a completed appointment")
	}
	a.Status = AppointmentStatusCancelled
	a.CancelledBy = &by
	a.CancellationReason = &reason
	a.CancelledAt = &now
	a.UpdatedAt = now
	return nil
}

// CompletionNotes are the free-text outcomes recorded when a visit ends.
type CompletionNotes struct {
	Diagnosis    string `json:"diagnosis" validate:"max=2000"`
	Prescription string `json:"prescription" validate:"max=2000"`
	Notes        string `json:"notes" validate:"max=1000"`
}

// Complete closes the visit. Completing an already completed appointment is a
// no-op and reports changed=false.
func (a *Appointment) Complete(notes CompletionNotes, now time.Time) (changed bool, err error) {
	switch {
	case a.Status == AppointmentStatusCompleted:
		return false, nil
	case !a.Status.Active():
		return false, apperrors.NewInvalidTransition("cannot complete a " + string(a.Status) + " appointment")
	}
	a.Status = AppointmentStatusCompleted
	a.Diagnosis = notes.Diagnosis
	a.PrescriptionNotes = notes.Prescription
	if notes.Notes != "" {
		a.Notes = notes.Notes
	}
	a.CompletedAt = &now
	a.UpdatedAt = now
	return true, nil
}

func (a *Appointment) Confirm(now time.Time) error {
	switch a.Status {
	case AppointmentStatusConfirmed:
		return apperrors.NewAlreadyInState("appointment is already confirmed")
	case AppointmentStatusScheduled:
	default:
		return apperrors.NewInvalidTransition("only scheduled appointments can be confirmed")
	}
	a.Status = AppointmentStatusConfirmed
	a.UpdatedAt = now
	return nil
}

// BeginVisit moves a scheduled or confirmed appointment to in-progress.
func (a *Appointment) BeginVisit(now time.Time) error {
	switch a.Status {
	case AppointmentStatusInProgress:
		return apperrors.NewAlreadyInState("appointment is already in progress")
	case AppointmentStatusScheduled, AppointmentStatusConfirmed:
	default:
		return apperrors.NewInvalidTransition("only scheduled or confirmed appointments can be started")
	}
	a.Status = AppointmentStatusInProgress
	a.UpdatedAt = now
	return nil
}

func (a *Appointment) MarkNoShow(now time.Time) error {
	switch a.Status {
	case AppointmentStatusNoShow:
		return apperrors.NewAlreadyInState("appointment is already marked as no-show")
	case AppointmentStatusScheduled, AppointmentStatusConfirmed:
	default:
		return apperrors.NewInvalidTransition("only scheduled or confirmed appointments can be marked as no-show")
	}
	a.Status = AppointmentStatusNoShow
	a.UpdatedAt = now
	return nil
}

type CreateAppointmentRequest struct {
	PatientID      uuid.UUID           `json:"patient_id" validate:"required"`
	PractitionerID uuid.UUID           `json:"practitioner_id" validate:"required"`
	Date           string              `json:"date" validate:"required,date"`
	StartTime      string              `json:"start_time" validate:"required,hhmm"`
	EndTime        string              `json:"end_time" validate:"required,hhmm"`
	Reason         string              `json:"reason" validate:"required,min=1,max=500"`
	Category       AppointmentCategory `json:"category" validate:"omitempty,oneof=consultation follow-up emergency checkup vaccination other"`
	Notes          string              `json:"notes" validate:"max=1000"`
}

type RescheduleAppointmentRequest struct {
	Date      string `json:"date" validate:"required,date"`
	StartTime string `json:"start_time" validate:"required,hhmm"`
	EndTime   string `json:"end_time" validate:"required,hhmm"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type AppointmentFilters struct {
	PractitionerID uuid.UUID
	PatientID      uuid.UUID
	Status         AppointmentStatus
	Date           *Date
	Pagination
}

// Availability answers a calendar query for one candidate slot.
type Availability struct {
	PractitionerID uuid.UUID `json:"practitioner_id"`
	Interval
	Available bool `json:"available"`
}
