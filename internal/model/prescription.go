package model

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

type PrescriptionStatus string

const (
	PrescriptionStatusDraft     PrescriptionStatus = "draft"
	PrescriptionStatusSigned    PrescriptionStatus = "signed"
	PrescriptionStatusSent      PrescriptionStatus = "sent"
	PrescriptionStatusDispensed PrescriptionStatus = "dispensed"
	PrescriptionStatusCancelled PrescriptionStatus = "cancelled"
	PrescriptionStatusExpired   PrescriptionStatus = "expired"
)

func (s PrescriptionStatus) Terminal() bool {
	switch s {
	case PrescriptionStatusDispensed, PrescriptionStatusCancelled, PrescriptionStatusExpired:
		return true
	}
	return false
}

// DefaultPrescriptionValidity is how long a prescription stays valid when the
// prescriber does not set a deadline.
const DefaultPrescriptionValidity = 30 * 24 * time.Hour

type MedicationRoute string

const (
	RouteOral        MedicationRoute = "oral"
	RouteIntravenous MedicationRoute = "intravenous"
	RouteIntramuscle MedicationRoute = "intramuscular"
	RouteSubcutan    MedicationRoute = "subcutaneous"
	RouteTopical     MedicationRoute = "topical"
	RouteInhalation  MedicationRoute = "inhalation"
	RouteRectal      MedicationRoute = "rectal"
	RouteOther       MedicationRoute = "other"
)

// Duration of a treatment, e.g. {7, days}.
type TreatmentDuration struct {
	Value int    `json:"value" validate:"required,min=1"`
	Unit  string `json:"unit" validate:"required,oneof=days weeks months"`
}

type Medication struct {
	Name         string            `json:"name" validate:"required,max=200"`
	GenericName  string            `json:"generic_name,omitempty" validate:"max=200"`
	Dosage       string            `json:"dosage" validate:"required,max=100"`
	Unit         string            `json:"unit,omitempty" validate:"omitempty,oneof=mg g ml mcg IU tablet capsule drop puff other"`
	Route        MedicationRoute   `json:"route" validate:"required,oneof=oral intravenous intramuscular subcutaneous topical inhalation rectal other"`
	Frequency    string            `json:"frequency" validate:"required,max=100"`
	Duration     TreatmentDuration `json:"duration" validate:"required"`
	Quantity     int               `json:"quantity" validate:"required,min=1"`
	Refills      int               `json:"refills" validate:"min=0,max=12"`
	Instructions string            `json:"instructions,omitempty" validate:"max=500"`
}

// Medications is stored as a JSON array column.
type Medications []Medication

func (m Medications) Value() (driver.Value, error) {
	if m == nil {
		return []byte("[]"), nil
	}
	return jsonValue(m)
}

func (m *Medications) Scan(src interface{}) error {
	return scanJSON(src, m)
}

type Prescription struct {
	Base
	ConsultationID     uuid.UUID          `db:"consultation_id" json:"consultation_id"`
	PatientID          uuid.UUID          `db:"patient_id" json:"patient_id"`
	PrescriberID       uuid.UUID          `db:"prescriber_id" json:"prescriber_id"`
	PharmacyID         *uuid.UUID         `db:"pharmacy_id" json:"pharmacy_id,omitempty"`
	Medications        Medications        `db:"medications" json:"medications"`
	Notes              string             `db:"notes" json:"notes,omitempty"`
	Status             PrescriptionStatus `db:"status" json:"status"`
	ValidUntil         time.Time          `db:"valid_until" json:"valid_until"`
	SignedBy           *uuid.UUID         `db:"signed_by" json:"signed_by,omitempty"`
	SignedAt           *time.Time         `db:"signed_at" json:"signed_at,omitempty"`
	SentAt             *time.Time         `db:"sent_at" json:"sent_at,omitempty"`
	DispensedBy        *uuid.UUID         `db:"dispensed_by" json:"dispensed_by,omitempty"`
	DispensedAt        *time.Time         `db:"dispensed_at" json:"dispensed_at,omitempty"`
	CancelledBy        *uuid.UUID         `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancellationReason *string            `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time         `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// ExpireIfDue moves a non-terminal prescription past its deadline to expired.
func (p *Prescription) ExpireIfDue(now time.Time) bool {
	if p.Status.Terminal() || !p.ValidUntil.Before(now) {
		return false
	}
	p.Status = PrescriptionStatusExpired
	p.UpdatedAt = now
	return true
}

func (p *Prescription) Sign(by uuid.UUID, now time.Time) error {
	if p.Status != PrescriptionStatusDraft {
		return apperrors.NewInvalidTransition("only draft prescriptions can be signed, current status is " + string(p.Status))
	}
	p.Status = PrescriptionStatusSigned
	p.SignedBy = &by
	p.SignedAt = &now
	p.UpdatedAt = now
	return nil
}

// AssignPharmacy links the pharmacy and marks the prescription sent.
func (p *Prescription) AssignPharmacy(pharmacyID uuid.UUID, now time.Time) error {
	if p.Status.Terminal() {
		return apperrors.NewInvalidTransition("cannot assign a pharmacy to a " + string(p.Status) + " prescription")
	}
	p.PharmacyID = &pharmacyID
	p.Status = PrescriptionStatusSent
	p.SentAt = &now
	p.UpdatedAt = now
	return nil
}

// Dispense is allowed from sent, and from signed for prescriptions handed over
// without going through a pharmacy assignment.
func (p *Prescription) Dispense(by uuid.UUID, now time.Time) error {
	switch p.Status {
	case PrescriptionStatusSent, PrescriptionStatusSigned:
	default:
		return apperrors.NewInvalidTransition("cannot dispense a " + string(p.Status) + " prescription")
	}
	p.Status = PrescriptionStatusDispensed
	p.DispensedBy = &by
	p.DispensedAt = &now
	p.UpdatedAt = now
	return nil
}

func (p *Prescription) Cancel(by uuid.UUID, reason string, now time.Time) error {
	switch p.Status {
	case PrescriptionStatusCancelled:
		return apperrors.NewAlreadyInState("prescription is already cancelled")
	case PrescriptionStatusDispensed, PrescriptionStatusExpired:
		return apperrors.NewInvalidTransition("cannot cancel a " + string(p.Status) + " prescription")
	}
	p.Status = PrescriptionStatusCancelled
	p.CancelledBy = &by
	p.CancellationReason = &reason
	p.CancelledAt = &now
	p.UpdatedAt = now
	return nil
}

// CreatePrescriptionRequest is the canonical create payload; transports that
// accept alternate shapes normalize into it first.
type CreatePrescriptionRequest struct {
	ConsultationID uuid.UUID          `json:"consultation_id" validate:"required"`
	PatientID      uuid.UUID          `json:"patient_id" validate:"required"`
	Medications    []Medication       `json:"medications" validate:"required,min=1,dive"`
	Notes          string             `json:"notes" validate:"max=1000"`
	ValidUntil     *time.Time         `json:"valid_until"`
	InitialStatus  PrescriptionStatus `json:"status"`
}

type AssignPharmacyRequest struct {
	PharmacyID uuid.UUID `json:"pharmacy_id" validate:"required"`
}

type CancelPrescriptionRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type PrescriptionFilters struct {
	PatientID  uuid.UUID
	PharmacyID uuid.UUID
	Status     PrescriptionStatus
	Pagination
}
