package model

import (
	"github.com/google/uuid"
)

// Consultation is the clinical encounter that owns prescriptions, lab orders
// and documents. Child lists are only appended inside the unit that creates the child.
type Consultation struct {
	Base
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	PractitionerID  uuid.UUID  `db:"practitioner_id" json:"practitioner_id"`
	AppointmentID   *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	PrescriptionIDs UUIDs      `db:"prescription_ids" json:"prescriptions"`
	LabOrderIDs     UUIDs      `db:"lab_order_ids" json:"lab_orders"`
	DocumentIDs     UUIDs      `db:"document_ids" json:"documents"`
}
