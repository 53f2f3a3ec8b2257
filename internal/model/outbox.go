package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusRetry     OutboxStatus = "RETRY"
	OutboxStatusProcessed OutboxStatus = "PROCESSED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

// Event types written to the outbox.
const (
	EventAppointmentCreated     = "appointment.created"
	EventAppointmentRescheduled = "appointment.rescheduled"
	EventAppointmentCancelled   = "appointment.cancelled"
	EventAppointmentCompleted   = "appointment.completed"
	EventAppointmentStatus      = "appointment.status_changed"
	EventPrescriptionCreated    = "prescription.created"
	EventPrescriptionSigned     = "prescription.signed"
	EventPrescriptionSent       = "prescription.sent"
	EventPrescriptionDispensed  = "prescription.dispensed"
	EventPrescriptionCancelled  = "prescription.cancelled"
	EventPrescriptionExpired    = "prescription.expired"
	EventLabOrderCreated        = "lab_order.created"
	EventLabOrderStatus         = "lab_order.status_changed"
	EventLabResultUploaded      = "lab_result.uploaded"
	EventDocumentUploaded       = "document.uploaded"
	EventDocumentDeleted        = "document.deleted"
	EventDocumentBlobOrphaned   = "document.blob_orphaned"
)

type OutboxEvent struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	AggregateType string          `db:"aggregate_type" json:"aggregate_type"`
	AggregateID   uuid.UUID       `db:"aggregate_id" json:"aggregate_id"`
	EventType     string          `db:"event_type" json:"event_type"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	Status        OutboxStatus    `db:"status" json:"status"`
	ErrorMessage  *string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount    int             `db:"retry_count" json:"retry_count"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
	ProcessedAt   *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

// AppointmentNotice is the payload of appointment events the notification
// worker turns into e-mails.
type AppointmentNotice struct {
	AppointmentID    uuid.UUID         `json:"appointment_id"`
	Status           AppointmentStatus `json:"status"`
	PatientName      string            `json:"patient_name"`
	PatientEmail     string            `json:"patient_email"`
	PractitionerName string            `json:"practitioner_name"`
	Interval
	Reason string `json:"reason,omitempty"`
}
