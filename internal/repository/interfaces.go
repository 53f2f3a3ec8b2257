package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/careflow/careflow-api/internal/model"
)

// All repository interfaces in one file
type (
	AppointmentRepository interface {
		Create(ctx context.Context, appointment *model.Appointment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		Update(ctx context.Context, appointment *model.Appointment) error
		List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error)
		// ListActiveForDay returns the practitioner's scheduled, confirmed and
		// in-progress appointments on date, skipping excludeID when set.
		ListActiveForDay(ctx context.Context, practitionerID uuid.UUID, date model.Date, excludeID *uuid.UUID) ([]*model.Appointment, error)
	}

	PrescriptionRepository interface {
		Create(ctx context.Context, prescription *model.Prescription) error
		Get(ctx context.Context, id uuid.UUID) (*model.Prescription, error)
		Update(ctx context.Context, prescription *model.Prescription) error
		List(ctx context.Context, filters *model.PrescriptionFilters) ([]*model.Prescription, error)
	}

	LabOrderRepository interface {
		Create(ctx context.Context, order *model.LabOrder) error
		Get(ctx context.Context, id uuid.UUID) (*model.LabOrder, error)
		Update(ctx context.Context, order *model.LabOrder) error
		List(ctx context.Context, filters *model.LabOrderFilters) ([]*model.LabOrder, error)
	}

	LabResultRepository interface {
		Create(ctx context.Context, result *model.LabResult) error
		Get(ctx context.Context, id uuid.UUID) (*model.LabResult, error)
		UpdateReview(ctx context.Context, id uuid.UUID, flagged bool, notes string) error
		ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*model.LabResult, error)
	}

	ConsultationRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Consultation, error)
		AppendPrescription(ctx context.Context, id, prescriptionID uuid.UUID) error
		AppendLabOrder(ctx context.Context, id, labOrderID uuid.UUID) error
		AppendDocument(ctx context.Context, id, documentID uuid.UUID) error
		RemoveDocument(ctx context.Context, id, documentID uuid.UUID) error
	}

	// DirectoryRepository resolves read-only reference data.
	DirectoryRepository interface {
		GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
		GetPatient(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		GetPharmacy(ctx context.Context, id uuid.UUID) (*model.Pharmacy, error)
		GetLaboratory(ctx context.Context, id uuid.UUID) (*model.Laboratory, error)
	}

	DocumentRepository interface {
		Create(ctx context.Context, doc *model.Document) error
		Get(ctx context.Context, id uuid.UUID) (*model.Document, error)
		Delete(ctx context.Context, id uuid.UUID) error
		ListByPatient(ctx context.Context, patientID uuid.UUID, page model.Pagination) ([]*model.Document, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		// GetPendingEventsWithLock claims up to limit pending events; rows stay
		// locked until the surrounding unit ends.
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string) error
		// PurgeProcessed deletes PROCESSED events relayed before the cutoff.
		PurgeProcessed(ctx context.Context, before time.Time) (int64, error)
	}

	AuditRepository interface {
		Create(ctx context.Context, log *model.AuditLog) error
		ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*model.AuditLog, error)
	}

	// Tx exposes every repository bound to one unit of work.
	Tx interface {
		Appointments() AppointmentRepository
		Prescriptions() PrescriptionRepository
		LabOrders() LabOrderRepository
		LabResults() LabResultRepository
		Consultations() ConsultationRepository
		Directory() DirectoryRepository
		Documents() DocumentRepository
		Outbox() OutboxRepository
		Audit() AuditRepository
	}

	// Store runs units of work. WithTx commits only if fn returns nil and may
	// invoke fn more than once when the backend asks for a retry. View runs
	// fn without a transaction for single reads.
	Store interface {
		WithTx(ctx context.Context, fn func(tx Tx) error) error
		View(ctx context.Context, fn func(tx Tx) error) error
		Ping(ctx context.Context) error
	}
)
