package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/careflow/careflow-api/internal/model"
)

const prescriptionColumns = `
	id, consultation_id, patient_id, prescriber_id, pharmacy_id, medications, notes,
	status, valid_until, signed_by, signed_at, sent_at, dispensed_by, dispensed_at,
	cancelled_by, cancellation_reason, cancelled_at, created_at, updated_at`

type prescriptionRepository struct {
	q sqlx.ExtContext
}

func (r *prescriptionRepository) Create(ctx context.Context, p *model.Prescription) error {
	query := `
		INSERT INTO prescriptions (` + prescriptionColumns + `
		) VALUES (
			:id, :consultation_id, :patient_id, :prescriber_id, :pharmacy_id, :medications, :notes,
			:status, :valid_until, :signed_by, :signed_at, :sent_at, :dispensed_by, :dispensed_at,
			:cancelled_by, :cancellation_reason, :cancelled_at, :created_at, :updated_at
		)`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, p); err != nil {
		return fmt.Errorf("failed to create prescription: %w", err)
	}
	return nil
}

func (r *prescriptionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Prescription, error) {
	var p model.Prescription
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.q, &p, query, id); err != nil {
		return nil, notFound("prescription", fmt.Errorf("failed to get prescription: %w", err))
	}
	return &p, nil
}

func (r *prescriptionRepository) Update(ctx context.Context, p *model.Prescription) error {
	query := `
		UPDATE prescriptions SET
			pharmacy_id = :pharmacy_id,
			status = :status,
			signed_by = :signed_by,
			signed_at = :signed_at,
			sent_at = :sent_at,
			dispensed_by = :dispensed_by,
			dispensed_at = :dispensed_at,
			cancelled_by = :cancelled_by,
			cancellation_reason = :cancellation_reason,
			cancelled_at = :cancelled_at,
			updated_at = :updated_at
		WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, r.q, query, p)
	if err != nil {
		return fmt.Errorf("failed to update prescription: %w", err)
	}
	return expectOne(result, "prescription")
}

func (r *prescriptionRepository) List(ctx context.Context, filters *model.PrescriptionFilters) ([]*model.Prescription, error) {
	if filters == nil {
		filters = &model.PrescriptionFilters{}
	}
	var (
		where []string
		args  []interface{}
	)
	if filters.PatientID != uuid.Nil {
		args = append(args, filters.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filters.PharmacyID != uuid.Nil {
		args = append(args, filters.PharmacyID)
		where = append(where, fmt.Sprintf("pharmacy_id = $%d", len(args)))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filters.Limit(), filters.Offset())
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var out []*model.Prescription
	if err := sqlx.SelectContext(ctx, r.q, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list prescriptions: %w", err)
	}
	return out, nil
}
