package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/careflow/careflow-api/internal/model"
)

const labOrderColumns = `
	id, consultation_id, patient_id, ordered_by, laboratory_id, tests, priority,
	clinical_notes, status, inline_results, result_ids, sample_collected_at,
	received_at, started_at, completed_at, validated_by, validated_at,
	cancelled_by, cancellation_reason, cancelled_at, created_at, updated_at`

type labOrderRepository struct {
	q sqlx.ExtContext
}

func (r *labOrderRepository) Create(ctx context.Context, o *model.LabOrder) error {
	query := `
		INSERT INTO lab_orders (` + labOrderColumns + `
		) VALUES (
			:id, :consultation_id, :patient_id, :ordered_by, :laboratory_id, :tests, :priority,
			:clinical_notes, :status, :inline_results, :result_ids, :sample_collected_at,
			:received_at, :started_at, :completed_at, :validated_by, :validated_at,
			:cancelled_by, :cancellation_reason, :cancelled_at, :created_at, :updated_at
		)`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, o); err != nil {
		return fmt.Errorf("failed to create lab order: %w", err)
	}
	return nil
}

func (r *labOrderRepository) Get(ctx context.Context, id uuid.UUID) (*model.LabOrder, error) {
	var o model.LabOrder
	query := `SELECT ` + labOrderColumns + ` FROM lab_orders WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.q, &o, query, id); err != nil {
		return nil, notFound("lab order", fmt.Errorf("failed to get lab order: %w", err))
	}
	return &o, nil
}

// Update refuses to drop ids from result_ids; the stored list must be contained
// in the new one.
func (r *labOrderRepository) Update(ctx context.Context, o *model.LabOrder) error {
	query := `
		UPDATE lab_orders SET
			laboratory_id = :laboratory_id,
			status = :status,
			inline_results = :inline_results,
			result_ids = :result_ids,
			sample_collected_at = :sample_collected_at,
			received_at = :received_at,
			started_at = :started_at,
			completed_at = :completed_at,
			validated_by = :validated_by,
			validated_at = :validated_at,
			cancelled_by = :cancelled_by,
			cancellation_reason = :cancellation_reason,
			cancelled_at = :cancelled_at,
			updated_at = :updated_at
		WHERE id = :id
		AND CAST(:result_ids AS jsonb) @> result_ids
		AND jsonb_array_length(CAST(:result_ids AS jsonb)) >= jsonb_array_length(result_ids)`
	result, err := sqlx.NamedExecContext(ctx, r.q, query, o)
	if err != nil {
		return fmt.Errorf("failed to update lab order: %w", err)
	}
	return expectOne(result, "lab order")
}

func (r *labOrderRepository) List(ctx context.Context, filters *model.LabOrderFilters) ([]*model.LabOrder, error) {
	if filters == nil {
		filters = &model.LabOrderFilters{}
	}
	var (
		where []string
		args  []interface{}
	)
	if filters.PatientID != uuid.Nil {
		args = append(args, filters.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filters.LaboratoryID != uuid.Nil {
		args = append(args, filters.LaboratoryID)
		where = append(where, fmt.Sprintf("laboratory_id = $%d", len(args)))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + labOrderColumns + ` FROM lab_orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filters.Limit(), filters.Offset())
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var out []*model.LabOrder
	if err := sqlx.SelectContext(ctx, r.q, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list lab orders: %w", err)
	}
	return out, nil
}

const labResultColumns = `
	id, lab_order_id, uploaded_by, file_name, storage_key, content_type, size,
	flagged, notes, created_at, updated_at`

type labResultRepository struct {
	q sqlx.ExtContext
}

func (r *labResultRepository) Create(ctx context.Context, res *model.LabResult) error {
	query := `
		INSERT INTO lab_results (` + labResultColumns + `
		) VALUES (
			:id, :lab_order_id, :uploaded_by, :file_name, :storage_key, :content_type, :size,
			:flagged, :notes, :created_at, :updated_at
		)`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, res); err != nil {
		return fmt.Errorf("failed to create lab result: %w", err)
	}
	return nil
}

func (r *labResultRepository) Get(ctx context.Context, id uuid.UUID) (*model.LabResult, error) {
	var res model.LabResult
	query := `SELECT ` + labResultColumns + ` FROM lab_results WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.q, &res, query, id); err != nil {
		return nil, notFound("lab result", fmt.Errorf("failed to get lab result: %w", err))
	}
	return &res, nil
}

func (r *labResultRepository) UpdateReview(ctx context.Context, id uuid.UUID, flagged bool, notes string) error {
	query := `UPDATE lab_results SET flagged = $1, notes = $2, updated_at = NOW() WHERE id = $3`
	result, err := r.q.ExecContext(ctx, query, flagged, notes, id)
	if err != nil {
		return fmt.Errorf("failed to update lab result: %w", err)
	}
	return expectOne(result, "lab result")
}

func (r *labResultRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*model.LabResult, error) {
	var out []*model.LabResult
	query := `SELECT ` + labResultColumns + ` FROM lab_results WHERE lab_order_id = $1 ORDER BY created_at`
	if err := sqlx.SelectContext(ctx, r.q, &out, query, orderID); err != nil {
		return nil, fmt.Errorf("failed to list lab results: %w", err)
	}
	return out, nil
}
