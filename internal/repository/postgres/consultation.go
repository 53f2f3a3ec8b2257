package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/careflow/careflow-api/internal/model"
)

type consultationRepository struct {
	q sqlx.ExtContext
}

func (r *consultationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Consultation, error) {
	query := `
		SELECT id, patient_id, practitioner_id, appointment_id,
			prescription_ids, lab_order_ids, document_ids, created_at, updated_at
		FROM consultations
		WHERE id = $1`
	var c model.Consultation
	if err := sqlx.GetContext(ctx, r.q, &c, query, id); err != nil {
		return nil, notFound("consultation", fmt.Errorf("failed to get consultation: %w", err))
	}
	return &c, nil
}

func (r *consultationRepository) appendID(ctx context.Context, column string, id, childID uuid.UUID) error {
	query := fmt.Sprintf(`
		UPDATE consultations
		SET %[1]s = %[1]s || jsonb_build_array($2::text), updated_at = NOW()
		WHERE id = $1`, column)
	result, err := r.q.ExecContext(ctx, query, id, childID.String())
	if err != nil {
		return fmt.Errorf("failed to link %s: %w", column, err)
	}
	return expectOne(result, "consultation")
}

func (r *consultationRepository) AppendPrescription(ctx context.Context, id, prescriptionID uuid.UUID) error {
	return r.appendID(ctx, "prescription_ids", id, prescriptionID)
}

func (r *consultationRepository) AppendLabOrder(ctx context.Context, id, labOrderID uuid.UUID) error {
	return r.appendID(ctx, "lab_order_ids", id, labOrderID)
}

func (r *consultationRepository) AppendDocument(ctx context.Context, id, documentID uuid.UUID) error {
	return r.appendID(ctx, "document_ids", id, documentID)
}

func (r *consultationRepository) RemoveDocument(ctx context.Context, id, documentID uuid.UUID) error {
	query := `
		UPDATE consultations
		SET document_ids = document_ids - $2::text, updated_at = NOW()
		WHERE id = $1`
	result, err := r.q.ExecContext(ctx, query, id, documentID.String())
	if err != nil {
		return fmt.Errorf("failed to unlink document: %w", err)
	}
	return expectOne(result, "consultation")
}
