package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/careflow/careflow-api/internal/model"
)

const documentColumns = `
	id, patient_id, consultation_id, uploaded_by, title, file_name, original_file_name,
	storage_key, content_type, size, category, tags, description, created_at, updated_at`

type documentRepository struct {
	q sqlx.ExtContext
}

func (r *documentRepository) Create(ctx context.Context, d *model.Document) error {
	query := `
		INSERT INTO documents (` + documentColumns + `
		) VALUES (
			:id, :patient_id, :consultation_id, :uploaded_by, :title, :file_name, :original_file_name,
			:storage_key, :content_type, :size, :category, :tags, :description, :created_at, :updated_at
		)`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, d); err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (r *documentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	var d model.Document
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.q, &d, query, id); err != nil {
		return nil, notFound("document", fmt.Errorf("failed to get document: %w", err))
	}
	return &d, nil
}

func (r *documentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return expectOne(result, "document")
}

func (r *documentRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, page model.Pagination) ([]*model.Document, error) {
	var out []*model.Document
	query := `SELECT ` + documentColumns + `
		FROM documents WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	if err := sqlx.SelectContext(ctx, r.q, &out, query, patientID, page.Limit(), page.Offset()); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return out, nil
}
