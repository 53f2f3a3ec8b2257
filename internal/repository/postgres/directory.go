package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/careflow/careflow-api/internal/model"
)

type directoryRepository struct {
	q sqlx.ExtContext
}

func (r *directoryRepository) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	query := `
		SELECT id, first_name, last_name, email, role, is_active, created_at, updated_at
		FROM users WHERE id = $1`
	var u model.User
	if err := sqlx.GetContext(ctx, r.q, &u, query, id); err != nil {
		return nil, notFound("user", fmt.Errorf("failed to get user: %w", err))
	}
	return &u, nil
}

func (r *directoryRepository) GetPatient(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	query := `
		SELECT id, user_id, first_name, last_name, email, phone, created_at, updated_at
		FROM patients WHERE id = $1`
	var p model.Patient
	if err := sqlx.GetContext(ctx, r.q, &p, query, id); err != nil {
		return nil, notFound("patient", fmt.Errorf("failed to get patient: %w", err))
	}
	return &p, nil
}

// GetPharmacy takes a share lock so the pharmacy cannot disappear before the
// surrounding unit commits.
func (r *directoryRepository) GetPharmacy(ctx context.Context, id uuid.UUID) (*model.Pharmacy, error) {
	query := `
		SELECT id, name, address, phone, email, is_active, created_at, updated_at
		FROM pharmacies WHERE id = $1 FOR SHARE`
	var p model.Pharmacy
	if err := sqlx.GetContext(ctx, r.q, &p, query, id); err != nil {
		return nil, notFound("pharmacy", fmt.Errorf("failed to get pharmacy: %w", err))
	}
	return &p, nil
}

func (r *directoryRepository) GetLaboratory(ctx context.Context, id uuid.UUID) (*model.Laboratory, error) {
	query := `
		SELECT id, name, address, phone, email, is_active, created_at, updated_at
		FROM laboratories WHERE id = $1 FOR SHARE`
	var l model.Laboratory
	if err := sqlx.GetContext(ctx, r.q, &l, query, id); err != nil {
		return nil, notFound("laboratory", fmt.Errorf("failed to get laboratory: %w", err))
	}
	return &l, nil
}
