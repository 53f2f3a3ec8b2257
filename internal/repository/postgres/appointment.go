package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/careflow/careflow-api/internal/model"
)

const appointmentColumns = `
	id, patient_id, practitioner_id, consultation_id,
	appointment_date, start_minute, end_minute, duration_minutes,
	reason, category, status, notes, diagnosis, prescription_notes,
	created_by, cancelled_by, cancellation_reason, cancelled_at, completed_at,
	created_at, updated_at`

type appointmentRepository struct {
	q sqlx.ExtContext
}

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	query := `
		INSERT INTO appointments (` + appointmentColumns + `
		) VALUES (
			:id, :patient_id, :practitioner_id, :consultation_id,
			:appointment_date, :start_minute, :end_minute, :duration_minutes,
			:reason, :category, :status, :notes, :diagnosis, :prescription_notes,
			:created_by, :cancelled_by, :cancellation_reason, :cancelled_at, :completed_at,
			:created_at, :updated_at
		)`
	if _, err := sqlx.NamedExecContext(ctx, r.q, query, appointment); err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	var appointment model.Appointment
	if err := sqlx.GetContext(ctx, r.q, &appointment, query, id); err != nil {
		return nil, notFound("appointment", fmt.Errorf("failed to get appointment: %w", err))
	}
	return &appointment, nil
}

func (r *appointmentRepository) Update(ctx context.Context, appointment *model.Appointment) error {
	query := `
		UPDATE appointments SET
			consultation_id = :consultation_id,
			appointment_date = :appointment_date,
			start_minute = :start_minute,
			end_minute = :end_minute,
			duration_minutes = :duration_minutes,
			status = :status,
			notes = :notes,
			diagnosis = :diagnosis,
			prescription_notes = :prescription_notes,
			cancelled_by = :cancelled_by,
			cancellation_reason = :cancellation_reason,
			cancelled_at = :cancelled_at,
			completed_at = :completed_at,
			updated_at = :updated_at
		WHERE id = :id`

	result, err := sqlx.NamedExecContext(ctx, r.q, query, appointment)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	return expectOne(result, "appointment")
}

func (r *appointmentRepository) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	if filters == nil {
		filters = &model.AppointmentFilters{}
	}
	var (
		where []string
		args  []interface{}
	)
	if filters.PractitionerID != uuid.Nil {
		args = append(args, filters.PractitionerID)
		where = append(where, fmt.Sprintf("practitioner_id = $%d", len(args)))
	}
	if filters.PatientID != uuid.Nil {
		args = append(args, filters.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.Date != nil {
		args = append(args, *filters.Date)
		where = append(where, fmt.Sprintf("appointment_date = $%d", len(args)))
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filters.Limit(), filters.Offset())
	query += fmt.Sprintf(" ORDER BY appointment_date, start_minute LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var appointments []*model.Appointment
	if err := sqlx.SelectContext(ctx, r.q, &appointments, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appointments, nil
}

func (r *appointmentRepository) ListActiveForDay(ctx context.Context, practitionerID uuid.UUID, date model.Date, excludeID *uuid.UUID) ([]*model.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE practitioner_id = $1
		AND appointment_date = $2
		AND status = ANY($3)`
	args := []interface{}{practitionerID, date, pq.Array(activeStatuses())}

	if excludeID != nil {
		query += " AND id != $4"
		args = append(args, *excludeID)
	}
	query += " ORDER BY start_minute"

	var appointments []*model.Appointment
	if err := sqlx.SelectContext(ctx, r.q, &appointments, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list active appointments: %w", err)
	}
	return appointments, nil
}

func activeStatuses() []string {
	out := make([]string, 0, len(model.ActiveAppointmentStatuses))
	for _, s := range model.ActiveAppointmentStatuses {
		out = append(out, string(s))
	}
	return out
}
