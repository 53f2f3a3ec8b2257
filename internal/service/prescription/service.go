// Package prescription drives prescriptions from draft to dispensed.
package prescription

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/careflow/careflow-api/internal/model"
	"github.com/careflow/careflow-api/internal/repository"
	"github.com/careflow/careflow-api/internal/service/audit"
	"github.com/careflow/careflow-api/internal/service/event"
	"github.com/careflow/careflow-api/internal/service/txn"
	apperrors "github.com/careflow/careflow-api/pkg/errors"
	pkgvalidator "github.com/careflow/careflow-api/pkg/validator"
)

type Config struct {
	Validity time.Duration
	// AllowInitialStatus lets the creator start a prescription as signed.
	AllowInitialStatus bool
}

type Service struct {
	tx       *txn.Coordinator
	cfg      Config
	validate *validator.Validate
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(tx *txn.Coordinator, cfg Config, opts ...Option) *Service {
	if cfg.Validity <= 0 {
		cfg.Validity = model.DefaultPrescriptionValidity
	}
	s := &Service{tx: tx, cfg: cfg, validate: pkgvalidator.New(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Create(ctx context.Context, caller model.Caller, req model.CreatePrescriptionRequest) (*model.Prescription, error) {
	if err := pkgvalidator.Struct(s.validate, req); err != nil {
		return nil, err
	}
	now := s.now().UTC()

	validUntil := now.Add(s.cfg.Validity)
	if req.ValidUntil != nil {
		validUntil = req.ValidUntil.UTC()
	}
	if !validUntil.After(now) {
		return nil, apperrors.NewValidation("valid_until must be in the future", nil)
	}

	status, err := s.initialStatus(req.InitialStatus)
	if err != nil {
		return nil, err
	}

	p := &model.Prescription{
		Base:           model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		ConsultationID: req.ConsultationID,
		PatientID:      req.PatientID,
		PrescriberID:   caller.UserID,
		Medications:    model.Medications(req.Medications),
		Notes:          req.Notes,
		Status:         status,
		ValidUntil:     validUntil,
	}
	if status == model.PrescriptionStatusSigned {
		p.SignedBy = &caller.UserID
		p.SignedAt = &now
	}

	err = s.tx.Run(ctx, "prescription.create", func(ctx context.Context, tx repository.Tx) error {
		consultation, err := tx.Consultations().Get(ctx, req.ConsultationID)
		if err != nil {
			return err
		}
		if consultation.PatientID != req.PatientID {
			return apperrors.NewValidation("consultation belongs to a different patient", nil)
		}
		if _, err := tx.Directory().GetPatient(ctx, req.PatientID); err != nil {
			return err
		}

		if err := tx.Prescriptions().Create(ctx, p); err != nil {
			return err
		}
		if err := tx.Consultations().AppendPrescription(ctx, consultation.ID, p.ID); err != nil {
			return err
		}
		if err := audit.Log(ctx, tx, caller.UserID, model.AuditActionCreate, model.AuditEntityPrescription, p.ID, &audit.LogOptions{Changes: p}); err != nil {
			return err
		}
		return event.Emit(ctx, tx, model.AuditEntityPrescription, p.ID, model.EventPrescriptionCreated, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) initialStatus(requested model.PrescriptionStatus) (model.PrescriptionStatus, error) {
	switch {
	case requested == "" || requested == model.PrescriptionStatusDraft:
		return model.PrescriptionStatusDraft, nil
	case !s.cfg.AllowInitialStatus:
		return "", apperrors.NewValidation("new prescriptions always start as draft", nil)
	case requested == model.PrescriptionStatusSigned:
		return requested, nil
	default:
		return "", apperrors.NewValidation("a prescription can only be created as draft or signed", nil)
	}
}

// Get returns the prescription as of now; one past its deadline reads as expired.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Prescription, error) {
	var p *model.Prescription
	err := s.tx.View(ctx, func(tx repository.Tx) error {
		var err error
		p, err = tx.Prescriptions().Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.ExpireIfDue(s.now().UTC())
	return p, nil
}

func (s *Service) List(ctx context.Context, filters *model.PrescriptionFilters) ([]*model.Prescription, error) {
	var list []*model.Prescription
	err := s.tx.View(ctx, func(tx repository.Tx) error {
		var err error
		list, err = tx.Prescriptions().List(ctx, filters)
		return err
	})
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	for _, p := range list {
		p.ExpireIfDue(now)
	}
	return list, nil
}

func (s *Service) Sign(ctx context.Context, caller model.Caller, id uuid.UUID) (*model.Prescription, error) {
	return s.transition(ctx, caller, id, "prescription.sign", model.EventPrescriptionSigned,
		func(tx repository.Tx, p *model.Prescription, now time.Time) error {
			if p.PrescriberID != caller.UserID && caller.Role != model.RoleAdmin {
				return apperrors.Forbidden("only the prescriber can sign this prescription")
			}
			return p.Sign(caller.UserID, now)
		})
}

// AssignPharmacy checks the pharmacy, links it and marks the prescription
// sent, all in one unit.
func (s *Service) AssignPharmacy(ctx context.Context, caller model.Caller, id, pharmacyID uuid.UUID) (*model.Prescription, error) {
	return s.transition(ctx, caller, id, "prescription.assign_pharmacy", model.EventPrescriptionSent,
		func(tx repository.Tx, p *model.Prescription, now time.Time) error {
			pharmacy, err := tx.Directory().GetPharmacy(ctx, pharmacyID)
			if err != nil {
				return err
			}
			if !pharmacy.IsActive {
				return apperrors.NewValidation("pharmacy "+pharmacy.Name+" is not accepting prescriptions", nil)
			}
			return p.AssignPharmacy(pharmacy.ID, now)
		})
}

func (s *Service) Dispense(ctx context.Context, caller model.Caller, id uuid.UUID) (*model.Prescription, error) {
	return s.transition(ctx, caller, id, "prescription.dispense", model.EventPrescriptionDispensed,
		func(tx repository.Tx, p *model.Prescription, now time.Time) error {
			return p.Dispense(caller.UserID, now)
		})
}

func (s *Service) Cancel(ctx context.Context, caller model.Caller, id uuid.UUID, reason string) (*model.Prescription, error) {
	return s.transition(ctx, caller, id, "prescription.cancel", model.EventPrescriptionCancelled,
		func(tx repository.Tx, p *model.Prescription, now time.Time) error {
			return p.Cancel(caller.UserID, reason, now)
		})
}

// transition applies one workflow move under the unit's isolation. A
// prescription found past its deadline is expired first, so the move is
// rejected as a transition out of expired.
func (s *Service) transition(
	ctx context.Context,
	caller model.Caller,
	id uuid.UUID,
	unit, eventType string,
	apply func(repository.Tx, *model.Prescription, time.Time) error,
) (*model.Prescription, error) {
	var p *model.Prescription
	err := s.tx.Run(ctx, unit, func(ctx context.Context, tx repository.Tx) error {
		var err error
		if p, err = tx.Prescriptions().Get(ctx, id); err != nil {
			return err
		}
		now := s.now().UTC()
		p.ExpireIfDue(now)
		from := p.Status

		if err := apply(tx, p, now); err != nil {
			return err
		}
		if err := tx.Prescriptions().Update(ctx, p); err != nil {
			return err
		}
		if err := audit.Log(ctx, tx, caller.UserID, model.AuditActionTransition, model.AuditEntityPrescription, p.ID, &audit.LogOptions{
			Changes: audit.Transition{From: string(from), To: string(p.Status)},
		}); err != nil {
			return err
		}
		return event.Emit(ctx, tx, model.AuditEntityPrescription, p.ID, eventType, event.StatusChange{
			ID: p.ID, From: string(from), To: string(p.Status), By: caller.UserID,
		})
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
