// Package laborder runs lab orders from ordering to validation and attaches
// uploaded result files to them.
package laborder

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
	"github.com/careflow/careflow-api/pkg/storage"
	pkgvalidator "github.com/careflow/careflow-api/pkg/validator"
)

type Config struct {
	MaxUploadBytes int64
	PresignTTL     time.Duration
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
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 10 * time.Minute
	}
	s := &Service{tx: tx, cfg: cfg, validate: pkgvalidator.New(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResultUpload is what an upload produced: the new result and the order as
// committed with it.
type ResultUpload struct {
	Result *model.LabResult `json:"result"`
	Order  *model.LabOrder  `json:"order"`
}

func (s *Service) Create(ctx context.Context, caller model.Caller, req model.CreateLabOrderRequest) (*model.LabOrder, error) {
	if err := pkgvalidator.Struct(s.validate, req); err != nil {
		return nil, err
	}
	if req.OrderedBy == uuid.Nil {
		return nil, apperrors.NewValidation("ordering practitioner is required", nil)
	}
	priority := req.Priority
	if priority == "" {
		priority = model.LabPriorityRoutine
	}
	now := s.now().UTC()

	order := &model.LabOrder{
		Base:           model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		ConsultationID: req.ConsultationID,
		PatientID:      req.PatientID,
		OrderedBy:      req.OrderedBy,
		LaboratoryID:   req.LaboratoryID,
		Tests:          model.LabTests(req.Tests),
		Priority:       priority,
		ClinicalNotes:  req.ClinicalNotes,
		Status:         model.LabOrderStatusOrdered,
	}

	err := s.tx.Run(ctx, "lab_order.create", func(ctx context.Context, tx repository.Tx) error {
		orderer, err := tx.Directory().GetUser(ctx, req.OrderedBy)
		if err != nil {
			return err
		}
		if !orderer.Role.Clinical() {
			return apperrors.NewInvalidRole("lab orders must be placed by a practitioner")
		}
		if _, err := tx.Directory().GetPatient(ctx, req.PatientID); err != nil {
			return err
		}
		if req.LaboratoryID != nil {
			if err := activeLaboratory(ctx, tx, *req.LaboratoryID); err != nil {
				return err
			}
		}

		if err := tx.LabOrders().Create(ctx, order); err != nil {
			return err
		}
		if req.ConsultationID != nil {
			consultation, err := tx.Consultations().Get(ctx, *req.ConsultationID)
			if err != nil {
				return err
			}
			if consultation.PatientID != req.PatientID {
				return apperrors.NewValidation("consultation belongs to a different patient", nil)
			}
			if err := tx.Consultations().AppendLabOrder(ctx, consultation.ID, order.ID); err != nil {
				return err
			}
		}
		if err := audit.Log(ctx, tx, caller.UserID, model.AuditActionCreate, model.AuditEntityLabOrder, order.ID, &audit.LogOptions{Changes: order}); err != nil {
			return err
		}
		return event.Emit(ctx, tx, model.AuditEntityLabOrder, order.ID, model.EventLabOrderCreated, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// UploadResult stores the file, records a LabResult, appends it to the order
// and advances an order still waiting for results to received. The blob is
// removed again if any database step fails.
func (s *Service) UploadResult(ctx context.Context, caller model.Caller, orderID uuid.UUID, file model.FileUpload) (*ResultUpload, error) {
	if err := storage.ValidateUpload(file.Name, file.ContentType, file.Size(), s.cfg.MaxUploadBytes, storage.LabResultContentTypes); err != nil {
		return nil, err
	}

	// Fail fast before touching storage; the unit re-checks under isolation.
	if _, err := s.Get(ctx, orderID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	resultID := uuid.New()
	obj := txn.Object{
		Key:         storage.LabResultKey(orderID, resultID, file.Name, now),
		Data:        file.Data,
		ContentType: file.ContentType,
	}

	out := &ResultUpload{}
	err := s.tx.RunWithUpload(ctx, "lab_result.upload", obj, func(ctx context.Context, tx repository.Tx, key string) error {
		order, err := tx.LabOrders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		from := order.Status

		result := &model.LabResult{
			Base:        model.Base{ID: resultID, CreatedAt: now, UpdatedAt: now},
			LabOrderID:  order.ID,
			UploadedBy:  caller.UserID,
			FileName:    storage.SanitizeFileName(file.Name),
			StorageKey:  key,
			ContentType: file.ContentType,
			Size:        file.Size(),
		}
		advanced, err := order.AttachResult(result.ID, now)
		if err != nil {
			return err
		}
		if err := tx.LabResults().Create(ctx, result); err != nil {
			return err
		}
		if err := tx.LabOrders().Update(ctx, order); err != nil {
			return err
		}

		if err := audit.Log(ctx, tx, caller.UserID, model.AuditActionCreate, model.AuditEntityLabResult, result.ID, &audit.LogOptions{
			Changes: map[string]interface{}{"lab_order_id": order.ID, "file_name": result.FileName, "size": result.Size},
		}); err != nil {
			return err
		}
		if err := event.Emit(ctx, tx, model.AuditEntityLabOrder, order.ID, model.EventLabResultUploaded, result); err != nil {
			return err
		}
		if advanced {
			if err := event.Emit(ctx, tx, model.AuditEntityLabOrder, order.ID, model.EventLabOrderStatus, event.StatusChange{
				ID: order.ID, From: string(from), To: string(order.Status), By: caller.UserID,
			}); err != nil {
				return err
			}
		}
		out.Result, out.Order = result, order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.LabOrder, error) {
	var order *model.LabOrder
	err := s.tx.View(ctx, func(tx repository.Tx) error {
		var err error
		order, err = tx.LabOrders().Get(ctx, id)
		return err
	})
	return order, err
}

func (s *Service) List(ctx context.Context, filters *model.LabOrderFilters) ([]*model.LabOrder, error) {
	var list []*model.LabOrder
	err := s.tx.View(ctx, func(tx repository.Tx) error {
		var err error
		list, err = tx.LabOrders().List(ctx, filters)
		return err
	})
	return list, err
}

func (s *Service) AssignLaboratory(ctx context.Context, caller model.Caller, id, labID uuid.UUID) (*model.LabOrder, error) {
	return s.transition(ctx, caller, id, "lab_order.assign_laboratory", func(tx repository.Tx, o *model.LabOrder, now time.Time) error {
		if err := activeLaboratory(ctx, tx, labID); err != nil {
			return err
		}
		return o.AssignLaboratory(labID, now)
	})
}

func (s *Service) CollectSample(ctx context.Context, caller model.Caller, id uuid.UUID) (*model.LabOrder, error) {
	return s.transition(ctx, caller, id, "lab_order.collect_sample", func(_ repository.Tx, o *model.LabOrder, now time.Time) error {
		return o.CollectSample(now)
	})
}

func (s *Service) StartProcessing(ctx context.Context, caller model.Caller, id uuid.UUID) (*model.LabOrder, error) {
	return s.transition(ctx, caller, id, "lab_order.start", func(_ repository.Tx, o *model.LabOrder, now time.Time) error {
		return o.StartProcessing(now)
	})
}

func (s *Service) RecordInlineResults(ctx context.Context, caller model.Caller, id uuid.UUID, req model.RecordInlineResultsRequest) (*model.LabOrder, error) {
	if err := pkgvalidator.Struct(s.validate, req); err != nil {
		return nil, err
	}
	return s.transition(ctx, caller, id, "lab_order.inline_results", func(_ repository.Tx, o *model.LabOrder, now time.Time) error {
		return o.RecordInlineResults(req.Results, caller.UserID, now)
	})
}

// Complete needs at least one result unless override is set.
func (s *Service) Complete(ctx context.Context, caller model.Caller, id uuid.UUID, override bool) (*model.LabOrder, error) {
	return s.transition(ctx, caller, id, "lab_order.complete", func(_ repository.Tx, o *model.LabOrder, now time.Time) error {
		return o.Complete(override, now)
	})
}

func (s *Service) Validate(ctx context.Context, caller model.Caller, id uuid.UUID, override bool) (*model.LabOrder, error) {
	return s.transition(ctx, caller, id, "lab_order.validate", func(_ repository.Tx, o *model.LabOrder, now time.Time) error {
		return o.Validate(caller.UserID, override, now)
	})
}

func (s *Service) Cancel(ctx context.Context, caller model.Caller, id uuid.UUID, reason string) (*model.LabOrder, error) {
	return s.transition(ctx, caller, id, "lab_order.cancel", func(_ repository.Tx, o *model.LabOrder, now time.Time) error {
		return o.Cancel(caller.UserID, reason, now)
	})
}

func (s *Service) transition(
	ctx context.Context,
	caller model.Caller,
	id uuid.UUID,
	unit string,
	apply func(repository.Tx, *model.LabOrder, time.Time) error,
) (*model.LabOrder, error) {
	var order *model.LabOrder
	err := s.tx.Run(ctx, unit, func(ctx context.Context, tx repository.Tx) error {
		var err error
		if order, err = tx.LabOrders().Get(ctx, id); err != nil {
			return err
		}
		from := order.Status
		if err := apply(tx, order, s.now().UTC()); err != nil {
			return err
		}
		if err := tx.LabOrders().Update(ctx, order); err != nil {
			return err
		}
		if err := audit.Log(ctx, tx, caller.UserID, model.AuditActionTransition, model.AuditEntityLabOrder, order.ID, &audit.LogOptions{
			Changes: audit.Transition{From: string(from), To: string(order.Status)},
		}); err != nil {
			return err
		}
		if from == order.Status {
			return nil
		}
		return event.Emit(ctx, tx, model.AuditEntityLabOrder, order.ID, model.EventLabOrderStatus, event.StatusChange{
			ID: order.ID, From: string(from), To: string(order.Status), By: caller.UserID,
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) ListResults(ctx context.Context, orderID uuid.UUID) ([]*model.LabResult, error) {
	var results []*model.LabResult
	err := s.tx.View(ctx, func(tx repository.Tx) error {
		if _, err := tx.LabOrders().Get(ctx, orderID); err != nil {
			return err
		}
		var err error
		results, err = tx.LabResults().ListByOrder(ctx, orderID)
		return err
	})
	return results, err
}

func (s *Service) ResultDownloadURL(ctx context.Context, resultID uuid.UUID) (*model.DownloadLink, error) {
	var result *model.LabResult
	err := s.tx.View(ctx, func(tx repository.Tx) error {
		var err error
		result, err = tx.LabResults().Get(ctx, resultID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.tx.PresignedURL(ctx, result.StorageKey, s.cfg.PresignTTL)
}

// FlagResult updates the review fields, the only mutable part of a result.
func (s *Service) FlagResult(ctx context.Context, caller model.Caller, resultID uuid.UUID, req model.FlagLabResultRequest) (*model.LabResult, error) {
	if err := pkgvalidator.Struct(s.validate, req); err != nil {
		return nil, err
	}
	var result *model.LabResult
	err := s.tx.Run(ctx, "lab_result.flag", func(ctx context.Context, tx repository.Tx) error {
		var err error
		if result, err = tx.LabResults().Get(ctx, resultID); err != nil {
			return err
		}
		if err := tx.LabResults().UpdateReview(ctx, resultID, req.Flagged, req.Notes); err != nil {
			return err
		}
		result.Flagged = req.Flagged
		result.Notes = req.Notes
		return audit.Log(ctx, tx, caller.UserID, model.AuditActionUpdate, model.AuditEntityLabResult, resultID, &audit.LogOptions{Changes: req})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func activeLaboratory(ctx context.Context, tx repository.Tx, id uuid.UUID) error {
	lab, err := tx.Directory().GetLaboratory(ctx, id)
	if err != nil {
		return err
	}
	if !lab.IsActive {
		return apperrors.NewValidation("laboratory "+lab.Name+" is not accepting orders", nil)
	}
	return nil
}
