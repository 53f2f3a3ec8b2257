// Package document stores patient files and their metadata together.
package document

import (
	"context"
	"strings"
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

func NewService(tx *txn.Coordinator, cfg Config) *Service {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 10 * time.Minute
	}
	return &Service{tx: tx, cfg: cfg, validate: pkgvalidator.New(), now: time.Now}
}

func (s *Service) Upload(ctx context.Context, caller model.Caller, req model.UploadDocumentRequest, file model.FileUpload) (*model.Document, error) {
	if err := pkgvalidator.Struct(s.validate, req); err != nil {
		return nil, err
	}
	if err := storage.ValidateUpload(file.Name, file.ContentType, file.Size(), s.cfg.MaxUploadBytes, storage.DocumentContentTypes); err != nil {
		return nil, err
	}
	category := req.Category
	if category == "" {
		category = model.DocumentCategoryOther
	}

	now := s.now().UTC()
	doc := &model.Document{
		Base:             model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		PatientID:        req.PatientID,
		ConsultationID:   req.ConsultationID,
		UploadedBy:       caller.UserID,
		Title:            strings.TrimSpace(req.Title),
		FileName:         storage.SanitizeFileName(file.Name),
		OriginalFileName: file.Name,
		ContentType:      file.ContentType,
		Size:             file.Size(),
		Category:         category,
		Tags:             model.Tags(req.Tags),
		Description:      req.Description,
	}
	obj := txn.Object{
		Key:         storage.DocumentKey(req.PatientID, doc.ID, file.Name, now),
		Data:        file.Data,
		ContentType: file.ContentType,
	}

	err := s.tx.RunWithUpload(ctx, "document.upload", obj, func(ctx context.Context, tx repository.Tx, key string) error {
		if _, err := tx.Directory().GetPatient(ctx, req.PatientID); err != nil {
			return err
		}
		doc.StorageKey = key
		if err := tx.Documents().Create(ctx, doc); err != nil {
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
			if err := tx.Consultations().AppendDocument(ctx, consultation.ID, doc.ID); err != nil {
				return err
			}
		}
		if err := audit.Log(ctx, tx, caller.UserID, model.AuditActionCreate, model.AuditEntityDocument, doc.ID, &audit.LogOptions{
			Changes: map[string]interface{}{"title": doc.Title, "file_name": doc.FileName, "size": doc.Size},
		}); err != nil {
			return err
		}
		return event.Emit(ctx, tx, model.AuditEntityDocument, doc.ID, model.EventDocumentUploaded, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, page model.Pagination) ([]*model.Document, error) {
	var docs []*model.Document
	err := s.tx.View(ctx, func(tx repository.Tx) error {
		if _, err := tx.Directory().GetPatient(ctx, patientID); err != nil {
			return err
		}
		var err error
		docs, err = tx.Documents().ListByPatient(ctx, patientID, page)
		return err
	})
	return docs, err
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	var doc *model.Document
	err := s.tx.View(ctx, func(tx repository.Tx) error {
		var err error
		doc, err = tx.Documents().Get(ctx, id)
		return err
	})
	return doc, err
}

func (s *Service) DownloadURL(ctx context.Context, id uuid.UUID) (*model.DownloadLink, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.tx.PresignedURL(ctx, doc.StorageKey, s.cfg.PresignTTL)
}

// Delete removes the record, then the blob once the removal has committed.
func (s *Service) Delete(ctx context.Context, caller model.Caller, id uuid.UUID) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.tx.RunThenDelete(ctx, "document.delete", doc.StorageKey, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.Documents().Delete(ctx, doc.ID); err != nil {
			return err
		}
		if doc.ConsultationID != nil {
			if err := tx.Consultations().RemoveDocument(ctx, *doc.ConsultationID, doc.ID); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
				return err
			}
		}
		if err := audit.Log(ctx, tx, caller.UserID, model.AuditActionDelete, model.AuditEntityDocument, doc.ID, &audit.LogOptions{
			Changes: map[string]string{"storage_key": doc.StorageKey},
		}); err != nil {
			return err
		}
		return event.Emit(ctx, tx, model.AuditEntityDocument, doc.ID, model.EventDocumentDeleted, doc)
	})
}
