package model

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
)

type DocumentCategory string

const (
	DocumentCategoryLabResult    DocumentCategory = "lab-result"
	DocumentCategoryImaging      DocumentCategory = "imaging"
	DocumentCategoryReport       DocumentCategory = "report"
	DocumentCategoryPrescription DocumentCategory = "prescription"
	DocumentCategoryOther        DocumentCategory = "other"
)

type Tags []string

func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return jsonValue(t)
}

func (t *Tags) Scan(src interface{}) error {
	return scanJSON(src, t)
}

// Document is a patient file held in object storage.
type Document struct {
	Base
	PatientID        uuid.UUID        `db:"patient_id" json:"patient_id"`
	ConsultationID   *uuid.UUID       `db:"consultation_id" json:"consultation_id,omitempty"`
	UploadedBy       uuid.UUID        `db:"uploaded_by" json:"uploaded_by"`
	Title            string           `db:"title" json:"title"`
	FileName         string           `db:"file_name" json:"file_name"`
	OriginalFileName string           `db:"original_file_name" json:"original_file_name"`
	StorageKey       string           `db:"storage_key" json:"storage_key"`
	ContentType      string           `db:"content_type" json:"content_type"`
	Size             int64            `db:"size" json:"size"`
	Category         DocumentCategory `db:"category" json:"category"`
	Tags             Tags             `db:"tags" json:"tags"`
	Description      string           `db:"description" json:"description,omitempty"`
}

type UploadDocumentRequest struct {
	PatientID      uuid.UUID        `form:"patient_id" validate:"required"`
	ConsultationID *uuid.UUID       `form:"consultation_id"`
	Title          string           `form:"title" validate:"required,max=200"`
	Category       DocumentCategory `form:"category" validate:"omitempty,oneof=lab-result imaging report prescription other"`
	Tags           []string         `form:"tags" validate:"max=20,dive,max=50"`
	Description    string           `form:"description" validate:"max=1000"`
}

// FileUpload is an in-memory upload handed from the transport to a service.
type FileUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

func (f FileUpload) Size() int64 {
	return int64(len(f.Data))
}

// DownloadLink is a time-limited URL to a stored file.
type DownloadLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
