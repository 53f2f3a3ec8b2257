// Package storage defines the object storage contract used for lab result
// and document files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Link is a presigned download URL and the moment it stops working.
type Link struct {
	URL       string
	ExpiresAt time.Time
}

// ObjectStore is the blob store the coordinator writes to.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	PresignedGet(ctx context.Context, key string, ttl time.Duration) (Link, error)
	Delete(ctx context.Context, key string) error
}

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeCSV  = "text/csv"
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
)

// LabResultContentTypes lists what a lab can upload as a result file.
var LabResultContentTypes = []string{ContentTypePDF, ContentTypeCSV, ContentTypeJPEG, ContentTypePNG}

// DocumentContentTypes lists what can be attached to a patient record.
var DocumentContentTypes = []string{ContentTypePDF, ContentTypeJPEG, ContentTypePNG}

// ValidateUpload checks the size limit and content type of an upload.
func ValidateUpload(name, contentType string, size, maxBytes int64, allowed []string) error {
	if strings.TrimSpace(name) == "" {
		return apperrors.NewValidation("file name is required", nil)
	}
	if size == 0 {
		return apperrors.NewValidation("file is empty", nil)
	}
	if maxBytes > 0 && size > maxBytes {
		return apperrors.NewValidation(fmt.Sprintf("file exceeds the %d byte limit", maxBytes), nil)
	}
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	for _, a := range allowed {
		if ct == a {
			return nil
		}
	}
	return apperrors.NewValidation("unsupported file type "+contentType, nil)
}

// SanitizeFileName keeps letters, digits, dot, dash and underscore.
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}

// LabResultKey is lab-results/{orderID}/{unixMillis}_{resultID}_{name}. The
// result id keeps two uploads of one name in the same millisecond apart.
func LabResultKey(orderID, resultID uuid.UUID, name string, now time.Time) string {
	return fmt.Sprintf("lab-results/%s/%d_%s_%s", orderID, now.UnixMilli(), resultID, SanitizeFileName(name))
}

// DocumentKey is documents/{patientID}/{unixMillis}_{documentID}_{name}.
func DocumentKey(patientID, documentID uuid.UUID, name string, now time.Time) string {
	return fmt.Sprintf("documents/%s/%d_%s_%s", patientID, now.UnixMilli(), documentID, SanitizeFileName(name))
}
