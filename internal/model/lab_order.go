package model

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

type LabOrderStatus string

const (
	LabOrderStatusOrdered         LabOrderStatus = "ordered"
	LabOrderStatusSampleCollected LabOrderStatus = "sample-collected"
	LabOrderStatusReceived        LabOrderStatus = "received"
	LabOrderStatusInProgress      LabOrderStatus = "in-progress"
	LabOrderStatusCompleted       LabOrderStatus = "completed"
	LabOrderStatusValidated       LabOrderStatus = "validated"
	LabOrderStatusCancelled       LabOrderStatus = "cancelled"
)

func (s LabOrderStatus) Terminal() bool {
	return s == LabOrderStatusValidated || s == LabOrderStatusCancelled
}

// awaitingResults reports whether a result upload should advance the order to received.
func (s LabOrderStatus) awaitingResults() bool {
	return s == LabOrderStatusOrdered || s == LabOrderStatusSampleCollected
}

type LabPriority string

const (
	LabPriorityRoutine LabPriority = "routine"
	LabPriorityUrgent  LabPriority = "urgent"
	LabPriorityStat    LabPriority = "stat"
)

type LabTest struct {
	Name         string `json:"name" validate:"required,max=200"`
	Code         string `json:"code,omitempty" validate:"max=50"`
	Category     string `json:"category" validate:"required,oneof=hematology biochemistry microbiology immunology pathology genetics toxicology other"`
	SpecimenType string `json:"specimen_type" validate:"required,oneof=blood urine stool saliva tissue swab other"`
	Instructions string `json:"instructions,omitempty" validate:"max=500"`
}

type LabTests []LabTest

func (t LabTests) Value() (driver.Value, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return jsonValue(t)
}

func (t *LabTests) Scan(src interface{}) error {
	return scanJSON(src, t)
}

// InlineResult is a typed-in value recorded directly on the order.
type InlineResult struct {
	TestName       string    `json:"test_name" validate:"required,max=200"`
	Value          string    `json:"value" validate:"required,max=200"`
	Unit           string    `json:"unit,omitempty" validate:"max=50"`
	ReferenceRange string    `json:"reference_range,omitempty" validate:"max=100"`
	Flag           string    `json:"flag,omitempty" validate:"omitempty,oneof=normal low high critical"`
	Notes          string    `json:"notes,omitempty" validate:"max=500"`
	RecordedBy     uuid.UUID `json:"recorded_by"`
	RecordedAt     time.Time `json:"recorded_at"`
}

type InlineResults []InlineResult

func (r InlineResults) Value() (driver.Value, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return jsonValue(r)
}

func (r *InlineResults) Scan(src interface{}) error {
	return scanJSON(src, r)
}

type LabOrder struct {
	Base
	ConsultationID     *uuid.UUID     `db:"consultation_id" json:"consultation_id,omitempty"`
	PatientID          uuid.UUID      `db:"patient_id" json:"patient_id"`
	OrderedBy          uuid.UUID      `db:"ordered_by" json:"ordered_by"`
	LaboratoryID       *uuid.UUID     `db:"laboratory_id" json:"laboratory_id,omitempty"`
	Tests              LabTests       `db:"tests" json:"tests"`
	Priority           LabPriority    `db:"priority" json:"priority"`
	ClinicalNotes      string         `db:"clinical_notes" json:"clinical_notes,omitempty"`
	Status             LabOrderStatus `db:"status" json:"status"`
	InlineResults      InlineResults  `db:"inline_results" json:"inline_results"`
	ResultIDs          UUIDs          `db:"result_ids" json:"results"`
	SampleCollectedAt  *time.Time     `db:"sample_collected_at" json:"sample_collected_at,omitempty"`
	ReceivedAt         *time.Time     `db:"received_at" json:"received_at,omitempty"`
	StartedAt          *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt        *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	ValidatedBy        *uuid.UUID     `db:"validated_by" json:"validated_by,omitempty"`
	ValidatedAt        *time.Time     `db:"validated_at" json:"validated_at,omitempty"`
	CancelledBy        *uuid.UUID     `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancellationReason *string        `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time     `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

func (o *LabOrder) hasResults() bool {
	return len(o.ResultIDs) > 0 || len(o.InlineResults) > 0
}

// AttachResult appends the result id and advances an order still waiting for
// its sample or results to received. It reports whether the status changed.
func (o *LabOrder) AttachResult(resultID uuid.UUID, now time.Time) (advanced bool, err error) {
	if o.Status.Terminal() {
		return false, apperrors.NewInvalidTransition("cannot attach results to a " + string(o.Status) + " lab order")
	}
	o.ResultIDs = append(o.ResultIDs, resultID)
	o.UpdatedAt = now
	if o.Status.awaitingResults() {
		o.Status = LabOrderStatusReceived
		o.ReceivedAt = &now
		return true, nil
	}
	return false, nil
}

func (o *LabOrder) RecordInlineResults(results []InlineResult, by uuid.UUID, now time.Time) error {
	if o.Status.Terminal() {
		return apperrors.NewInvalidTransition("cannot record results on a " + string(o.Status) + " lab order")
	}
	for _, r := range results {
		r.RecordedBy = by
		r.RecordedAt = now
		o.InlineResults = append(o.InlineResults, r)
	}
	o.UpdatedAt = now
	return nil
}

func (o *LabOrder) AssignLaboratory(labID uuid.UUID, now time.Time) error {
	if o.Status.Terminal() || o.Status == LabOrderStatusCompleted {
		return apperrors.NewInvalidTransition("cannot assign a laboratory to a " + string(o.Status) + " lab order")
	}
	o.LaboratoryID = &labID
	o.UpdatedAt = now
	return nil
}

func (o *LabOrder) CollectSample(now time.Time) error {
	if o.Status == LabOrderStatusSampleCollected {
		return apperrors.NewAlreadyInState("sample is already collected")
	}
	if o.Status != LabOrderStatusOrdered {
		return apperrors.NewInvalidTransition("sample collection requires an ordered lab order, current status is " + string(o.Status))
	}
	o.Status = LabOrderStatusSampleCollected
	o.SampleCollectedAt = &now
	o.UpdatedAt = now
	return nil
}

func (o *LabOrder) StartProcessing(now time.Time) error {
	switch o.Status {
	case LabOrderStatusInProgress:
		return apperrors.NewAlreadyInState("lab order is already in progress")
	case LabOrderStatusSampleCollected, LabOrderStatusReceived:
	default:
		return apperrors.NewInvalidTransition("cannot start processing a " + string(o.Status) + " lab order")
	}
	o.Status = LabOrderStatusInProgress
	o.StartedAt = &now
	o.UpdatedAt = now
	return nil
}

// Complete requires at least one result unless override is set.
func (o *LabOrder) Complete(override bool, now time.Time) error {
	switch o.Status {
	case LabOrderStatusCompleted:
		return apperrors.NewAlreadyInState("lab order is already completed")
	case LabOrderStatusSampleCollected, LabOrderStatusReceived, LabOrderStatusInProgress:
	default:
		return apperrors.NewInvalidTransition("cannot complete a " + string(o.Status) + " lab order")
	}
	if !override && !o.hasResults() {
		return apperrors.NewInvalidTransition("lab order has no results attached")
	}
	o.Status = LabOrderStatusCompleted
	o.CompletedAt = &now
	o.UpdatedAt = now
	return nil
}

func (o *LabOrder) Validate(by uuid.UUID, override bool, now time.Time) error {
	switch o.Status {
	case LabOrderStatusValidated:
		return apperrors.NewAlreadyInState("lab order is already validated")
	case LabOrderStatusCompleted:
	default:
		return apperrors.NewInvalidTransition("only completed lab orders can be validated, current status is " + string(o.Status))
	}
	if !override && !o.hasResults() {
		return apperrors.NewInvalidTransition("lab order has no results attached")
	}
	o.Status = LabOrderStatusValidated
	o.ValidatedBy = &by
	o.ValidatedAt = &now
	o.UpdatedAt = now
	return nil
}

func (o *LabOrder) Cancel(by uuid.UUID, reason string, now time.Time) error {
	switch o.Status {
	case LabOrderStatusCancelled:
		return apperrors.NewAlreadyInState("lab order is already cancelled")
	case LabOrderStatusValidated:
		return apperrors.NewInvalidTransition("cannot cancel a validated lab order")
	}
	o.Status = LabOrderStatusCancelled
	o.CancelledBy = &by
	o.CancellationReason = &reason
	o.CancelledAt = &now
	o.UpdatedAt = now
	return nil
}

// LabResult is one uploaded result artifact. Only Flagged and Notes change after creation.
type LabResult struct {
	Base
	LabOrderID  uuid.UUID `db:"lab_order_id" json:"lab_order_id"`
	UploadedBy  uuid.UUID `db:"uploaded_by" json:"uploaded_by"`
	FileName    string    `db:"file_name" json:"file_name"`
	StorageKey  string    `db:"storage_key" json:"storage_key"`
	ContentType string    `db:"content_type" json:"content_type"`
	Size        int64     `db:"size" json:"size"`
	Flagged     bool      `db:"flagged" json:"flagged"`
	Notes       string    `db:"notes" json:"notes,omitempty"`
}

type CreateLabOrderRequest struct {
	ConsultationID *uuid.UUID  `json:"consultation_id"`
	PatientID      uuid.UUID   `json:"patient_id" validate:"required"`
	LaboratoryID   *uuid.UUID  `json:"laboratory_id"`
	Tests          []LabTest   `json:"tests" validate:"required,min=1,dive"`
	Priority       LabPriority `json:"priority" validate:"omitempty,oneof=routine urgent stat"`
	ClinicalNotes  string      `json:"clinical_notes" validate:"max=2000"`
	// OrderedBy is the single resolved ordering practitioner.
	OrderedBy uuid.UUID `json:"-"`
}

type RecordInlineResultsRequest struct {
	Results []InlineResult `json:"results" validate:"required,min=1,dive"`
}

type AssignLaboratoryRequest struct {
	LaboratoryID uuid.UUID `json:"laboratory_id" validate:"required"`
}

type CompleteLabOrderRequest struct {
	Override bool `json:"override"`
}

type CancelLabOrderRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type FlagLabResultRequest struct {
	Flagged bool   `json:"flagged"`
	Notes   string `json:"notes" validate:"max=1000"`
}

type LabOrderFilters struct {
	PatientID    uuid.UUID
	LaboratoryID uuid.UUID
	Status       LabOrderStatus
	Pagination
}
