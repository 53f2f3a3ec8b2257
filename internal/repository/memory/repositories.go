package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/careflow/careflow-api/internal/model"
	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

type appointmentRepository struct{ t *tx }

func (r *appointmentRepository) Create(ctx context.Context, a *model.Appointment) error {
	if err := r.t.write("appointments.create"); err != nil {
		return err
	}
	for _, other := range r.t.st.appointments {
		if other.PractitionerID == a.PractitionerID && other.Status.Active() && a.Status.Active() &&
			model.Overlaps(other.Interval, a.Interval) {
			return apperrors.NewSlotConflict("practitioner already has an appointment in this slot", nil)
		}
	}
	r.t.st.appointments[a.ID] = *a
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	a, ok := r.t.st.appointments[id]
	if !ok {
		return nil, apperrors.NewNotFound("appointment", nil)
	}
	return &a, nil
}

func (r *appointmentRepository) Update(ctx context.Context, a *model.Appointment) error {
	if err := r.t.write("appointments.update"); err != nil {
		return err
	}
	if _, ok := r.t.st.appointments[a.ID]; !ok {
		return apperrors.NewNotFound("appointment", nil)
	}
	for _, other := range r.t.st.appointments {
		if other.ID != a.ID && other.PractitionerID == a.PractitionerID && other.Status.Active() &&
			a.Status.Active() && model.Overlaps(other.Interval, a.Interval) {
			return apperrors.NewSlotConflict("practitioner already has an appointment in this slot", nil)
		}
	}
	r.t.st.appointments[a.ID] = *a
	return nil
}

func (r *appointmentRepository) List(ctx context.Context, f *model.AppointmentFilters) ([]*model.Appointment, error) {
	if f == nil {
		f = &model.AppointmentFilters{}
	}
	var out []*model.Appointment
	for _, a := range r.t.st.appointments {
		if f.PractitionerID != uuid.Nil && a.PractitionerID != f.PractitionerID {
			continue
		}
		if f.PatientID != uuid.Nil && a.PatientID != f.PatientID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Date != nil && !a.Date.Equal(*f.Date) {
			continue
		}
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Start < out[j].Start
	})
	return page(out, f.Pagination), nil
}

func (r *appointmentRepository) ListActiveForDay(ctx context.Context, practitionerID uuid.UUID, date model.Date, excludeID *uuid.UUID) ([]*model.Appointment, error) {
	var out []*model.Appointment
	for _, a := range r.t.st.appointments {
		if a.PractitionerID != practitionerID || !a.Date.Equal(date) || !a.Status.Active() {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

type prescriptionRepository struct{ t *tx }

func (r *prescriptionRepository) Create(ctx context.Context, p *model.Prescription) error {
	if err := r.t.write("prescriptions.create"); err != nil {
		return err
	}
	r.t.st.prescriptions[p.ID] = copyPrescription(*p)
	return nil
}

func (r *prescriptionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Prescription, error) {
	p, ok := r.t.st.prescriptions[id]
	if !ok {
		return nil, apperrors.NewNotFound("prescription", nil)
	}
	p = copyPrescription(p)
	return &p, nil
}

func (r *prescriptionRepository) Update(ctx context.Context, p *model.Prescription) error {
	if err := r.t.write("prescriptions.update"); err != nil {
		return err
	}
	if _, ok := r.t.st.prescriptions[p.ID]; !ok {
		return apperrors.NewNotFound("prescription", nil)
	}
	r.t.st.prescriptions[p.ID] = copyPrescription(*p)
	return nil
}

func (r *prescriptionRepository) List(ctx context.Context, f *model.PrescriptionFilters) ([]*model.Prescription, error) {
	if f == nil {
		f = &model.PrescriptionFilters{}
	}
	var out []*model.Prescription
	for _, p := range r.t.st.prescriptions {
		if f.PatientID != uuid.Nil && p.PatientID != f.PatientID {
			continue
		}
		if f.PharmacyID != uuid.Nil && (p.PharmacyID == nil || *p.PharmacyID != f.PharmacyID) {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		p := copyPrescription(p)
		out = append(out, &p)
	}
	sortByCreated(out, func(p *model.Prescription) int64 { return p.CreatedAt.UnixNano() })
	return page(out, f.Pagination), nil
}

type labOrderRepository struct{ t *tx }

func (r *labOrderRepository) Create(ctx context.Context, o *model.LabOrder) error {
	if err := r.t.write("lab_orders.create"); err != nil {
		return err
	}
	r.t.st.labOrders[o.ID] = copyLabOrder(*o)
	return nil
}

func (r *labOrderRepository) Get(ctx context.Context, id uuid.UUID) (*model.LabOrder, error) {
	o, ok := r.t.st.labOrders[id]
	if !ok {
		return nil, apperrors.NewNotFound("lab order", nil)
	}
	o = copyLabOrder(o)
	return &o, nil
}

func (r *labOrderRepository) Update(ctx context.Context, o *model.LabOrder) error {
	if err := r.t.write("lab_orders.update"); err != nil {
		return err
	}
	if _, ok := r.t.st.labOrders[o.ID]; !ok {
		return apperrors.NewNotFound("lab order", nil)
	}
	r.t.st.labOrders[o.ID] = copyLabOrder(*o)
	return nil
}

func (r *labOrderRepository) List(ctx context.Context, f *model.LabOrderFilters) ([]*model.LabOrder, error) {
	if f == nil {
		f = &model.LabOrderFilters{}
	}
	var out []*model.LabOrder
	for _, o := range r.t.st.labOrders {
		if f.PatientID != uuid.Nil && o.PatientID != f.PatientID {
			continue
		}
		if f.LaboratoryID != uuid.Nil && (o.LaboratoryID == nil || *o.LaboratoryID != f.LaboratoryID) {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		o := copyLabOrder(o)
		out = append(out, &o)
	}
	sortByCreated(out, func(o *model.LabOrder) int64 { return o.CreatedAt.UnixNano() })
	return page(out, f.Pagination), nil
}

type labResultRepository struct{ t *tx }

func (r *labResultRepository) Create(ctx context.Context, res *model.LabResult) error {
	if err := r.t.write("lab_results.create"); err != nil {
		return err
	}
	r.t.st.labResults[res.ID] = *res
	return nil
}

func (r *labResultRepository) Get(ctx context.Context, id uuid.UUID) (*model.LabResult, error) {
	res, ok := r.t.st.labResults[id]
	if !ok {
		return nil, apperrors.NewNotFound("lab result", nil)
	}
	return &res, nil
}

func (r *labResultRepository) UpdateReview(ctx context.Context, id uuid.UUID, flagged bool, notes string) error {
	if err := r.t.write("lab_results.update"); err != nil {
		return err
	}
	res, ok := r.t.st.labResults[id]
	if !ok {
		return apperrors.NewNotFound("lab result", nil)
	}
	res.Flagged = flagged
	res.Notes = notes
	res.UpdatedAt = time.Now().UTC()
	r.t.st.labResults[id] = res
	return nil
}

func (r *labResultRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*model.LabResult, error) {
	var out []*model.LabResult
	for _, res := range r.t.st.labResults {
		if res.LabOrderID == orderID {
			res := res
			out = append(out, &res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type consultationRepository struct{ t *tx }

func (r *consultationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Consultation, error) {
	c, ok := r.t.st.consultations[id]
	if !ok {
		return nil, apperrors.NewNotFound("consultation", nil)
	}
	c = copyConsultation(c)
	return &c, nil
}

func (r *consultationRepository) modify(op string, id uuid.UUID, fn func(c *model.Consultation)) error {
	if err := r.t.write(op); err != nil {
		return err
	}
	c, ok := r.t.st.consultations[id]
	if !ok {
		return apperrors.NewNotFound("consultation", nil)
	}
	c = copyConsultation(c)
	fn(&c)
	c.UpdatedAt = time.Now().UTC()
	r.t.st.consultations[id] = c
	return nil
}

func (r *consultationRepository) AppendPrescription(ctx context.Context, id, prescriptionID uuid.UUID) error {
	return r.modify("consultations.append_prescription", id, func(c *model.Consultation) {
		c.PrescriptionIDs = append(c.PrescriptionIDs, prescriptionID)
	})
}

func (r *consultationRepository) AppendLabOrder(ctx context.Context, id, labOrderID uuid.UUID) error {
	return r.modify("consultations.append_lab_order", id, func(c *model.Consultation) {
		c.LabOrderIDs = append(c.LabOrderIDs, labOrderID)
	})
}

func (r *consultationRepository) AppendDocument(ctx context.Context, id, documentID uuid.UUID) error {
	return r.modify("consultations.append_document", id, func(c *model.Consultation) {
		c.DocumentIDs = append(c.DocumentIDs, documentID)
	})
}

func (r *consultationRepository) RemoveDocument(ctx context.Context, id, documentID uuid.UUID) error {
	return r.modify("consultations.remove_document", id, func(c *model.Consultation) {
		kept := c.DocumentIDs[:0]
		for _, d := range c.DocumentIDs {
			if d != documentID {
				kept = append(kept, d)
			}
		}
		c.DocumentIDs = kept
	})
}

type directoryRepository struct{ t *tx }

func (r *directoryRepository) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	u, ok := r.t.st.users[id]
	if !ok {
		return nil, apperrors.NewNotFound("user", nil)
	}
	return &u, nil
}

func (r *directoryRepository) GetPatient(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	p, ok := r.t.st.patients[id]
	if !ok {
		return nil, apperrors.NewNotFound("patient", nil)
	}
	return &p, nil
}

func (r *directoryRepository) GetPharmacy(ctx context.Context, id uuid.UUID) (*model.Pharmacy, error) {
	p, ok := r.t.st.pharmacies[id]
	if !ok {
		return nil, apperrors.NewNotFound("pharmacy", nil)
	}
	return &p, nil
}

func (r *directoryRepository) GetLaboratory(ctx context.Context, id uuid.UUID) (*model.Laboratory, error) {
	l, ok := r.t.st.laboratories[id]
	if !ok {
		return nil, apperrors.NewNotFound("laboratory", nil)
	}
	return &l, nil
}

type documentRepository struct{ t *tx }

func (r *documentRepository) Create(ctx context.Context, d *model.Document) error {
	if err := r.t.write("documents.create"); err != nil {
		return err
	}
	doc := *d
	doc.Tags = append(model.Tags(nil), d.Tags...)
	r.t.st.documents[d.ID] = doc
	return nil
}

func (r *documentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	d, ok := r.t.st.documents[id]
	if !ok {
		return nil, apperrors.NewNotFound("document", nil)
	}
	return &d, nil
}

func (r *documentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.t.write("documents.delete"); err != nil {
		return err
	}
	if _, ok := r.t.st.documents[id]; !ok {
		return apperrors.NewNotFound("document", nil)
	}
	delete(r.t.st.documents, id)
	return nil
}

func (r *documentRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, p model.Pagination) ([]*model.Document, error) {
	var out []*model.Document
	for _, d := range r.t.st.documents {
		if d.PatientID == patientID {
			d := d
			out = append(out, &d)
		}
	}
	sortByCreated(out, func(d *model.Document) int64 { return d.CreatedAt.UnixNano() })
	return page(out, p), nil
}

type outboxRepository struct{ t *tx }

func (r *outboxRepository) Create(ctx context.Context, e *model.OutboxEvent) error {
	if err := r.t.write("outbox.create"); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	e.Status = model.OutboxStatusPending
	e.CreatedAt = now
	e.UpdatedAt = now
	r.t.st.outbox = append(r.t.st.outbox, *e)
	return nil
}

func (r *outboxRepository) GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	var out []*model.OutboxEvent
	for _, e := range r.t.st.outbox {
		if len(out) >= limit {
			break
		}
		if e.Status == model.OutboxStatusPending || e.Status == model.OutboxStatusRetry {
			e := e
			out = append(out, &e)
		}
	}
	return out, nil
}

func (r *outboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string) error {
	if err := r.t.write("outbox.update"); err != nil {
		return err
	}
	for i := range r.t.st.outbox {
		if r.t.st.outbox[i].ID != id {
			continue
		}
		e := r.t.st.outbox[i]
		now := time.Now().UTC()
		e.Status = status
		e.ErrorMessage = errorMessage
		e.UpdatedAt = now
		if status == model.OutboxStatusRetry || status == model.OutboxStatusFailed {
			e.RetryCount++
		}
		if status == model.OutboxStatusProcessed {
			e.ProcessedAt = &now
		}
		r.t.st.outbox[i] = e
		return nil
	}
	return apperrors.NewNotFound("outbox event", nil)
}

func (r *outboxRepository) PurgeProcessed(ctx context.Context, before time.Time) (int64, error) {
	if err := r.t.write("outbox.purge"); err != nil {
		return 0, err
	}
	kept := r.t.st.outbox[:0:0]
	var n int64
	for _, e := range r.t.st.outbox {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.t.st.outbox = kept
	return n, nil
}

type auditRepository struct{ t *tx }

func (r *auditRepository) Create(ctx context.Context, l *model.AuditLog) error {
	if err := r.t.write("audit.create"); err != nil {
		return err
	}
	r.t.st.audit = append(r.t.st.audit, *l)
	return nil
}

func (r *auditRepository) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*model.AuditLog, error) {
	var out []*model.AuditLog
	for _, l := range r.t.st.audit {
		if l.EntityType == entityType && l.EntityID == entityID {
			l := l
			out = append(out, &l)
		}
	}
	return out, nil
}

func copyPrescription(p model.Prescription) model.Prescription {
	p.Medications = append(model.Medications(nil), p.Medications...)
	return p
}

func copyLabOrder(o model.LabOrder) model.LabOrder {
	o.Tests = append(model.LabTests(nil), o.Tests...)
	o.InlineResults = append(model.InlineResults(nil), o.InlineResults...)
	o.ResultIDs = append(model.UUIDs(nil), o.ResultIDs...)
	return o
}

func copyConsultation(c model.Consultation) model.Consultation {
	c.PrescriptionIDs = append(model.UUIDs(nil), c.PrescriptionIDs...)
	c.LabOrderIDs = append(model.UUIDs(nil), c.LabOrderIDs...)
	c.DocumentIDs = append(model.UUIDs(nil), c.DocumentIDs...)
	return c
}
