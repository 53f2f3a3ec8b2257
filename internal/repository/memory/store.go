// Package memory is an in-process repository.Store. Each unit of work runs
// against a private copy of the state that replaces the live state only when
// the unit returns nil, so aborted units leave nothing behind.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/careflow/careflow-api/internal/model"
	"github.com/careflow/careflow-api/internal/repository"
)

// ErrReadOnly is returned by writes attempted through View.
var ErrReadOnly = errors.New("memory: write outside of a transaction")

// FailureHook is consulted before every write; a non-nil result fails that write.
// Operation names look like "lab_orders.update".
type FailureHook func(op string) error

type state struct {
	appointments  map[uuid.UUID]model.Appointment
	prescriptions map[uuid.UUID]model.Prescription
	labOrders     map[uuid.UUID]model.LabOrder
	labResults    map[uuid.UUID]model.LabResult
	consultations map[uuid.UUID]model.Consultation
	documents     map[uuid.UUID]model.Document
	users         map[uuid.UUID]model.User
	patients      map[uuid.UUID]model.Patient
	pharmacies    map[uuid.UUID]model.Pharmacy
	laboratories  map[uuid.UUID]model.Laboratory
	outbox        []model.OutboxEvent
	audit         []model.AuditLog
}

func newState() *state {
	return &state{
		appointments:  map[uuid.UUID]model.Appointment{},
		prescriptions: map[uuid.UUID]model.Prescription{},
		labOrders:     map[uuid.UUID]model.LabOrder{},
		labResults:    map[uuid.UUID]model.LabResult{},
		consultations: map[uuid.UUID]model.Consultation{},
		documents:     map[uuid.UUID]model.Document{},
		users:         map[uuid.UUID]model.User{},
		patients:      map[uuid.UUID]model.Patient{},
		pharmacies:    map[uuid.UUID]model.Pharmacy{},
		laboratories:  map[uuid.UUID]model.Laboratory{},
	}
}

// clone copies the maps. Stored values are never mutated in place, so sharing
// their slices between generations is safe.
func (s *state) clone() *state {
	return &state{
		appointments:  cloneMap(s.appointments),
		prescriptions: cloneMap(s.prescriptions),
		labOrders:     cloneMap(s.labOrders),
		labResults:    cloneMap(s.labResults),
		consultations: cloneMap(s.consultations),
		documents:     cloneMap(s.documents),
		users:         cloneMap(s.users),
		patients:      cloneMap(s.patients),
		pharmacies:    cloneMap(s.pharmacies),
		laboratories:  cloneMap(s.laboratories),
		outbox:        append([]model.OutboxEvent(nil), s.outbox...),
		audit:         append([]model.AuditLog(nil), s.audit...),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store is a mutex-guarded repository.Store.
type Store struct {
	mu     sync.RWMutex
	st     *state
	failOn FailureHook
}

func NewStore() *Store {
	return &Store{st: newState()}
}

var _ repository.Store = (*Store)(nil)

// SetFailureHook installs (or clears, with nil) a write failure hook.
func (s *Store) SetFailureHook(hook FailureHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn = hook
}

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.st.clone()
	if err := fn(&tx{st: draft, failOn: s.failOn}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = draft
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{st: s.st, readOnly: true})
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) SeedUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[u.ID] = u
}

func (s *Store) SeedPatient(p model.Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.patients[p.ID] = p
}

func (s *Store) SeedPharmacy(p model.Pharmacy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.pharmacies[p.ID] = p
}

func (s *Store) SeedLaboratory(l model.Laboratory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.laboratories[l.ID] = l
}

func (s *Store) SeedConsultation(c model.Consultation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.consultations[c.ID] = c
}

// OutboxEvents returns a copy of every event written so far, oldest first.
func (s *Store) OutboxEvents() []model.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.OutboxEvent(nil), s.st.outbox...)
}

// AuditLogs returns a copy of every audit row written so far.
func (s *Store) AuditLogs() []model.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.AuditLog(nil), s.st.audit...)
}

// LabResultCount reports how many lab results are committed.
func (s *Store) LabResultCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.st.labResults)
}

type tx struct {
	st       *state
	readOnly bool
	failOn   FailureHook
}

func (t *tx) write(op string) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if t.failOn != nil {
		return t.failOn(op)
	}
	return nil
}

func (t *tx) Appointments() repository.AppointmentRepository   { return &appointmentRepository{t} }
func (t *tx) Prescriptions() repository.PrescriptionRepository { return &prescriptionRepository{t} }
func (t *tx) LabOrders() repository.LabOrderRepository         { return &labOrderRepository{t} }
func (t *tx) LabResults() repository.LabResultRepository       { return &labResultRepository{t} }
func (t *tx) Consultations() repository.ConsultationRepository { return &consultationRepository{t} }
func (t *tx) Directory() repository.DirectoryRepository        { return &directoryRepository{t} }
func (t *tx) Documents() repository.DocumentRepository         { return &documentRepository{t} }
func (t *tx) Outbox() repository.OutboxRepository              { return &outboxRepository{t} }
func (t *tx) Audit() repository.AuditRepository                { return &auditRepository{t} }

func page[T any](items []*T, p model.Pagination) []*T {
	off := p.Offset()
	if off >= len(items) {
		return []*T{}
	}
	end := off + p.Limit()
	if end > len(items) {
		end = len(items)
	}
	return items[off:end]
}

func sortByCreated[T any](items []*T, created func(*T) int64) {
	sort.SliceStable(items, func(i, j int) bool { return created(items[i]) > created(items[j]) })
}
