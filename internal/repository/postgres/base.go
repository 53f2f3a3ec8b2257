package postgres

import (
	"context"
	"database/sql"
	"math/rand"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/careflow/careflow-api/internal/repository"
)

// Store runs every unit of work at SERIALIZABLE isolation and replays units
// that lose a serialization race.
type Store struct {
	db          *sqlx.DB
	maxRetries  int
	baseBackoff time.Duration
}

func NewStore(db *sqlx.DB, maxRetries int) *Store {
	return &Store{db: db, maxRetries: maxRetries, baseBackoff: 20 * time.Millisecond}
}

var _ repository.Store = (*Store)(nil)

// GetDB returns the database instance
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx))
}

func (s *Store) View(ctx context.Context, fn func(tx repository.Tx) error) error {
	return classify(fn(newTx(s.db)))
}

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt >= s.maxRetries {
			return classify(err)
		}

		wait := s.baseBackoff<<attempt + time.Duration(rand.Int63n(int64(s.baseBackoff)))
		log.Debug().Err(err).Int("attempt", attempt+1).Dur("backoff", wait).Msg("retrying serializable transaction")
		select {
		case <-ctx.Done():
			return classify(ctx.Err())
		case <-time.After(wait):
		}
	}
}

// runTx executes fn within a transaction
func (s *Store) runTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(newTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// tx binds every repository to one sqlx.ExtContext, either the pool or an open transaction.
type tx struct {
	q sqlx.ExtContext
}

func newTx(q sqlx.ExtContext) *tx {
	return &tx{q: q}
}

func (t *tx) Appointments() repository.AppointmentRepository   { return &appointmentRepository{t.q} }
func (t *tx) Prescriptions() repository.PrescriptionRepository { return &prescriptionRepository{t.q} }
func (t *tx) LabOrders() repository.LabOrderRepository         { return &labOrderRepository{t.q} }
func (t *tx) LabResults() repository.LabResultRepository       { return &labResultRepository{t.q} }
func (t *tx) Consultations() repository.ConsultationRepository { return &consultationRepository{t.q} }
func (t *tx) Directory() repository.DirectoryRepository        { return &directoryRepository{t.q} }
func (t *tx) Documents() repository.DocumentRepository         { return &documentRepository{t.q} }
func (t *tx) Outbox() repository.OutboxRepository              { return &outboxRepository{t.q} }
func (t *tx) Audit() repository.AuditRepository                { return &auditRepository{t.q} }
