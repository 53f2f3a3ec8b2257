package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careflow/careflow-api/internal/model"
	"github.com/careflow/careflow-api/internal/repository"
)

type LogOptions struct {
	Changes interface{}
}

// Log writes an audit row through tx so it commits with the change it
// describes.
func Log(ctx context.Context, tx repository.Tx, userID uuid.UUID, action, entityType string, entityID uuid.UUID, opts *LogOptions) error {
	var changes json.RawMessage
	if opts != nil && opts.Changes != nil {
		b, err := json.Marshal(opts.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal audit changes: %w", err)
		}
		changes = b
	}

	log := &model.AuditLog{
		ID:         uuid.New(),
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Changes:    changes,
		CreatedAt:  time.Now().UTC(),
	}
	if err := tx.Audit().Create(ctx, log); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Transition is the Changes payload for a status move.
type Transition struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type Service struct {
	store repository.Store
}

func NewService(store repository.Store) *Service {
	return &Service{store: store}
}

// History lists the audit rows of one entity, oldest first.
func (s *Service) History(ctx context.Context, entityType string, entityID uuid.UUID) ([]*model.AuditLog, error) {
	var logs []*model.AuditLog
	err := s.store.View(ctx, func(tx repository.Tx) error {
		var err error
		logs, err = tx.Audit().ListByEntity(ctx, entityType, entityID)
		return err
	})
	return logs, err
}
