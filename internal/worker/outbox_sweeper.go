package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/careflow/careflow-api/internal/repository"
)

// OutboxSweeper deletes relayed outbox events once they are older than the
// retention window. Pending, retrying and failed events are never touched.
type OutboxSweeper struct {
	store     repository.Store
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

func NewOutboxSweeper(store repository.Store, retention, interval time.Duration, logger zerolog.Logger) *OutboxSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &OutboxSweeper{
		store:     store,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		logger:    logger.With().Str("component", "outbox_sweeper").Logger(),
	}
}

func (w *OutboxSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.Error().Err(err).Msg("outbox sweep failed")
			}
		}
	}
}

// Sweep runs one purge and returns how many events were removed. A zero
// retention disables purging.
func (w *OutboxSweeper) Sweep(ctx context.Context) (int64, error) {
	if w.retention <= 0 {
		return 0, nil
	}
	cutoff := w.now().Add(-w.retention)

	var purged int64
	err := w.store.WithTx(ctx, func(tx repository.Tx) error {
		n, err := tx.Outbox().PurgeProcessed(ctx, cutoff)
		purged = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge outbox events: %w", err)
	}
	if purged > 0 {
		w.logger.Info().Int64("purged", purged).Time("cutoff", cutoff).Msg("purged relayed outbox events")
	}
	return purged, nil
}
