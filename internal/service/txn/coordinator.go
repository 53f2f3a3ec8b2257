// Package txn runs multi-record changes as one unit of work and pairs them
// with object storage side effects.
package txn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/careflow/careflow-api/internal/model"
	"github.com/careflow/careflow-api/internal/repository"
	apperrors "github.com/careflow/careflow-api/pkg/errors"
	"github.com/careflow/careflow-api/pkg/metrics"
	"github.com/careflow/careflow-api/pkg/storage"
	"github.com/careflow/careflow-api/pkg/tracing"
)

type Config struct {
	UnitTimeout         time.Duration
	CompensationTimeout time.Duration
}

// Object is a blob written ahead of a unit of work.
type Object struct {
	Key         string
	Data        []byte
	ContentType string
}

type Coordinator struct {
	store   repository.Store
	objects storage.ObjectStore
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  zerolog.Logger
	cfg     Config
}

func NewCoordinator(store repository.Store, objects storage.ObjectStore, m *metrics.Metrics, logger zerolog.Logger, cfg Config) *Coordinator {
	if cfg.CompensationTimeout <= 0 {
		cfg.CompensationTimeout = 10 * time.Second
	}
	return &Coordinator{
		store:   store,
		objects: objects,
		metrics: m,
		tracer:  tracing.Tracer(),
		logger:  logger.With().Str("component", "txn").Logger(),
		cfg:     cfg,
	}
}

// Run executes fn as one unit named unit. fn must use the context it is
// handed, which carries the unit deadline. Typed errors pass through,
// timeouts become TransientFailure and anything else IntegrityFailure.
func (c *Coordinator) Run(ctx context.Context, unit string, fn func(ctx context.Context, tx repository.Tx) error) error {
	ctx, span := c.tracer.Start(ctx, "txn."+unit, trace.WithAttributes(attribute.String("txn.unit", unit)))
	defer span.End()

	if c.cfg.UnitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.UnitTimeout)
		defer cancel()
	}

	start := time.Now()
	err := c.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
	c.metrics.TxLatency.WithLabelValues(unit).Observe(time.Since(start).Seconds())

	err = classify(ctx, unit, err)
	outcome := outcomeOf(err)
	c.metrics.Transactions.WithLabelValues(unit, outcome).Inc()
	if apperrors.Is(err, apperrors.ErrSlotConflict) {
		c.metrics.SlotConflicts.Inc()
	}

	if err != nil {
		span.SetAttributes(attribute.String("txn.outcome", outcome))
		if outcome != "rejected" {
			span.SetStatus(codes.Error, err.Error())
			c.logger.Error().Err(err).Str("unit", unit).Str("outcome", outcome).Msg("unit of work failed")
		}
	}
	return err
}

// View runs fn outside of a transaction for reads.
func (c *Coordinator) View(ctx context.Context, fn func(tx repository.Tx) error) error {
	return classify(ctx, "view", c.store.View(ctx, fn))
}

// RunWithUpload writes obj, then runs the unit. If the put or the unit fails
// the blob is deleted before the error is returned. A put that timed out may
// still have landed, so it is compensated too.
func (c *Coordinator) RunWithUpload(ctx context.Context, unit string, obj Object, fn func(ctx context.Context, tx repository.Tx, key string) error) error {
	key, err := c.objects.Put(ctx, obj.Key, obj.Data, obj.ContentType)
	if err != nil {
		c.compensate(ctx, unit, obj.Key)
		return storageError("store "+obj.Key, err)
	}

	err = c.Run(ctx, unit, func(ctx context.Context, tx repository.Tx) error {
		return fn(ctx, tx, key)
	})
	if err == nil {
		return nil
	}
	c.compensate(ctx, unit, key)
	return err
}

// compensate removes key on a fresh bounded context; the caller's context may
// already be done.
func (c *Coordinator) compensate(ctx context.Context, unit, key string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CompensationTimeout)
	defer cancel()
	if derr := c.objects.Delete(cctx, key); derr != nil {
		c.metrics.Compensations.WithLabelValues("failed").Inc()
		c.logger.Error().Err(derr).Str("unit", unit).Str("key", key).Msg("failed to delete blob after aborted unit")
		return
	}
	c.metrics.Compensations.WithLabelValues("deleted").Inc()
}

// RunThenDelete runs the unit and deletes key once it has committed. A failed
// delete does not fail the call; it is recorded as a blob_orphaned event.
func (c *Coordinator) RunThenDelete(ctx context.Context, unit string, key string, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := c.Run(ctx, unit, fn); err != nil {
		return err
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CompensationTimeout)
	defer cancel()
	derr := c.objects.Delete(dctx, key)
	if derr == nil {
		return nil
	}

	c.metrics.OrphanedBlobs.Inc()
	c.logger.Warn().Err(derr).Str("unit", unit).Str("key", key).Msg("blob left behind after commit")

	payload, _ := json.Marshal(map[string]string{"storage_key": key, "error": derr.Error()})
	if err := c.store.WithTx(dctx, func(tx repository.Tx) error {
		return tx.Outbox().Create(dctx, &model.OutboxEvent{
			ID:            uuid.New(),
			AggregateType: "blob",
			AggregateID:   uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)),
			EventType:     model.EventDocumentBlobOrphaned,
			Payload:       payload,
		})
	}); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("failed to record orphaned blob")
	}
	return nil
}

// PresignedURL returns a download link for key with the expiry the store
// signed it for.
func (c *Coordinator) PresignedURL(ctx context.Context, key string, ttl time.Duration) (*model.DownloadLink, error) {
	link, err := c.objects.PresignedGet(ctx, key, ttl)
	if err != nil {
		return nil, storageError("presign "+key, err)
	}
	return &model.DownloadLink{URL: link.URL, ExpiresAt: link.ExpiresAt}, nil
}

func classify(ctx context.Context, unit string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	// Once the unit deadline has passed the store may report the rollback
	// rather than the deadline itself.
	if apperrors.IsTimeout(err) || ctx.Err() != nil {
		return apperrors.NewTransient(fmt.Sprintf("%s timed out", unit), err)
	}
	return apperrors.NewIntegrity(fmt.Sprintf("%s aborted", unit), err)
}

func storageError(op string, err error) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if errors.Is(err, storage.ErrObjectNotFound) {
		return apperrors.NewNotFound("file", err)
	}
	return apperrors.NewTransient("object storage failed to "+op, err)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "committed"
	case apperrors.Is(err, apperrors.ErrTransient):
		return "transient"
	case apperrors.Is(err, apperrors.ErrIntegrity), apperrors.Is(err, apperrors.ErrInternal):
		return "integrity"
	default:
		return "rejected"
	}
}
