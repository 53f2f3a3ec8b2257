package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/careflow/careflow-api/pkg/circuitbreaker"
	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

// Resilient decorates an ObjectStore with a per-call timeout, a circuit
// breaker and a cache of presigned URLs. Cached links are handed out for at
// most half of their lifetime and keep their original expiry.
type Resilient struct {
	next    ObjectStore
	breaker *circuitbreaker.CircuitBreaker
	urls    *cache.Cache
	timeout time.Duration
}

func NewResilient(next ObjectStore, breaker *circuitbreaker.CircuitBreaker, timeout time.Duration) *Resilient {
	return &Resilient{
		next:    next,
		breaker: breaker,
		urls:    cache.New(5*time.Minute, 10*time.Minute),
		timeout: timeout,
	}
}

var _ ObjectStore = (*Resilient)(nil)

func (r *Resilient) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	err := r.breaker.Execute(func() error { return fn(ctx) })
	if err == nil {
		return nil
	}
	if apperrors.IsTimeout(err) {
		return apperrors.NewTransient(fmt.Sprintf("object storage %s timed out", op), err)
	}
	return err
}

func (r *Resilient) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	var stored string
	err := r.call(ctx, "put", func(ctx context.Context) error {
		var err error
		stored, err = r.next.Put(ctx, key, data, contentType)
		return err
	})
	return stored, err
}

func (r *Resilient) PresignedGet(ctx context.Context, key string, ttl time.Duration) (Link, error) {
	if cached, ok := r.urls.Get(key); ok {
		return cached.(Link), nil
	}
	var link Link
	err := r.call(ctx, "presign", func(ctx context.Context) error {
		var err error
		link, err = r.next.PresignedGet(ctx, key, ttl)
		return err
	})
	if err != nil {
		return Link{}, err
	}
	r.urls.Set(key, link, ttl/2)
	return link, nil
}

func (r *Resilient) Delete(ctx context.Context, key string) error {
	r.urls.Delete(key)
	return r.call(ctx, "delete", func(ctx context.Context) error {
		return r.next.Delete(ctx, key)
	})
}
