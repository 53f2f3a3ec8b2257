package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "object-storage", Timeout: time.Minute, ConsecutiveFailures: 2})
	boom := errors.New("boom")

	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, "open", cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.False(t, called)
	assert.True(t, apperrors.Is(err, apperrors.ErrTransient))
}

func TestBreakerIgnoresCallerErrors(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "object-storage", Timeout: time.Minute, ConsecutiveFailures: 1})
	_ = cb.Execute(func() error { return apperrors.NewNotFound("object", nil) })
	assert.Equal(t, "closed", cb.State())
}
