package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfSurvivesWrapping(t *testing.T) {
	base := NewSlotConflict("slot taken", nil)
	wrapped := fmt.Errorf("failed to create appointment: %w", base)

	assert.Equal(t, ErrSlotConflict, CodeOf(wrapped))
	assert.True(t, Is(wrapped, ErrSlotConflict))
	assert.False(t, Is(wrapped, ErrNotFound))
	assert.Equal(t, ErrInternal, CodeOf(fmt.Errorf("plain")))
	assert.False(t, Is(nil, ErrInternal))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrValidation:        http.StatusBadRequest,
		ErrPastDate:          http.StatusBadRequest,
		ErrNotFound:          http.StatusNotFound,
		ErrInvalidRole:       http.StatusUnprocessableEntity,
		ErrSlotConflict:      http.StatusConflict,
		ErrInvalidTransition: http.StatusConflict,
		ErrAlreadyInState:    http.StatusConflict,
		ErrTransient:         http.StatusServiceUnavailable,
		ErrIntegrity:         http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, code.HTTPStatus(), code.String())
	}
	assert.True(t, ErrTransient.Retryable())
	assert.False(t, ErrIntegrity.Retryable())
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(fmt.Errorf("put: %w", context.DeadlineExceeded)))
	assert.True(t, IsTimeout(context.Canceled))
	assert.False(t, IsTimeout(fmt.Errorf("boom")))
}

func TestErrorMessage(t *testing.T) {
	err := NewIntegrity("unit aborted", fmt.Errorf("disk full"))
	assert.Equal(t, "unit aborted: disk full", err.Error())
	assert.Equal(t, "INTEGRITY_FAILURE", err.Code.String())
}
