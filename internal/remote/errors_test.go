package remote

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatusError_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code     int
		sentinel error
		kind     Kind
	}{
		{http.StatusBadRequest, ErrBadRequest, KindPermanent},
		{http.StatusUnauthorized, ErrUnauthorized, KindPermanent},
		{http.StatusForbidden, ErrForbidden, KindPermanent},
		{http.StatusNotFound, ErrNotFound, KindPermanent},
		{http.StatusRequestTimeout, ErrServerError, KindTransient},
		{http.StatusTooManyRequests, ErrThrottled, KindTransient},
		{http.StatusInternalServerError, ErrServerError, KindTransient},
		{http.StatusBadGateway, ErrServerError, KindTransient},
		{http.StatusServiceUnavailable, ErrServerError, KindTransient},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.code), func(t *testing.T) {
			t.Parallel()

			err := NewStatusError(tt.code, "body")

			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.code, err.StatusCode)
		})
	}
}

func TestError_Temporary(t *testing.T) {
	t.Parallel()

	assert.True(t, NewStatusError(http.StatusTooManyRequests, "").Temporary())
	assert.True(t, NewStatusError(http.StatusInternalServerError, "").Temporary())
	assert.False(t, NewStatusError(http.StatusNotFound, "").Temporary())
	assert.False(t, NewStatusError(http.StatusUnauthorized, "").Temporary())
}

func TestError_TemporaryThroughWrapping(t *testing.T) {
	t.Parallel()

	// Classification must survive fmt.Errorf wrapping, because callers wrap
	// with operation context before the retry policy sees the error.
	wrapped := fmt.Errorf("remote: create in journal_entries: %w",
		NewStatusError(http.StatusServiceUnavailable, "maintenance"))

	var e *Error
	require.True(t, errors.As(wrapped, &e))
	assert.True(t, e.Temporary())
	assert.ErrorIs(t, wrapped, ErrServerError)
}

func TestError_Message(t *testing.T) {
	t.Parallel()

	err := NewStatusError(http.StatusNotFound, "no such document")

	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "permanent")
	assert.Contains(t, err.Error(), "no such document")
}

func TestKind_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "transient", KindTransient.String())
	assert.Equal(t, "permanent", KindPermanent.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}
