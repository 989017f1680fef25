package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("matches direct error", func(t *testing.T) {
		err := New(CodeNotFound, "client not found")
		assert.True(t, HasCode(err, CodeNotFound))
		assert.False(t, HasCode(err, CodeForbidden))
	})

	t.Run("matches through fmt wrapping", func(t *testing.T) {
		inner := New(CodeConflict, "request already decided")
		err := fmt.Errorf("approve: %w", inner)
		assert.True(t, HasCode(err, CodeConflict))
	})

	t.Run("uncoded error has no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
	})
}

func TestWrap(t *testing.T) {
	t.Run("nil in nil out", func(t *testing.T) {
		require.NoError(t, Wrap(nil, CodeInternal, "should vanish"))
	})

	t.Run("preserves cause chain", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(cause, CodeUnavailable, "store unreachable")
		assert.True(t, errors.Is(err, cause))
		assert.Equal(t, CodeUnavailable, CodeOf(err))
	})

	t.Run("outermost code wins", func(t *testing.T) {
		inner := New(CodeNotFound, "missing")
		outer := Wrap(inner, CodeInternal, "lookup failed")
		assert.Equal(t, CodeInternal, CodeOf(outer))
	})
}

func TestCodeOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestRetriable(t *testing.T) {
	assert.True(t, Retriable(New(CodeAuditWriteFailed, "sink down")))
	assert.True(t, Retriable(New(CodeUnavailable, "db down")))
	assert.False(t, Retriable(New(CodeConflict, "already decided")))
	assert.False(t, Retriable(New(CodeForbidden, "denied")))
}
