package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirrorErrorMessage(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Wrap(cause, NetworkError, "failed to fetch").
		WithContext("url", "https://example.test/a.pdf").
		WithContext("attempt", 2)

	assert.Equal(t,
		"[NetworkError] failed to fetch caused by: connection reset context: attempt=2, url=https://example.test/a.pdf",
		err.Error())
	assert.ErrorIs(t, err, cause)
	assert.NotEmpty(t, err.Stack)
	assert.NotEmpty(t, err.Function)
}

func TestIsTypeThroughWrapping(t *testing.T) {
	base := New(StorageError, "disk full")
	wrapped := fmt.Errorf("writing tree: %w", base)

	assert.True(t, IsStorageError(wrapped))
	assert.False(t, IsNetworkError(wrapped))
	assert.Equal(t, StorageError, GetType(wrapped))
	assert.Equal(t, ErrorType(-1), GetType(stderrors.New("plain")))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(New(ConfigurationError, "bad level")))
	assert.True(t, IsFatal(New(ValidationError, "no seeds")))
	assert.False(t, IsFatal(New(NetworkError, "timeout")))
	assert.False(t, IsFatal(nil))
}

func TestRetryableError(t *testing.T) {
	err := WrapRetryableError(stderrors.New("503"), NetworkError, "server unavailable", 2)

	require.True(t, IsRetryable(err))
	assert.True(t, IsNetworkError(err))

	assert.True(t, err.CanRetry())
	err.IncrementRetry()
	err.IncrementRetry()
	assert.False(t, err.CanRetry())

	assert.False(t, IsRetryable(New(NetworkError, "404")))

	got, ok := AsRetryable(fmt.Errorf("attempt 3: %w", err))
	require.True(t, ok)
	assert.Same(t, err, got)
	_, ok = AsRetryable(New(NetworkError, "404"))
	assert.False(t, ok)
}

func TestHandleErrorAddsRecovery(t *testing.T) {
	err := HandleError(New(ValidationError, "allowed domains are required"))

	var mirrorErr *MirrorError
	require.True(t, stderrors.As(err, &mirrorErr))
	assert.Contains(t, mirrorErr.Context, "recovery")

	plain := stderrors.New("plain")
	assert.Same(t, plain, HandleError(plain))
	assert.Nil(t, HandleError(nil))
}
