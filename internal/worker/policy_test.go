package worker

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryDelay(t *testing.T) {
	delay := RetryDelay(45 * time.Second)

	t.Run("breaker deferral uses the reset timeout", func(t *testing.T) {
		require.Equal(t, 45*time.Second, delay(0, ErrBreakerOpen, nil))
		require.Equal(t, 45*time.Second, delay(7, fmt.Errorf("deferred: %w", ErrBreakerOpen), nil))
	})

	t.Run("exponential backoff for real failures", func(t *testing.T) {
		cause := errors.New("rpc timeout")
		require.Equal(t, 5*time.Second, delay(0, cause, nil))
		require.Equal(t, 10*time.Second, delay(1, cause, nil))
		require.Equal(t, 20*time.Second, delay(2, cause, nil))
		require.Equal(t, 10*time.Minute, delay(20, cause, nil))
	})
}

func TestIsFailure(t *testing.T) {
	require.False(t, IsFailure(ErrBreakerOpen))
	require.False(t, IsFailure(fmt.Errorf("deferred: %w", ErrBreakerOpen)))
	require.True(t, IsFailure(errors.New("rpc timeout")))
}
