package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), Config{InitialDelay: time.Microsecond, MaxAttempts: 10}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("budget exhausted")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryReturnsLastError(t *testing.T) {
	wantErr := errors.New("no evictable page")
	attempts := 0
	err := Retry(context.Background(), Config{InitialDelay: time.Microsecond, MaxAttempts: 4}, func() error {
		attempts++
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 4, attempts)
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, Config{InitialDelay: time.Millisecond, MaxAttempts: 0}, func() error {
		return errors.New("keep retrying")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryCapsDelay(t *testing.T) {
	cfg := Config{InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, MaxAttempts: 5}
	start := time.Now()
	_ = Retry(context.Background(), cfg, func() error { return errors.New("always") })
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}
