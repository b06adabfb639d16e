package retrylimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr int

func (s statusErr) Error() string   { return http.StatusText(int(s)) }
func (s statusErr) StatusCode() int { return int(s) }

func fastConfig(attempts int) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = attempts
	cfg.InitialDelay = time.Millisecond
	cfg.RateLimitDelay = time.Millisecond
	cfg.Jitter = false
	return cfg
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := WithRetryConfig(context.Background(), func() error {
		calls++
		if calls < 3 {
			return statusErr(http.StatusBadGateway)
		}
		return nil
	}, nil, fastConfig(3))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	err := WithRetryConfig(context.Background(), func() error {
		calls++
		return statusErr(http.StatusInternalServerError)
	}, nil, fastConfig(2))
	assert.Equal(t, 2, calls)

	var se statusErr
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode())
}

func TestRetryStopsOnFatal(t *testing.T) {
	notFound := statusErr(http.StatusNotFound)
	calls := 0
	err := WithRetryConfig(context.Background(), func() error {
		calls++
		return Fatal(notFound)
	}, nil, fastConfig(5))
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, notFound)
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetryConfig(ctx, func() error { return errors.New("unreachable") }, nil, fastConfig(5))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLimiterAdapts(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 1, 20, 1, 0.5)
	lim.RateLimited()
	assert.Equal(t, 5.0, lim.CurrentLimit())

	lim.RateLimited()
	lim.RateLimited()
	lim.RateLimited()
	assert.Equal(t, 1.0, lim.CurrentLimit())

	err := WithRetryConfig(context.Background(), func() error {
		return statusErr(http.StatusTooManyRequests)
	}, lim, fastConfig(2))
	assert.Error(t, err)
	assert.Equal(t, 1.0, lim.CurrentLimit())
}

func TestNewLimiterClampsBounds(t *testing.T) {
	lim := NewAdaptiveLimiter(0.5, 0, 3, 1, 0.5)
	assert.Equal(t, 1.0, lim.CurrentLimit(), "initial below one request per second")

	lim.RateLimited()
	assert.Equal(t, 1.0, lim.CurrentLimit(), "minimum is at least one")

	lim.adjustLimit(10)
	assert.Equal(t, 3.0, lim.CurrentLimit())
}
