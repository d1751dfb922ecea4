package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/migadu/sieveforge/config"
	"github.com/migadu/sieveforge/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func fast(retries int) BackoffConfig {
	return BackoffConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
		MaxRetries:      retries,
	}
}

func TestWithRetrySucceedsAfterFailures(t *testing.T) {
	metrics.RetryAttempts.Reset()
	calls := 0
	err := WithRetry(context.Background(), "test_op", fast(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RetryAttempts.WithLabelValues("test_op")))
}

func TestWithRetryGivesUp(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := WithRetry(context.Background(), "test_op", fast(2), func() error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopError(t *testing.T) {
	denied := errors.New("auth denied")
	calls := 0
	err := WithRetry(context.Background(), "test_op", fast(5), func() error {
		calls++
		return Stop(denied)
	})
	assert.Equal(t, denied, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsStopError(Stop(denied)))
	assert.False(t, IsStopError(denied))
}

func TestWithRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := fast(3)
	cfg.InitialInterval = time.Hour
	cfg.MaxInterval = time.Hour

	err := WithRetry(ctx, "test_op", cfg, func() error { return errors.New("x") })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromConfig(t *testing.T) {
	cfg, err := FromConfig(config.RetryConfig{MaxRetries: 4, InitialInterval: "250ms", MaxInterval: "1m", Multiplier: 3})
	require.NoError(t, err)
	assert.Equal(t, BackoffConfig{
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     time.Minute,
		Multiplier:      3,
		Jitter:          true,
		MaxRetries:      4,
	}, cfg)

	_, err = FromConfig(config.RetryConfig{InitialInterval: "later"})
	require.Error(t, err)
}

func TestExponentialBackoffBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := BackoffConfig{
			InitialInterval: time.Duration(rapid.Int64Range(1, int64(time.Second)).Draw(t, "initial")),
			Multiplier:      rapid.Float64Range(1, 4).Draw(t, "multiplier"),
			Jitter:          rapid.Bool().Draw(t, "jitter"),
		}
		cfg.MaxInterval = cfg.InitialInterval * time.Duration(rapid.Int64Range(1, 100).Draw(t, "cap"))
		attempt := rapid.IntRange(1, 40).Draw(t, "attempt")

		d := ExponentialBackoff(cfg)(attempt)
		if d > cfg.MaxInterval {
			t.Fatalf("delay %v above cap %v", d, cfg.MaxInterval)
		}
		if d < 0 {
			t.Fatalf("negative delay %v", d)
		}
	})
}
