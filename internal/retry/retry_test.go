package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestExponential(t *testing.T) {
	b := Exponential(time.Second, 5*time.Second, 2)

	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 4*time.Second, b.NextBackOff())
	assert.Equal(t, 5*time.Second, b.NextBackOff())
	assert.Equal(t, 5*time.Second, b.NextBackOff(), "never stops on its own")

	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}

func TestExponentialClampsBadInput(t *testing.T) {
	b := Exponential(3*time.Second, time.Second, 0.5)
	assert.Equal(t, 3*time.Second, b.NextBackOff())
	assert.Equal(t, 3*time.Second, b.NextBackOff())
}

func TestBackOffStopsAfterMaxRetries(t *testing.T) {
	b := fastConfig().BackOff(context.Background())
	for i := 0; i < 3; i++ {
		assert.NotEqual(t, backoff.Stop, b.NextBackOff())
	}
	assert.Equal(t, backoff.Stop, b.NextBackOff())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, backoff.Stop, fastConfig().BackOff(ctx).NextBackOff())
}

func TestDo(t *testing.T) {
	t.Run("succeeds after failures", func(t *testing.T) {
		attempts := 0
		err := Do(context.Background(), fastConfig(), func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary")
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		attempts := 0
		sentinel := errors.New("down")
		err := Do(context.Background(), fastConfig(), func(ctx context.Context) error {
			attempts++
			return sentinel
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, 4, attempts)
	})

	t.Run("stops when cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cfg := fastConfig()
		cfg.InitialDelay = time.Hour
		cfg.MaxDelay = time.Hour

		attempts := 0
		err := Do(ctx, cfg, func(ctx context.Context) error {
			attempts++
			cancel()
			return errors.New("down")
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})
}

func TestDoResult(t *testing.T) {
	attempts := 0
	got, err := DoResult(context.Background(), fastConfig(), func(ctx context.Context) (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errors.New("temporary")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}
