package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func newTestPolicy() (*Policy, *recordingSleeper) {
	s := &recordingSleeper{}
	p := NewPolicy(zap.NewNop())
	p.Sleep = s.Sleep
	return p, s
}

func TestDo_Success(t *testing.T) {
	p, s := newTestPolicy()
	calls := 0

	got, err := Do(context.Background(), p, "place", func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.waits)
}

func TestDo_RetryableExhausts(t *testing.T) {
	p, s := newTestPolicy()
	calls := 0

	got, err := Do(context.Background(), p, "place", func(context.Context) (*int, error) {
		calls++
		return nil, errors.New("502 bad gateway")
	})

	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Contains(t, err.Error(), "502 bad gateway")
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, s.waits)
}

func TestDo_RecoversAfterFailure(t *testing.T) {
	p, s := newTestPolicy()
	calls := 0

	got, err := Do(context.Background(), p, "cancel", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("rate limited")
		}
		return 7, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, s.waits)
}

func TestDo_NoopErrors(t *testing.T) {
	messages := []string{
		"Order was never placed, already canceled, or filled.",
		"order not found",
		"Order does not exist.",
		"order not exists or too late to cancel",
	}
	for _, msg := range messages {
		t.Run(msg, func(t *testing.T) {
			p, s := newTestPolicy()
			calls := 0
			got, err := Do(context.Background(), p, "cancel", func(context.Context) (*string, error) {
				calls++
				return nil, errors.New(msg)
			})
			assert.NoError(t, err)
			assert.Nil(t, got)
			assert.Equal(t, 1, calls)
			assert.Empty(t, s.waits)
		})
	}
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	p := NewPolicy(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, p, "place", func(context.Context) (int, error) {
		return 0, errors.New("timeout")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExponential(t *testing.T) {
	assert.Equal(t, time.Second, Exponential(0))
	assert.Equal(t, 2*time.Second, Exponential(1))
	assert.Equal(t, 4*time.Second, Exponential(2))
}
