package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retries exhausted")

// DefaultAttempts is the number of tries a venue call gets.
const DefaultAttempts = 3

// noopMarkers are error fragments meaning the call's goal already holds.
var noopMarkers = []string{
	"already canceled",
	"already cancelled",
	"not found",
	"does not exist",
	"not exists",
	"never placed",
}

// IsNoop reports whether err says the operation has nothing left to do, for
// example canceling an order that is already gone.
func IsNoop(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range noopMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Policy is the retry policy wrapped around a single venue call.
type Policy struct {
	Attempts int
	// Backoff returns the wait after the given zero-based failed attempt.
	Backoff func(attempt int) time.Duration
	Logger  *zap.Logger
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy returns the default policy: three attempts, waiting 1s, 2s, 4s...
func NewPolicy(logger *zap.Logger) *Policy {
	return &Policy{
		Attempts: DefaultAttempts,
		Backoff:  Exponential,
		Logger:   logger,
		Sleep:    sleepContext,
	}
}

// Exponential waits 2^attempt seconds.
func Exponential(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn under the policy. A no-op error returns the zero value and a nil
// error on the spot. Any other error is retried until the attempts run out,
// then returned wrapped in ErrExhausted.
func Do[T any](ctx context.Context, p *Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = Exponential
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var err error
	for i := 0; i < attempts; i++ {
		var res T
		res, err = fn(ctx)
		if err == nil {
			return res, nil
		}
		if IsNoop(err) {
			logger.Info("Ignoring expected venue error", zap.String("op", op), zap.Error(err))
			return zero, nil
		}
		if i == attempts-1 {
			break
		}

		wait := backoff(i)
		logger.Warn("Venue call failed, retrying...",
			zap.String("op", op),
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", wait),
			zap.Error(err),
		)
		if serr := sleep(ctx, wait); serr != nil {
			return zero, serr
		}
	}

	logger.Error("Max retries reached", zap.String("op", op), zap.Int("attempts", attempts), zap.Error(err))
	return zero, fmt.Errorf("%s: %w after %d attempts: %w", op, ErrExhausted, attempts, err)
}
