package harvest

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/crossinglab/vidharvest/internal/metrics"
)

// pauser abstracts how the policy waits between attempts so tests can observe
// delays without sleeping.
type pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauser struct{}

func (timerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// RetryPolicy wraps a single strategy attempt with bounded jittered backoff.
// Only rate-limited and transient-network failures are retried; everything
// else returns immediately. Each strategy invocation gets the full budget.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	pause       pauser
}

// NewRetryPolicy builds a policy. Non-positive arguments fall back to the
// defaults the remote service has historically tolerated.
func NewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &RetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		pause:       timerPauser{},
	}
}

// MaxAttempts exposes the attempt budget for logging.
func (p *RetryPolicy) MaxAttempts() int { return p.maxAttempts }

// Backoff returns the wait before attempt k (k >= 2): baseDelay doubled per
// prior retry plus a bounded random jitter, capped at maxDelay.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-2))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 4)
	total := time.Duration(delay) + jitter
	if total > p.maxDelay {
		total = p.maxDelay
	}
	return total
}

// Do runs one strategy against the candidate under the retry budget.
func (p *RetryPolicy) Do(
	ctx context.Context,
	strategy Strategy,
	cand Candidate,
	cons Constraints,
	logger *zap.Logger,
) (*Acquisition, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := p.Backoff(attempt)
			logger.Info("retrying strategy",
				zap.String("strategy", strategy.Name()),
				zap.String("video_id", cand.ID),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", p.maxAttempts),
				zap.Duration("delay", delay),
			)
			metrics.IncRetry(strategy.Name())
			p.pause.Pause(ctx, delay)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		acq, err := strategy.Attempt(ctx, cand, cons)
		if err == nil {
			return acq, nil
		}
		lastErr = err

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !ReasonOf(lastErr).Retryable() {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
