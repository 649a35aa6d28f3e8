package harvest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/crossinglab/vidharvest/internal/metrics"
)

// Chain invokes strategies in preference order until one succeeds or the list
// is exhausted. Terminal failures short-circuit the whole chain; anything else
// falls through to the next strategy. Raw transport errors never escape this
// boundary: every exit is a classified Outcome.
type Chain struct {
	strategies []Strategy
	retry      *RetryPolicy
	gate       Gate
	logger     *zap.Logger
}

// NewChain orders strategies by preference.
func NewChain(retry *RetryPolicy, gate Gate, logger *zap.Logger, strategies ...Strategy) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		strategies: strategies,
		retry:      retry,
		gate:       gate,
		logger:     logger,
	}
}

// Run produces exactly one Outcome for the candidate.
func (c *Chain) Run(ctx context.Context, cand Candidate, cons Constraints) Outcome {
	start := time.Now()
	var lastErr error

	for _, strategy := range c.strategies {
		if err := ctx.Err(); err != nil {
			return c.failure(cand, lastErrOr(lastErr, err), start)
		}

		metrics.IncAttempt(strategy.Name())
		acq, err := c.retry.Do(ctx, strategy, cand, cons, c.logger)
		if err == nil {
			acq.Strategy = strategy.Name()
			if c.gate != nil {
				c.gate.Relax()
			}
			c.logger.Info("strategy succeeded",
				zap.String("strategy", strategy.Name()),
				zap.String("video_id", cand.ID),
				zap.Duration("elapsed", time.Since(start)),
			)
			return Outcome{Candidate: cand, Acquisition: acq, Elapsed: time.Since(start)}
		}
		lastErr = err

		reason := ReasonOf(err)
		if reason == ReasonRateLimited && c.gate != nil {
			c.gate.Penalize()
		}
		c.logger.Warn("strategy failed",
			zap.String("strategy", strategy.Name()),
			zap.String("video_id", cand.ID),
			zap.String("reason", string(reason)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		if reason.Terminal() {
			break
		}
	}

	return c.failure(cand, lastErr, start)
}

func (c *Chain) failure(cand Candidate, err error, start time.Time) Outcome {
	reason := ReasonOf(err)
	if reason == "" {
		reason = ReasonUnknown
	}
	return Outcome{
		Candidate: cand,
		Reason:    reason,
		Err:       err,
		Elapsed:   time.Since(start),
	}
}

func lastErrOr(lastErr, fallback error) error {
	if lastErr != nil {
		return lastErr
	}
	return fallback
}
