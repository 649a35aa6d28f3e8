// Package ratelimit implements the shared pacing gate placed in front of
// every outbound call to the video host.
package ratelimit

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/crossinglab/vidharvest/internal/metrics"
)

// Config controls request spacing.
type Config struct {
	// MinInterval is the floor between consecutive outbound calls.
	MinInterval time.Duration
	// JitterInterval is the width of the uniform jitter band added on top.
	JitterInterval time.Duration
	// MaxInterval caps how far Penalize can stretch the spacing.
	MaxInterval time.Duration
}

// Gate serializes outbound request pacing process-wide. It is a policy knob
// against remote abuse heuristics, not a correctness mechanism: concurrent
// workers simply queue on it.
type Gate struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	jitter   time.Duration
	interval time.Duration
	min      time.Duration
	max      time.Duration
}

// New builds a Gate. Zero values fall back to the unhurried defaults the
// original harvest pace used.
func New(cfg Config) *Gate {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	if cfg.JitterInterval < 0 {
		cfg.JitterInterval = 0
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = 8 * cfg.MinInterval
	}
	return &Gate{
		limiter:  rate.NewLimiter(intervalLimit(cfg.MinInterval), 1),
		jitter:   cfg.JitterInterval,
		interval: cfg.MinInterval,
		min:      cfg.MinInterval,
		max:      cfg.MaxInterval,
	}
}

// Wait blocks until the spacing since the previous call plus a random jitter
// has elapsed, or the context finishes.
func (g *Gate) Wait(ctx context.Context) error {
	start := time.Now()
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate gate wait: %w", err)
	}
	if delay := randomIn(g.jitter); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("rate gate wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
	metrics.ObserveGateDelay(time.Since(start))
	return nil
}

// Penalize doubles the inter-call spacing, up to the configured ceiling.
// Called after the remote denies access so the whole process slows down, not
// just the strategy that tripped the heuristic.
func (g *Gate) Penalize() {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := g.interval * 2
	if next > g.max {
		next = g.max
	}
	if next == g.interval {
		return
	}
	g.interval = next
	g.limiter.SetLimit(intervalLimit(next))
}

// Relax walks the spacing back one step toward the configured floor after a
// successful acquisition.
func (g *Gate) Relax() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.interval <= g.min {
		return
	}
	next := g.interval / 2
	if next < g.min {
		next = g.min
	}
	g.interval = next
	g.limiter.SetLimit(intervalLimit(next))
}

// Interval reports the current spacing, for logs and tests.
func (g *Gate) Interval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.interval
}

func intervalLimit(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

func randomIn(limit time.Duration) time.Duration {
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
