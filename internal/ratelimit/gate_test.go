package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	g := New(Config{})
	require.Equal(t, time.Second, g.Interval())
	require.Equal(t, 8*time.Second, g.max)
}

func TestPenalizeDoublesUpToCeiling(t *testing.T) {
	t.Parallel()

	g := New(Config{MinInterval: time.Second, MaxInterval: 4 * time.Second})
	require.Equal(t, time.Second, g.Interval())

	g.Penalize()
	require.Equal(t, 2*time.Second, g.Interval())
	g.Penalize()
	require.Equal(t, 4*time.Second, g.Interval())
	g.Penalize()
	require.Equal(t, 4*time.Second, g.Interval(), "spacing must never exceed the ceiling")
}

func TestRelaxWalksBackToFloor(t *testing.T) {
	t.Parallel()

	g := New(Config{MinInterval: time.Second, MaxInterval: 8 * time.Second})
	g.Penalize()
	g.Penalize()
	require.Equal(t, 4*time.Second, g.Interval())

	g.Relax()
	require.Equal(t, 2*time.Second, g.Interval())
	g.Relax()
	require.Equal(t, time.Second, g.Interval())
	g.Relax()
	require.Equal(t, time.Second, g.Interval(), "spacing must never drop below the floor")
}

func TestWaitEnforcesSpacing(t *testing.T) {
	t.Parallel()

	g := New(Config{MinInterval: 50 * time.Millisecond, MaxInterval: time.Second})
	ctx := context.Background()

	require.NoError(t, g.Wait(ctx))
	start := time.Now()
	require.NoError(t, g.Wait(ctx))
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWaitHonorsCancellation(t *testing.T) {
	t.Parallel()

	g := New(Config{MinInterval: time.Minute, MaxInterval: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, g.Wait(ctx))
	err := g.Wait(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
