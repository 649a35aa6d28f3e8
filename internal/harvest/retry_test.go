package harvest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedStrategy returns the scripted errors in order, then succeeds.
type scriptedStrategy struct {
	name     string
	errs     []error
	attempts int
	acq      *Acquisition
}

func (s *scriptedStrategy) Name() string { return s.name }

func (s *scriptedStrategy) Attempt(_ context.Context, _ Candidate, _ Constraints) (*Acquisition, error) {
	s.attempts++
	if s.attempts <= len(s.errs) {
		return nil, s.errs[s.attempts-1]
	}
	if s.acq != nil {
		return s.acq, nil
	}
	return &Acquisition{Path: "/tmp/out.mp4"}, nil
}

// recordingPauser captures requested delays without sleeping.
type recordingPauser struct {
	delays []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, delay time.Duration) {
	p.delays = append(p.delays, delay)
}

func testCandidate() Candidate {
	return Candidate{ID: "vid1", Title: "t", SearchTerm: "term"}
}

func TestRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(0, 0, 0)
	require.Equal(t, 3, p.MaxAttempts())
	require.Equal(t, 2*time.Second, p.baseDelay)
	require.Equal(t, 30*time.Second, p.maxDelay)
}

func TestRetryPolicyRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(3, 10*time.Millisecond, time.Second)
	pause := &recordingPauser{}
	p.pause = pause

	strategy := &scriptedStrategy{name: "ytdlp", errs: []error{
		Failf(ReasonTransientNetwork, "download", "vid1", errors.New("reset")),
		Failf(ReasonTransientNetwork, "download", "vid1", errors.New("reset")),
	}}

	acq, err := p.Do(context.Background(), strategy, testCandidate(), Constraints{MaxDurationSeconds: 300}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, acq)
	require.Equal(t, 3, strategy.attempts)
	require.Len(t, pause.delays, 2)
}

func TestRetryPolicyBackoffNonDecreasing(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(6, 100*time.Millisecond, 2*time.Second)
	prev := time.Duration(0)
	for attempt := 2; attempt <= 6; attempt++ {
		delay := p.Backoff(attempt)
		require.GreaterOrEqual(t, delay, prev, "attempt %d", attempt)
		require.LessOrEqual(t, delay, 2*time.Second)
		prev = delay
	}
	require.GreaterOrEqual(t, p.Backoff(2), 100*time.Millisecond)
	require.Zero(t, p.Backoff(1))
}

func TestRetryPolicyStopsAfterBudget(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(3, time.Millisecond, time.Millisecond)
	p.pause = &recordingPauser{}

	cause := Failf(ReasonRateLimited, "download", "vid1", errors.New("429"))
	strategy := &scriptedStrategy{name: "ytdlp", errs: []error{cause, cause, cause, cause}}

	acq, err := p.Do(context.Background(), strategy, testCandidate(), Constraints{MaxDurationSeconds: 300}, zap.NewNop())
	require.Nil(t, acq)
	require.Equal(t, ReasonRateLimited, ReasonOf(err))
	require.Equal(t, 3, strategy.attempts)
}

func TestRetryPolicyDoesNotRetryTerminalFailures(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(5, time.Millisecond, time.Millisecond)
	pause := &recordingPauser{}
	p.pause = pause

	strategy := &scriptedStrategy{name: "ytdlp", errs: []error{
		Failf(ReasonNotFound, "probe", "vid1", nil),
	}}

	acq, err := p.Do(context.Background(), strategy, testCandidate(), Constraints{MaxDurationSeconds: 300}, zap.NewNop())
	require.Nil(t, acq)
	require.Equal(t, ReasonNotFound, ReasonOf(err))
	require.Equal(t, 1, strategy.attempts)
	require.Empty(t, pause.delays)
}

func TestRetryPolicyDoesNotRetryUnclassifiedFailures(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(5, time.Millisecond, time.Millisecond)
	p.pause = &recordingPauser{}

	strategy := &scriptedStrategy{name: "ytdlp", errs: []error{errors.New("boom")}}

	_, err := p.Do(context.Background(), strategy, testCandidate(), Constraints{MaxDurationSeconds: 300}, zap.NewNop())
	require.Equal(t, ReasonUnknown, ReasonOf(err))
	require.Equal(t, 1, strategy.attempts)
}

func TestRetryPolicyHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := NewRetryPolicy(5, time.Millisecond, time.Millisecond)
	p.pause = &recordingPauser{}

	strategy := &scriptedStrategy{name: "ytdlp", errs: []error{
		Failf(ReasonTransientNetwork, "download", "vid1", errors.New("reset")),
		Failf(ReasonTransientNetwork, "download", "vid1", errors.New("reset")),
	}}
	cancel()

	acq, err := p.Do(ctx, strategy, testCandidate(), Constraints{MaxDurationSeconds: 300}, zap.NewNop())
	require.Nil(t, acq)
	require.ErrorIs(t, err, context.Canceled)
	require.LessOrEqual(t, strategy.attempts, 1)
}
