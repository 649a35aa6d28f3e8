package harvest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memRecorder struct {
	mu         sync.Mutex
	rows       []Record
	known      []string
	failAppend error
	closed     bool
}

func (r *memRecorder) Append(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAppend != nil {
		return r.failAppend
	}
	r.rows = append(r.rows, rec)
	return nil
}

func (r *memRecorder) KnownIDs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.known...), nil
}

func (r *memRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *memRecorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.rows))
	for _, rec := range r.rows {
		out = append(out, rec.VideoID)
	}
	return out
}

// trackingStrategy succeeds for every candidate and remembers which ones it saw.
type trackingStrategy struct {
	mu   sync.Mutex
	seen []string
}

func (s *trackingStrategy) Name() string { return "tracking" }

func (s *trackingStrategy) Attempt(_ context.Context, cand Candidate, _ Constraints) (*Acquisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, cand.ID)
	return &Acquisition{
		Path:            "/videos/" + cand.ID + ".mp4",
		Filename:        cand.ID + ".mp4",
		Title:           cand.Title,
		DurationSeconds: cand.DurationSeconds,
	}, nil
}

func (s *trackingStrategy) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

func newTestOrchestrator(t *testing.T, cfg OrchestratorConfig, strategy Strategy, rec Recorder) *Orchestrator {
	t.Helper()
	chain := NewChain(fastRetry(2), &fakeGate{}, zap.NewNop(), strategy)
	orch, err := NewOrchestrator(cfg, chain, rec, SystemClock{}, zap.NewNop())
	require.NoError(t, err)
	return orch
}

func TestNewOrchestratorRejectsBadConfig(t *testing.T) {
	t.Parallel()

	chain := NewChain(fastRetry(1), nil, zap.NewNop(), &trackingStrategy{})
	rec := &memRecorder{}

	_, err := NewOrchestrator(OrchestratorConfig{
		Constraints: Constraints{MinDurationSeconds: 300, MaxDurationSeconds: 5},
		SuccessCap:  1,
	}, chain, rec, nil, nil)
	require.Error(t, err)

	_, err = NewOrchestrator(OrchestratorConfig{
		Constraints: Constraints{MaxDurationSeconds: 300},
		SuccessCap:  0,
	}, chain, rec, nil, nil)
	require.Error(t, err)

	_, err = NewOrchestrator(OrchestratorConfig{
		Constraints: Constraints{MaxDurationSeconds: 300},
		SuccessCap:  1,
	}, nil, rec, nil, nil)
	require.Error(t, err)

	_, err = NewOrchestrator(OrchestratorConfig{
		Constraints: Constraints{MaxDurationSeconds: 300},
		SuccessCap:  1,
	}, chain, nil, nil, nil)
	require.Error(t, err)
}

func TestOrchestratorRejectsIneligibleDurationsWithoutNetwork(t *testing.T) {
	t.Parallel()

	strategy := &trackingStrategy{}
	rec := &memRecorder{}
	orch := newTestOrchestrator(t, OrchestratorConfig{
		Constraints: Constraints{MinDurationSeconds: 5, MaxDurationSeconds: 300},
		SuccessCap:  2,
		Concurrency: 1,
	}, strategy, rec)

	src := NewSliceSource(
		Candidate{ID: "A", Title: "a", DurationSeconds: 30},
		Candidate{ID: "B", Title: "b", DurationSeconds: 400},
		Candidate{ID: "C", Title: "c", DurationSeconds: 60},
	)

	summary, err := orch.Run(context.Background(), src)
	require.NoError(t, err)

	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 1, summary.FailedByReason[ReasonDurationOutOfRange])
	require.ElementsMatch(t, []string{"A", "C"}, rec.ids())
	require.NotContains(t, strategy.ids(), "B", "ineligible candidates must not reach a strategy")
}

func TestOrchestratorSkipsDuplicates(t *testing.T) {
	t.Parallel()

	strategy := &trackingStrategy{}
	rec := &memRecorder{}
	orch := newTestOrchestrator(t, OrchestratorConfig{
		Constraints: Constraints{MaxDurationSeconds: 300},
		SuccessCap:  10,
		Concurrency: 1,
	}, strategy, rec)

	src := NewSliceSource(
		Candidate{ID: "A", DurationSeconds: 30},
		Candidate{ID: "A", DurationSeconds: 30},
		Candidate{ID: "B", DurationSeconds: 30},
		Candidate{ID: "A", DurationSeconds: 30},
	)

	summary, err := orch.Run(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 2, summary.Skipped)
	require.ElementsMatch(t, []string{"A", "B"}, strategy.ids())
}

func TestOrchestratorSeedKnownBlocksReacquisition(t *testing.T) {
	t.Parallel()

	strategy := &trackingStrategy{}
	rec := &memRecorder{known: []string{"A", "B"}}
	orch := newTestOrchestrator(t, OrchestratorConfig{
		Constraints: Constraints{MaxDurationSeconds: 300},
		SuccessCap:  10,
		Concurrency: 1,
	}, strategy, rec)

	n, err := orch.SeedKnown(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	src := NewSliceSource(
		Candidate{ID: "A", DurationSeconds: 30},
		Candidate{ID: "C", DurationSeconds: 30},
	)
	summary, err := orch.Run(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, []string{"C"}, strategy.ids())
}

func TestOrchestratorEnforcesSuccessCap(t *testing.T) {
	t.Parallel()

	strategy := &trackingStrategy{}
	rec := &memRecorder{}
	orch := newTestOrchestrator(t, OrchestratorConfig{
		Constraints: Constraints{MaxDurationSeconds: 300},
		SuccessCap:  2,
		Concurrency: 1,
	}, strategy, rec)

	src := NewSliceSource(
		Candidate{ID: "A", DurationSeconds: 30},
		Candidate{ID: "B", DurationSeconds: 30},
		Candidate{ID: "C", DurationSeconds: 30},
		Candidate{ID: "D", DurationSeconds: 30},
		Candidate{ID: "E", DurationSeconds: 30},
	)

	summary, err := orch.Run(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Succeeded)
	require.Len(t, rec.ids(), 2)
}

func TestOrchestratorAbortsOnPersistenceFailure(t *testing.T) {
	t.Parallel()

	strategy := &trackingStrategy{}
	rec := &memRecorder{failAppend: errors.New("disk full")}
	orch := newTestOrchestrator(t, OrchestratorConfig{
		Constraints: Constraints{MaxDurationSeconds: 300},
		SuccessCap:  5,
		Concurrency: 1,
	}, strategy, rec)

	src := NewSliceSource(
		Candidate{ID: "A", DurationSeconds: 30},
		Candidate{ID: "B", DurationSeconds: 30},
	)

	summary, err := orch.Run(context.Background(), src)
	require.ErrorIs(t, err, ErrPersistence)
	require.Zero(t, summary.Succeeded)
}

func TestOrchestratorStopsOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	strategy := &trackingStrategy{}
	rec := &memRecorder{}
	orch := newTestOrchestrator(t, OrchestratorConfig{
		Constraints: Constraints{MaxDurationSeconds: 300},
		SuccessCap:  5,
		Concurrency: 2,
	}, strategy, rec)

	src := NewSliceSource(Candidate{ID: "A", DurationSeconds: 30})
	_, err := orch.Run(ctx, src)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, strategy.ids())
}

func TestRecordFromPrefersAcquisitionMetadata(t *testing.T) {
	t.Parallel()

	cand := Candidate{
		ID:          "vid",
		Title:       "listing title",
		Channel:     "listing channel",
		SearchTerm:  "pedestrian safety",
		ViewCount:   10,
		PublishedAt: "2024-01-01T00:00:00Z",
	}
	acq := Acquisition{
		Filename:        "vid_resolved.mp4",
		Title:           "resolved title",
		DurationSeconds: 120,
	}
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	rec := RecordFrom(cand, acq, now)
	require.Equal(t, "vid", rec.VideoID)
	require.Equal(t, "resolved title", rec.Title)
	require.Equal(t, "listing channel", rec.Channel)
	require.Equal(t, 120, rec.DurationSeconds)
	require.Equal(t, int64(10), rec.ViewCount)
	require.Equal(t, "youtube", rec.Source)
	require.Equal(t, "https://www.youtube.com/watch?v=vid", rec.URL)
	require.Equal(t, now, rec.DownloadedAt)
}

func TestSummaryString(t *testing.T) {
	t.Parallel()

	s := Summary{
		RunID:     "run-1",
		Attempted: 3,
		Succeeded: 2,
		Failed:    1,
		FailedByReason: map[Reason]int{
			ReasonNotFound: 1,
		},
		Elapsed: 1500 * time.Millisecond,
	}
	require.Equal(t,
		"run run-1: attempted=3 succeeded=2 failed=1 skipped=0 elapsed=1.5s not_found=1",
		s.String())
}
