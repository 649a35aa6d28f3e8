package harvest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crossinglab/vidharvest/internal/metrics"
)

// ErrPersistence marks a metadata store write failure. It aborts the whole
// run: silently dropping every row would defeat the point of the harvest.
var ErrPersistence = errors.New("metadata persistence failed")

// OrchestratorConfig carries the knobs the orchestrator consumes at
// construction.
type OrchestratorConfig struct {
	Constraints Constraints
	SuccessCap  int
	Concurrency int
}

// Summary is the terminal report for one run.
type Summary struct {
	RunID          string
	Attempted      int
	Succeeded      int
	Failed         int
	Skipped        int
	FailedByReason map[Reason]int
	Elapsed        time.Duration
}

// String renders the summary for the operator log.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: attempted=%d succeeded=%d failed=%d skipped=%d elapsed=%s",
		s.RunID, s.Attempted, s.Succeeded, s.Failed, s.Skipped, s.Elapsed.Round(time.Millisecond))
	if len(s.FailedByReason) > 0 {
		reasons := make([]string, 0, len(s.FailedByReason))
		for reason := range s.FailedByReason {
			reasons = append(reasons, string(reason))
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			fmt.Fprintf(&b, " %s=%d", reason, s.FailedByReason[Reason(reason)])
		}
	}
	return b.String()
}

// Orchestrator drives the chain over a candidate sequence, owning the dedup
// ledger and the success counter for the lifetime of one run.
type Orchestrator struct {
	cfg      OrchestratorConfig
	chain    *Chain
	ledger   *Ledger
	recorder Recorder
	clock    Clock
	logger   *zap.Logger
	runID    string

	successes atomic.Int64
}

// NewOrchestrator validates configuration up front; invalid bounds are a
// fatal configuration error, surfaced before any candidate is touched.
func NewOrchestrator(
	cfg OrchestratorConfig,
	chain *Chain,
	recorder Recorder,
	clock Clock,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if err := cfg.Constraints.Validate(); err != nil {
		return nil, fmt.Errorf("invalid duration constraints: %w", err)
	}
	if cfg.SuccessCap <= 0 {
		return nil, fmt.Errorf("success cap must be > 0, got %d", cfg.SuccessCap)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if chain == nil {
		return nil, fmt.Errorf("strategy chain is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("metadata recorder is required")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.NewString()
	return &Orchestrator{
		cfg:      cfg,
		chain:    chain,
		ledger:   NewLedger(),
		recorder: recorder,
		clock:    clock,
		logger:   logger.With(zap.String("run_id", runID)),
		runID:    runID,
	}, nil
}

// RunID identifies this invocation in logs and diagnostics.
func (o *Orchestrator) RunID() string { return o.runID }

// SeedKnown pre-marks identifiers recorded by earlier runs so they are never
// re-attempted against the network.
func (o *Orchestrator) SeedKnown(ctx context.Context) (int, error) {
	ids, err := o.recorder.KnownIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("load known identifiers: %w", err)
	}
	o.ledger.Seed(ids)
	return len(ids), nil
}

// Run consumes the source until it drains, the success cap is reached, or the
// context is canceled. Candidate failures never abort the run; only a
// persistence failure does.
func (o *Orchestrator) Run(ctx context.Context, src Source) (Summary, error) {
	start := o.clock.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		fatalOnce sync.Once
		fatalErr  error
	)
	abort := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			cancel()
		})
	}

	work := make(chan Candidate)
	var (
		wg        sync.WaitGroup
		attempted atomic.Int64
		skipped   atomic.Int64
	)
	for i := 0; i < o.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cand := range work {
				// A candidate handed off while the capping success was still in
				// flight must not start once the cap is reached.
				if o.successes.Load() >= int64(o.cfg.SuccessCap) {
					skipped.Add(1)
					continue
				}
				o.process(runCtx, cand, &attempted, abort)
			}
		}()
	}

	o.feed(runCtx, src, work, &skipped, &attempted)
	close(work)
	wg.Wait()

	succeeded, failedByReason := o.ledger.Counts()
	failed := 0
	for _, n := range failedByReason {
		failed += n
	}
	summary := Summary{
		RunID:          o.runID,
		Attempted:      int(attempted.Load()),
		Succeeded:      succeeded,
		Failed:         failed,
		Skipped:        int(skipped.Load()),
		FailedByReason: failedByReason,
		Elapsed:        o.clock.Now().Sub(start),
	}
	o.logger.Info("run finished", zap.String("summary", summary.String()))

	if fatalErr != nil {
		return summary, fatalErr
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// feed pulls candidates in arrival order and dispatches them until a stop
// condition holds. Once the cap is hit no new candidates are started;
// in-flight ones finish on their own.
func (o *Orchestrator) feed(
	ctx context.Context,
	src Source,
	work chan<- Candidate,
	skipped *atomic.Int64,
	attempted *atomic.Int64,
) {
	for {
		if ctx.Err() != nil {
			return
		}
		if o.successes.Load() >= int64(o.cfg.SuccessCap) {
			o.logger.Info("success cap reached, stopping intake",
				zap.Int("cap", o.cfg.SuccessCap))
			return
		}

		cand, err := src.Next(ctx)
		if err != nil {
			if !errors.Is(err, ErrSourceDrained) && !errors.Is(err, context.Canceled) {
				o.logger.Warn("candidate source error", zap.Error(err))
			}
			return
		}
		if cand.ID == "" {
			continue
		}

		// Known-duration rejection happens here, before any reservation
		// reaches a worker, so ineligible candidates cost zero network calls.
		if cand.DurationSeconds > 0 && !o.cfg.Constraints.Allows(cand.DurationSeconds) {
			if !o.ledger.CheckAndReserve(cand.ID) {
				skipped.Add(1)
				continue
			}
			attempted.Add(1)
			outcome := Outcome{
				Candidate: cand,
				Reason:    ReasonDurationOutOfRange,
				Err: Failf(ReasonDurationOutOfRange, "eligibility", cand.ID,
					fmt.Errorf("duration %ds outside [%d,%d]",
						cand.DurationSeconds,
						o.cfg.Constraints.MinDurationSeconds,
						o.cfg.Constraints.MaxDurationSeconds)),
			}
			o.finish(cand, outcome)
			continue
		}

		if !o.ledger.CheckAndReserve(cand.ID) {
			skipped.Add(1)
			o.logger.Debug("duplicate candidate skipped", zap.String("video_id", cand.ID))
			continue
		}

		select {
		case work <- cand:
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) process(
	ctx context.Context,
	cand Candidate,
	attempted *atomic.Int64,
	abort func(error),
) {
	attempted.Add(1)
	outcome := o.chain.Run(ctx, cand, o.cfg.Constraints)

	if outcome.Succeeded() {
		rec := RecordFrom(cand, *outcome.Acquisition, o.clock.Now())
		rec.SearchTerm = cand.SearchTerm
		// The video file is already on disk; the row is appended before the
		// candidate counts as done. If the append fails the file remains as
		// an observable orphan and the run aborts.
		if err := o.recorder.Append(ctx, rec); err != nil {
			o.logger.Error("metadata append failed",
				zap.String("video_id", cand.ID),
				zap.String("path", outcome.Acquisition.Path),
				zap.Error(err),
			)
			abort(fmt.Errorf("%w: %v", ErrPersistence, err))
			return
		}
		o.successes.Add(1)
	}

	o.finish(cand, outcome)
}

func (o *Orchestrator) finish(cand Candidate, outcome Outcome) {
	o.ledger.Finalize(cand.ID, outcome)
	if outcome.Succeeded() {
		metrics.IncOutcome("success")
		o.logger.Info("candidate acquired",
			zap.String("video_id", cand.ID),
			zap.String("strategy", outcome.Acquisition.Strategy),
			zap.String("path", outcome.Acquisition.Path),
			zap.Int("duration_seconds", outcome.Acquisition.DurationSeconds),
			zap.Duration("elapsed", outcome.Elapsed),
		)
		return
	}
	metrics.IncOutcome(string(outcome.Reason))
	o.logger.Info("candidate failed",
		zap.String("video_id", cand.ID),
		zap.String("reason", string(outcome.Reason)),
		zap.String("search_term", cand.SearchTerm),
		zap.Duration("elapsed", outcome.Elapsed),
		zap.Error(outcome.Err),
	)
}
