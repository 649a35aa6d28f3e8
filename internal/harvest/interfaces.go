package harvest

import (
	"context"
	"errors"
	"time"
)

// Strategy is one concrete technique for turning a candidate into local bytes
// plus metadata. Implementations must not retry internally, must classify
// failures via *Error, and must never leave a partial file at the final path.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, cand Candidate, cons Constraints) (*Acquisition, error)
}

// Gate is the shared pacing control invoked before every outbound network
// call. Penalize widens the spacing after a remote access denial; Relax walks
// it back after successes.
type Gate interface {
	Wait(ctx context.Context) error
	Penalize()
	Relax()
}

// Recorder persists one row per successful acquisition. Append must serialize
// its own internal writes; KnownIDs reports identifiers already recorded by
// earlier runs against the same store.
type Recorder interface {
	Append(ctx context.Context, rec Record) error
	KnownIDs(ctx context.Context) ([]string, error)
	Close() error
}

// ErrSourceDrained signals the candidate sequence is exhausted.
var ErrSourceDrained = errors.New("candidate source drained")

// Source supplies a lazy, finite sequence of candidates. Next returns
// ErrSourceDrained once the sequence ends.
type Source interface {
	Next(ctx context.Context) (Candidate, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// SliceSource serves candidates from a fixed slice, mostly for tests and for
// explicit identifier lists supplied on the command line.
type SliceSource struct {
	candidates []Candidate
	next       int
}

// NewSliceSource wraps the given candidates.
func NewSliceSource(candidates ...Candidate) *SliceSource {
	return &SliceSource{candidates: candidates}
}

// Next pops the next candidate or reports drain.
func (s *SliceSource) Next(ctx context.Context) (Candidate, error) {
	if err := ctx.Err(); err != nil {
		return Candidate{}, err
	}
	if s.next >= len(s.candidates) {
		return Candidate{}, ErrSourceDrained
	}
	cand := s.candidates[s.next]
	s.next++
	return cand, nil
}
