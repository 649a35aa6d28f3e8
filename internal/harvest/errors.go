package harvest

import (
	"errors"
	"fmt"
)

// Reason classifies why an acquisition attempt failed.
type Reason string

// Failure classifications produced by strategies and consumed by the retry
// policy and the chain.
const (
	ReasonNotFound           Reason = "not_found"
	ReasonRateLimited        Reason = "rate_limited"
	ReasonDurationOutOfRange Reason = "duration_out_of_range"
	ReasonTransientNetwork   Reason = "transient_network"
	ReasonAlreadySaved       Reason = "already_saved"
	ReasonUnknown            Reason = "unknown"
)

// Retryable reports whether retrying the same strategy unchanged can help.
// Unknown failures are deliberately non-retryable so unexpected bugs are not
// masked as transient noise.
func (r Reason) Retryable() bool {
	return r == ReasonTransientNetwork || r == ReasonRateLimited
}

// Terminal reports whether the failure makes every further strategy pointless
// for this candidate: the chain short-circuits on these.
func (r Reason) Terminal() bool {
	return r == ReasonNotFound || r == ReasonDurationOutOfRange || r == ReasonAlreadySaved
}

// Error carries a classified failure out of a strategy attempt.
type Error struct {
	Reason  Reason
	Op      string
	VideoID string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Op, e.VideoID, e.Reason)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.VideoID, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Failf builds a classified error.
func Failf(reason Reason, op, videoID string, err error) *Error {
	return &Error{Reason: reason, Op: op, VideoID: videoID, Err: err}
}

// ReasonOf extracts the classification from err. Anything unclassified,
// including raw transport faults that escaped a strategy, maps to
// ReasonUnknown.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Reason
	}
	return ReasonUnknown
}
