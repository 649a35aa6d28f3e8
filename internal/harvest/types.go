// Package harvest defines the acquisition pipeline core shared across subsystems.
package harvest

import (
	"fmt"
	"time"
)

// Candidate identifies one remote video plus the discovery context that
// produced it. Identity is the ID; everything else is advisory and may be
// empty until a strategy resolves it.
type Candidate struct {
	ID              string
	Title           string
	Channel         string
	Description     string
	URL             string
	DurationSeconds int // 0 means unknown until probed
	ViewCount       int64
	PublishedAt     string
	SearchTerm      string
}

// WatchURL returns the canonical watch page URL for the candidate.
func (c Candidate) WatchURL() string {
	if c.URL != "" {
		return c.URL
	}
	return "https://www.youtube.com/watch?v=" + c.ID
}

// Constraints bounds acceptable video durations, inclusive on both ends.
type Constraints struct {
	MinDurationSeconds int
	MaxDurationSeconds int
}

// Validate rejects inverted or negative bounds.
func (c Constraints) Validate() error {
	if c.MinDurationSeconds < 0 {
		return fmt.Errorf("min duration %d must be >= 0", c.MinDurationSeconds)
	}
	if c.MinDurationSeconds > c.MaxDurationSeconds {
		return fmt.Errorf("min duration %d exceeds max duration %d",
			c.MinDurationSeconds, c.MaxDurationSeconds)
	}
	return nil
}

// Allows reports whether a known duration falls inside the bounds.
func (c Constraints) Allows(seconds int) bool {
	return seconds >= c.MinDurationSeconds && seconds <= c.MaxDurationSeconds
}

// Acquisition is the payload a strategy produces on success: the finalized
// local file plus whatever metadata the strategy resolved along the way.
type Acquisition struct {
	Path            string
	Filename        string
	Title           string
	Channel         string
	Description     string
	DurationSeconds int
	ViewCount       int64
	PublishedAt     string
	Strategy        string
}

// Outcome is the single terminal result for one candidate, regardless of how
// many strategies or retries were consumed producing it.
type Outcome struct {
	Candidate   Candidate
	Acquisition *Acquisition
	Reason      Reason
	Err         error
	Elapsed     time.Duration
}

// Succeeded reports whether the candidate yielded a finalized artifact.
func (o Outcome) Succeeded() bool {
	return o.Acquisition != nil
}

// Record is the persisted row corresponding to one successful acquisition.
// Rows are append-only; nothing in this system mutates or deletes them.
type Record struct {
	VideoID         string
	Title           string
	URL             string
	Channel         string
	DurationSeconds int
	ViewCount       int64
	PublishedAt     string
	SearchTerm      string
	Source          string
	DownloadedAt    time.Time
	Filename        string
	Description     string
}

// RecordFrom assembles the persisted row for a finished candidate.
func RecordFrom(cand Candidate, acq Acquisition, now time.Time) Record {
	title := acq.Title
	if title == "" {
		title = cand.Title
	}
	channel := acq.Channel
	if channel == "" {
		channel = cand.Channel
	}
	duration := acq.DurationSeconds
	if duration == 0 {
		duration = cand.DurationSeconds
	}
	viewCount := acq.ViewCount
	if viewCount == 0 {
		viewCount = cand.ViewCount
	}
	published := acq.PublishedAt
	if published == "" {
		published = cand.PublishedAt
	}
	description := acq.Description
	if description == "" {
		description = cand.Description
	}
	return Record{
		VideoID:         cand.ID,
		Title:           title,
		URL:             cand.WatchURL(),
		Channel:         channel,
		DurationSeconds: duration,
		ViewCount:       viewCount,
		PublishedAt:     published,
		SearchTerm:      cand.SearchTerm,
		Source:          "youtube",
		DownloadedAt:    now,
		Filename:        acq.Filename,
		Description:     description,
	}
}
