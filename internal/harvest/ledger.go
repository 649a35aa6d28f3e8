package harvest

import (
	"sync"
)

// Ledger is the in-run deduplication record. Reservation is the hard
// guarantee: an identifier handed to the chain at most once per run, even
// under concurrent candidate processing. Finalization only feeds diagnostics.
type Ledger struct {
	seen sync.Map

	mu        sync.Mutex
	terminal  map[string]Reason
	succeeded int
	failed    map[Reason]int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		terminal: make(map[string]Reason),
		failed:   make(map[Reason]int),
	}
}

// Seed marks identifiers as already terminal, used to honor successes
// recorded by earlier runs against the same metadata store.
func (l *Ledger) Seed(ids []string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		l.seen.LoadOrStore(id, struct{}{})
	}
}

// CheckAndReserve atomically marks the identifier seen, returning true only
// for the first caller.
func (l *Ledger) CheckAndReserve(id string) bool {
	if id == "" {
		return false
	}
	_, loaded := l.seen.LoadOrStore(id, struct{}{})
	return !loaded
}

// Finalize records the terminal state for a reserved identifier. Repeated
// calls for the same identifier keep the first state.
func (l *Ledger) Finalize(id string, outcome Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, done := l.terminal[id]; done {
		return
	}
	if outcome.Succeeded() {
		l.terminal[id] = ""
		l.succeeded++
		return
	}
	l.terminal[id] = outcome.Reason
	l.failed[outcome.Reason]++
}

// Counts reports terminal tallies for the run summary.
func (l *Ledger) Counts() (succeeded int, failedByReason map[Reason]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[Reason]int, len(l.failed))
	for reason, n := range l.failed {
		out[reason] = n
	}
	return l.succeeded, out
}
