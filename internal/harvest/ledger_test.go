package harvest

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLedgerCheckAndReserve(t *testing.T) {
	t.Parallel()

	ledger := NewLedger()
	require.True(t, ledger.CheckAndReserve("a"))
	require.False(t, ledger.CheckAndReserve("a"))
	require.True(t, ledger.CheckAndReserve("b"))
	require.False(t, ledger.CheckAndReserve(""))
}

func TestLedgerReserveIsAtomicUnderConcurrency(t *testing.T) {
	t.Parallel()

	ledger := NewLedger()
	const workers = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ledger.CheckAndReserve("contested") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestLedgerSeedBlocksReservation(t *testing.T) {
	t.Parallel()

	ledger := NewLedger()
	ledger.Seed([]string{"old1", "old2", ""})
	require.False(t, ledger.CheckAndReserve("old1"))
	require.False(t, ledger.CheckAndReserve("old2"))
	require.True(t, ledger.CheckAndReserve("new"))
}

func TestLedgerFinalizeKeepsFirstState(t *testing.T) {
	t.Parallel()

	ledger := NewLedger()
	ledger.CheckAndReserve("a")
	ledger.Finalize("a", Outcome{Acquisition: &Acquisition{Path: "/tmp/a.mp4"}})
	ledger.Finalize("a", Outcome{Reason: ReasonTransientNetwork})

	succeeded, failed := ledger.Counts()
	require.Equal(t, 1, succeeded)
	require.Empty(t, failed)
}

func TestLedgerCounts(t *testing.T) {
	t.Parallel()

	ledger := NewLedger()
	for _, id := range []string{"a", "b", "c", "d"} {
		ledger.CheckAndReserve(id)
	}
	ledger.Finalize("a", Outcome{Acquisition: &Acquisition{}})
	ledger.Finalize("b", Outcome{Reason: ReasonNotFound})
	ledger.Finalize("c", Outcome{Reason: ReasonNotFound})
	ledger.Finalize("d", Outcome{Reason: ReasonDurationOutOfRange})

	succeeded, failed := ledger.Counts()
	require.Equal(t, 1, succeeded)
	require.Equal(t, map[Reason]int{
		ReasonNotFound:           2,
		ReasonDurationOutOfRange: 1,
	}, failed)
}
