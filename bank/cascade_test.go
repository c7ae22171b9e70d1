/*
cascade_test.go - Full-engine tests for cascading recomputation

CORE DESIGN:
- Month N+1's rollover-in is month N's rollover-out, so any upstream
  change recomputes every later month in strict chronological order
- A fatal month halts the chain AT that month; committed months stay
- Per-company recalculation is serialized; a concurrent request fails
  fast instead of queueing
*/
package bank_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warp/hoursbank/bank"
	memstore "github.com/warp/hoursbank/bank/store"
)

func TestCascade_UpstreamChangePropagatesForward(t *testing.T) {
	// GIVEN: Jan..Jun consolidated, then Jan's consumption is restated
	// WHEN: recalculating from Jan
	// THEN: every month through the horizon is rewritten at version 2
	//       and the rollover chain reflects the new Jan balance
	e := newEngine(t)
	e.saveContract(hoursOnlyContract("acme", jan(), "100:00", 3))
	e.setRate("acme", bank.KindHours, "100")
	e.setUsage("acme", jan(), "80:00", 0)

	_, err := e.svc.GetOrCalculate(context.Background(), "acme", jun())
	require.NoError(t, err)
	require.Equal(t, int64(1200), e.entry("acme", feb()).Hours.RolloverIn)

	// Restated timesheet: Jan actually consumed 90:00.
	e.setUsage("acme", jan(), "90:00", 0)
	_, result, err := e.svc.Recalculate(context.Background(), "acme", jan(), "timesheet restated", "ops")
	require.NoError(t, err)

	require.Contains(t, result.Recalculated, jan())
	require.Contains(t, result.Recalculated, feb())
	require.Equal(t, int64(600), e.entry("acme", feb()).Hours.RolloverIn)

	require.Equal(t, 2, e.entry("acme", jan()).Version)
	require.Equal(t, 2, e.entry("acme", feb()).Version)
	require.Len(t, e.versions("acme", feb()), 2)
}

func TestCascade_VersionNumbersAreMonotonic(t *testing.T) {
	e := newEngine(t)
	e.saveContract(hoursOnlyContract("acme", jan(), "100:00", 3))
	e.setUsage("acme", jan(), "80:00", 0)

	_, err := e.svc.GetOrCalculate(context.Background(), "acme", mar())
	require.NoError(t, err)

	e.setUsage("acme", jan(), "85:00", 0)
	_, _, err = e.svc.Recalculate(context.Background(), "acme", jan(), "restated", "ops")
	require.NoError(t, err)
	e.setUsage("acme", jan(), "95:00", 0)
	_, _, err = e.svc.Recalculate(context.Background(), "acme", jan(), "restated again", "ops")
	require.NoError(t, err)

	versions := e.versions("acme", jan())
	require.Len(t, versions, 3)
	for i, v := range versions {
		require.Equal(t, i, v.FromVersion)
		require.Equal(t, i+1, v.ToVersion)
		if i == 0 {
			require.Nil(t, v.Before, "first calculation has no pre-image")
		} else {
			require.NotNil(t, v.Before)
			require.Equal(t, i, v.Before.Version)
		}
		require.NotNil(t, v.After)
	}
}

func TestCascade_MissingRateHaltsAtTheDeficitMonth(t *testing.T) {
	// GIVEN: a cycle-end deficit in Feb and no rate configured
	// WHEN: consolidating through Feb
	// THEN: Jan commits, Feb does not, and the error names the halt month
	e := newEngine(t)
	e.saveContract(hoursOnlyContract("acme", jan(), "100:00", 2))
	e.setUsage("acme", jan(), "80:00", 0)
	e.setUsage("acme", feb(), "130:00", 0)

	_, err := e.svc.GetOrCalculate(context.Background(), "acme", feb())
	require.Error(t, err)
	require.ErrorIs(t, err, bank.ErrRateNotFound)

	var halted *bank.CascadeHaltedError
	require.ErrorAs(t, err, &halted)
	require.Equal(t, feb(), halted.HaltedAt)
	require.Contains(t, halted.Recalculated, jan(), "months before the halt stay committed")

	require.Equal(t, 1, e.entry("acme", jan()).Version)
	_, err = e.store.GetEntry(context.Background(), "acme", feb())
	require.ErrorIs(t, err, bank.ErrEntryNotFound, "the halted month must not be committed")

	require.NotEmpty(t, e.eventsOfType(bank.EventRateMissing))
}

func TestCascade_ResumesAfterRateConfigured(t *testing.T) {
	// The chain restarts at the halt month once the cause is fixed.
	e := newEngine(t)
	e.saveContract(hoursOnlyContract("acme", jan(), "100:00", 2))
	e.setUsage("acme", jan(), "80:00", 0)
	e.setUsage("acme", feb(), "130:00", 0)

	_, err := e.svc.GetOrCalculate(context.Background(), "acme", feb())
	require.ErrorIs(t, err, bank.ErrRateNotFound)

	e.setRate("acme", bank.KindHours, "100")
	entry, err := e.svc.GetOrCalculate(context.Background(), "acme", feb())
	require.NoError(t, err)
	require.Equal(t, int64(600), entry.Hours.Overage)
	require.Equal(t, 1, entry.Version)
	require.Equal(t, int64(1200), entry.Hours.RolloverIn, "carry reconstructed from committed Jan")
}

func TestCascade_ConcurrentRecalculationRejected(t *testing.T) {
	// GIVEN: a recalculation blocked mid-flight on its consumption fetch
	// WHEN: a second recalculation for the same company arrives
	// THEN: it fails fast with ErrRecalculationInFlight
	e := newEngine(t)
	e.saveContract(hoursOnlyContract("acme", jan(), "100:00", 2))
	e.setRate("acme", bank.KindHours, "100")

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	e.onConsumption = func(string, bank.MonthKey) {
		once.Do(func() { close(started) })
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := e.svc.Recalculate(context.Background(), "acme", jan(), "slow run", "ops")
		done <- err
	}()
	<-started

	_, _, err := e.svc.Recalculate(context.Background(), "acme", jan(), "concurrent run", "ops")
	require.ErrorIs(t, err, bank.ErrRecalculationInFlight)
	require.NotEmpty(t, e.eventsOfType(bank.EventRecalculationConflict))

	close(release)
	require.NoError(t, <-done)
}

func TestCascade_CompaniesAreIndependent(t *testing.T) {
	// A halted cascade for one company never blocks another.
	e := newEngine(t)
	e.saveContract(hoursOnlyContract("acme", jan(), "100:00", 2))
	e.saveContract(hoursOnlyContract("globex", jan(), "50:00", 2))
	e.setUsage("acme", jan(), "80:00", 0)
	e.setUsage("acme", feb(), "130:00", 0) // will halt: no acme rate
	e.setUsage("globex", jan(), "40:00", 0)
	e.setRate("globex", bank.KindHours, "80")

	_, err := e.svc.GetOrCalculate(context.Background(), "acme", feb())
	require.Error(t, err)

	entry, err := e.svc.GetOrCalculate(context.Background(), "globex", jan())
	require.NoError(t, err)
	require.Equal(t, int64(600), entry.Hours.MonthlyBalance)
}

type brokenLatestMonthStore struct {
	*memstore.Memory
}

var errLedgerDown = errors.New("ledger unavailable")

func (s *brokenLatestMonthStore) LatestMonth(context.Context, string) (*bank.MonthKey, error) {
	return nil, errLedgerDown
}

func TestCascade_LatestMonthFailurePropagates(t *testing.T) {
	// A failed horizon lookup aborts the run; it must never silently
	// shorten the cascade to the current month.
	e := newEngine(t)
	e.saveContract(hoursOnlyContract("acme", jan(), "100:00", 2))
	e.setUsage("acme", jan(), "80:00", 0)

	cascade := bank.NewCascadeRecalculator(e.calc, &brokenLatestMonthStore{Memory: e.store}, e.resolver, e.store, nil)
	_, err := cascade.Recalculate(context.Background(), "acme", jan(), bank.ChangeRecalculation, "refresh", "ops")
	require.ErrorIs(t, err, errLedgerDown)
}

func TestCascade_CanceledContextHalts(t *testing.T) {
	e := newEngine(t)
	e.saveContract(hoursOnlyContract("acme", jan(), "100:00", 2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := e.svc.Recalculate(ctx, "acme", jan(), "doomed", "ops")
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}
