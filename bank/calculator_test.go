/*
calculator_test.go - Full-engine tests for monthly consolidation

CORE DESIGN:
- available = baseline + rolloverIn; balance = available - totalConsumption
- Mid-cycle surplus carries; a cycle-end deficit prices as overage
- Recomputing an unchanged month rewrites nothing and records no version
- Hours and tickets consolidate independently; absent kinds stay nil
*/
package bank_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/hoursbank/bank"
)

func TestCalculate_TwoMonthCycle_DeficitBillsAtCycleEnd(t *testing.T) {
	// GIVEN: 100:00/month baseline, 2-month cycle from Jan 2025, rate 100
	//        Jan consumption 80:00, Feb consumption 130:00
	// WHEN: requesting February
	// THEN: Jan carries 20:00 forward; Feb closes 10:00 short and bills
	//       10h x 100 = 1000.00
	e := newEngine(t)
	e.saveContract(hoursOnlyContract("acme", jan(), "100:00", 2))
	e.setRate("acme", bank.KindHours, "100")
	e.setUsage("acme", jan(), "80:00", 0)
	e.setUsage("acme", feb(), "130:00", 0)

	entry, err := e.svc.GetOrCalculate(context.Background(), "acme", feb())
	require.NoError(t, err)

	janEntry := e.entry("acme", jan())
	require.Equal(t, int64(6000), janEntry.Hours.Available)
	require.Equal(t, int64(1200), janEntry.Hours.MonthlyBalance, "Jan surplus is 20:00")
	require.Equal(t, int64(1200), janEntry.Hours.RolloverOut)
	require.False(t, janEntry.IsCycleEnd)
	require.Equal(t, int64(0), janEntry.Hours.Overage, "mid-cycle months never bill")

	require.True(t, entry.IsCycleEnd)
	require.Equal(t, int64(1200), entry.Hours.RolloverIn)
	require.Equal(t, int64(7200), entry.Hours.Available)
	require.Equal(t, int64(-600), entry.Hours.MonthlyBalance)
	require.Equal(t, int64(600), entry.Hours.Overage)
	require.Equal(t, int64(0), entry.Hours.RolloverOut, "finalized deficit does not carry")
	require.True(t, entry.Hours.OverageValue.Equal(decimal.RequireFromString("1000.00")),
		"overage value = %s", entry.Hours.OverageValue)
	require.True(t, entry.TotalToBill.Equal(decimal.RequireFromString("1000.00")))

	require.NotEmpty(t, e.eventsOfType(bank.EventDeficitDetected))
	require.NotEmpty(t, e.eventsOfType(bank.EventOverageGenerated))
}

func TestCalculate_BilledRequirementsCountAgainstTheBank(t *testing.T) {
	// Billed requirements add to total consumption alongside timesheets.
	e := newEngine(t)
	e.saveContract(hoursOnlyContract("acme", jan(), "100:00", 2))
	e.setRate("acme", bank.KindHours, "100")
	e.setUsage("acme", jan(), "80:00", 0)
	e.setBilled("acme", jan(), "5:00", 0)

	entry, err := e.svc.GetOrCalculate(context.Background(), "acme", jan())
	require.NoError(t, err)
	require.Equal(t, int64(300), entry.Hours.Billed)
	require.Equal(t, int64(5100), entry.Hours.TotalConsumption)
	require.Equal(t, int64(900), entry.Hours.MonthlyBalance)
}

func TestCalculate_UnchangedMonth_NoRewriteNoVersion(t *testing.T) {
	// GIVEN: Jan and Feb already consolidated
	// WHEN: forcing a recalculation with identical inputs
	// THEN: both months stay at version 1 with a single history row,
	//       and the original notifications are not refired
	e := newEngine(t)
	e.saveContract(hoursOnlyContract("acme", jan(), "100:00", 2))
	e.setRate("acme", bank.KindHours, "100")
	e.setUsage("acme", jan(), "80:00", 0)
	e.setUsage("acme", feb(), "130:00", 0)

	_, err := e.svc.GetOrCalculate(context.Background(), "acme", feb())
	require.NoError(t, err)
	require.Len(t, e.eventsOfType(bank.EventDeficitDetected), 1)
	require.Len(t, e.eventsOfType(bank.EventOverageGenerated), 1)

	_, result, err := e.svc.Recalculate(context.Background(), "acme", jan(), "audit pass", "ops")
	require.NoError(t, err)
	require.Contains(t, result.Unchanged, jan())
	require.Contains(t, result.Unchanged, feb())

	require.Equal(t, 1, e.entry("acme", jan()).Version)
	require.Len(t, e.versions("acme", jan()), 1)
	require.Len(t, e.versions("acme", feb()), 1)
	require.Len(t, e.eventsOfType(bank.EventDeficitDetected), 1, "no-op months notify nothing")
	require.Len(t, e.eventsOfType(bank.EventOverageGenerated), 1)
}

func TestCalculate_KindSeparation(t *testing.T) {
	// GIVEN: a contract banking both hours and tickets
	// WHEN: consolidating a month with activity in both
	// THEN: each kind runs its own pipeline; quantities never cross
	e := newEngine(t)
	e.saveContract(bothKindsContract("acme", jan(), "100:00", 10, 2))
	e.setRate("acme", bank.KindHours, "100")
	e.setRate("acme", bank.KindTickets, "250")
	e.setUsage("acme", jan(), "80:00", 7)

	entry, err := e.svc.GetOrCalculate(context.Background(), "acme", jan())
	require.NoError(t, err)
	require.NotNil(t, entry.Hours)
	require.NotNil(t, entry.Tickets)
	require.Equal(t, int64(1200), entry.Hours.MonthlyBalance)
	require.Equal(t, int64(3), entry.Tickets.MonthlyBalance)
	require.Equal(t, int64(3), entry.Tickets.RolloverOut)
}

func TestCalculate_HoursOnlyContract_TicketsStayNil(t *testing.T) {
	e := newEngine(t)
	e.saveContract(hoursOnlyContract("acme", jan(), "100:00", 2))
	e.setUsage("acme", jan(), "80:00", 4) // stray ticket data must be ignored

	entry, err := e.svc.GetOrCalculate(context.Background(), "acme", jan())
	require.NoError(t, err)
	require.NotNil(t, entry.Hours)
	require.Nil(t, entry.Tickets, "kind outside the contract must not appear")
}

func TestCalculate_DeficitReducesBaselinePolicy(t *testing.T) {
	// GIVEN: the policy flag that folds a carried deficit into next
	//        month's baseline instead of its rollover-in
	// WHEN: Jan closes 10:00 short mid-cycle
	// THEN: Feb shows baseline 90:00 and rollover-in 0, same available
	e := newEngine(t)
	contract := hoursOnlyContract("acme", jan(), "100:00", 3)
	contract.DeficitReducesBaseline = true
	e.saveContract(contract)
	e.setRate("acme", bank.KindHours, "100")
	e.setUsage("acme", jan(), "110:00", 0)

	entry, err := e.svc.GetOrCalculate(context.Background(), "acme", feb())
	require.NoError(t, err)
	require.Equal(t, int64(5400), entry.Hours.Baseline)
	require.Equal(t, int64(0), entry.Hours.RolloverIn)
	require.Equal(t, int64(5400), entry.Hours.Available)
}

func TestCalculate_SurplusForfeitedAtStandardCycleEnd(t *testing.T) {
	// GIVEN: 100:00 baseline, 2-month cycle, light usage both months
	// WHEN: the cycle closes in February with a surplus
	// THEN: March starts from the bare baseline again
	e := newEngine(t)
	e.saveContract(hoursOnlyContract("acme", jan(), "100:00", 2))
	e.setUsage("acme", jan(), "80:00", 0)
	e.setUsage("acme", feb(), "80:00", 0)

	marchEntry, err := e.svc.GetOrCalculate(context.Background(), "acme", mar())
	require.NoError(t, err)

	febEntry := e.entry("acme", feb())
	require.True(t, febEntry.IsCycleEnd)
	require.Equal(t, int64(2400), febEntry.Hours.MonthlyBalance)
	require.Equal(t, int64(0), febEntry.Hours.RolloverOut)

	require.Equal(t, int64(0), marchEntry.Hours.RolloverIn)
	require.Equal(t, int64(6000), marchEntry.Hours.Available)
	require.NotEmpty(t, e.eventsOfType(bank.EventSurplusForfeited))
}

func TestCalculate_SpecialRollover_CarriesPercentAcrossCycles(t *testing.T) {
	// GIVEN: special rollover at 50%, zeroing every 2nd cycle,
	//        1-month cycles so every month closes
	// WHEN: Jan closes with a 20:00 surplus
	// THEN: Feb inherits 10:00; Feb's close is the zeroing cycle and
	//       March inherits nothing
	e := newEngine(t)
	contract := hoursOnlyContract("acme", jan(), "100:00", 1)
	contract.HasSpecialRollover = true
	contract.MonthlyRolloverPercent = 50
	contract.CyclesBeforeZeroing = 2
	e.saveContract(contract)
	e.setUsage("acme", jan(), "80:00", 0)
	e.setUsage("acme", feb(), "100:00", 0)

	marchEntry, err := e.svc.GetOrCalculate(context.Background(), "acme", mar())
	require.NoError(t, err)

	janEntry := e.entry("acme", jan())
	require.Equal(t, 1, janEntry.CycleIndex)
	require.Equal(t, int64(600), janEntry.Hours.RolloverOut, "half of the 20:00 surplus carries")

	febEntry := e.entry("acme", feb())
	require.Equal(t, 2, febEntry.CycleIndex)
	require.Equal(t, int64(600), febEntry.Hours.RolloverIn)
	require.Equal(t, int64(600), febEntry.Hours.MonthlyBalance)
	require.Equal(t, int64(0), febEntry.Hours.RolloverOut, "zeroing cycle wipes the surplus")

	require.Equal(t, 1, marchEntry.CycleIndex, "counter wraps after the zeroing close")
	require.Equal(t, int64(0), marchEntry.Hours.RolloverIn)
}

func TestCalculate_ContractNotConfigured(t *testing.T) {
	e := newEngine(t)
	_, err := e.svc.GetOrCalculate(context.Background(), "ghost", jan())
	require.ErrorIs(t, err, bank.ErrContractNotConfigured)
}
