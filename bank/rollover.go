/*
rollover.go - Period-boundary and rollover policy engine

PURPOSE:
  Decides, at each month, how much balance crosses into the next month,
  when the billing cycle closes, and how a closing deficit becomes
  billable overage. This is the policy heart of the bank.

POLICY TABLE (per kind, balance = monthlyBalance of the closing month):

  mid-cycle month:
      rolloverOut = balance        (surplus AND deficit carry forward;
                                    a mid-cycle deficit is never billed)
  cycle-end month, balance < 0:
      overage = -balance, rolloverOut = 0   (deficit finalized for billing)
  cycle-end month, balance >= 0, standard contract:
      rolloverOut = 0                        (surplus forfeited)
  cycle-end month, balance >= 0, special rollover:
      normally  rolloverOut = balance * monthlyRolloverPercent / 100
      but every CyclesBeforeZeroing-th cycle close the surplus zeroes

CYCLE COUNTER:
  CycleIndex counts cycle closes under the special-rollover regime
  (1..CyclesBeforeZeroing). It advances at every cycle end and wraps to
  1 after the zeroing close. It never decreases mid-regime; only an
  administrator correction rewrites it. Standard contracts keep it
  pinned at 1. The counter does not move the cycle boundary - that is
  fixed calendar geometry from EffectiveFrom (month.go).
*/
package bank

// RolloverDecision is the outcome of closing one month for one kind.
type RolloverDecision struct {
	RolloverOut      int64
	Overage          int64 // >= 0; non-zero only at a deficit cycle end
	SurplusForfeited int64 // >= 0; non-zero only at a surplus cycle end
}

// ResolveRollover applies the policy table to one kind's monthly balance.
// cycleIndex is the counter in effect for the month being closed.
func ResolveRollover(params ContractParameters, monthlyBalance int64, isCycleEnd bool, cycleIndex int) RolloverDecision {
	if !isCycleEnd {
		return RolloverDecision{RolloverOut: monthlyBalance}
	}

	if monthlyBalance < 0 {
		return RolloverDecision{Overage: -monthlyBalance}
	}

	if !params.HasSpecialRollover {
		return RolloverDecision{SurplusForfeited: monthlyBalance}
	}

	if cycleIndex >= params.CyclesBeforeZeroing {
		// Zeroing close: the accumulated surplus is wiped.
		return RolloverDecision{SurplusForfeited: monthlyBalance}
	}

	carried := monthlyBalance * params.MonthlyRolloverPercent / 100
	return RolloverDecision{
		RolloverOut:      carried,
		SurplusForfeited: monthlyBalance - carried,
	}
}

// NextCycleIndex advances the cycle counter across a month boundary.
// The counter moves only when a cycle closes, and only under the
// special-rollover regime.
func NextCycleIndex(params ContractParameters, cycleIndex int, isCycleEnd bool) int {
	if cycleIndex < 1 {
		cycleIndex = 1
	}
	if !isCycleEnd || !params.HasSpecialRollover {
		return cycleIndex
	}
	if cycleIndex >= params.CyclesBeforeZeroing {
		return 1
	}
	return cycleIndex + 1
}
