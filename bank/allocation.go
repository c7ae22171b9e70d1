/*
allocation.go - Segmented (per-allocation) view of a ledger entry

PURPOSE:
  Splits a consolidated monthly entry proportionally across a company's
  active allocations (departments, projects). Pure function: idempotent,
  side-effect free, recomputed on demand - the consolidated entry stays
  the single source of truth.

ROUNDING:
  Integer quantities are split with largest-remainder distribution so
  the segment values of every field sum back EXACTLY to the parent
  value, even for negative balances. Monetary fields are split with
  decimal arithmetic and the rounding drift (at most a cent) is folded
  into the largest share.
*/
package bank

import (
	"sort"

	"github.com/shopspring/decimal"
)

// SplitEntry derives one SegmentedLedgerEntry per active allocation.
// Allocations with Active == false are ignored. Active shares must sum
// to at most 100; a short sum leaves the remainder unallocated.
func SplitEntry(entry *MonthlyLedgerEntry, allocations []Allocation) ([]SegmentedLedgerEntry, error) {
	active := make([]Allocation, 0, len(allocations))
	var shareSum int64
	for _, a := range allocations {
		if !a.Active {
			continue
		}
		active = append(active, a)
		shareSum += a.BaselineSharePercent
	}
	if shareSum > 100 {
		return nil, ErrAllocationOversubscribed
	}
	if len(active) == 0 {
		return nil, nil
	}

	percents := make([]int64, len(active))
	for i, a := range active {
		percents[i] = a.BaselineSharePercent
	}

	segments := make([]SegmentedLedgerEntry, len(active))
	for i, a := range active {
		segments[i] = SegmentedLedgerEntry{
			CompanyID:      entry.CompanyID,
			Month:          entry.Month,
			AllocationID:   a.ID,
			AllocationName: a.Name,
			SharePercent:   a.BaselineSharePercent,
			TotalToBill:    decimal.Zero,
		}
	}

	if entry.Hours != nil {
		shares := splitFigures(*entry.Hours, percents)
		for i := range segments {
			f := shares[i]
			segments[i].Hours = &f
			segments[i].TotalToBill = segments[i].TotalToBill.Add(f.OverageValue)
		}
	}
	if entry.Tickets != nil {
		shares := splitFigures(*entry.Tickets, percents)
		for i := range segments {
			f := shares[i]
			segments[i].Tickets = &f
			segments[i].TotalToBill = segments[i].TotalToBill.Add(f.OverageValue)
		}
	}
	return segments, nil
}

// splitFigures scales every additive field of f by each percent share.
// The Rate is not additive and copies through unscaled.
func splitFigures(f KindFigures, percents []int64) []KindFigures {
	baseline := splitUnits(f.Baseline, percents)
	rolloverIn := splitUnits(f.RolloverIn, percents)
	available := splitUnits(f.Available, percents)
	consumption := splitUnits(f.Consumption, percents)
	billed := splitUnits(f.Billed, percents)
	netAdjustment := splitUnits(f.NetAdjustment, percents)
	totalConsumption := splitUnits(f.TotalConsumption, percents)
	monthlyBalance := splitUnits(f.MonthlyBalance, percents)
	rolloverOut := splitUnits(f.RolloverOut, percents)
	overage := splitUnits(f.Overage, percents)
	overageValue := splitMoney(f.OverageValue, percents)

	out := make([]KindFigures, len(percents))
	for i := range percents {
		out[i] = KindFigures{
			Baseline:         baseline[i],
			RolloverIn:       rolloverIn[i],
			Available:        available[i],
			Consumption:      consumption[i],
			Billed:           billed[i],
			NetAdjustment:    netAdjustment[i],
			TotalConsumption: totalConsumption[i],
			MonthlyBalance:   monthlyBalance[i],
			RolloverOut:      rolloverOut[i],
			Overage:          overage[i],
			Rate:             f.Rate,
			OverageValue:     overageValue[i],
		}
	}
	return out
}

// splitUnits distributes value*percent/100 with largest-remainder
// rounding: the shares always sum to value*sum(percents)/100 rounded
// toward the exact proportional total. Negative values split on their
// magnitude and re-apply the sign, so deficits distribute symmetrically.
func splitUnits(value int64, percents []int64) []int64 {
	if value < 0 {
		shares := splitUnits(-value, percents)
		for i := range shares {
			shares[i] = -shares[i]
		}
		return shares
	}

	shares := make([]int64, len(percents))
	remainders := make([]struct {
		idx int
		rem int64
	}, len(percents))

	var assigned, exactTotal int64
	for i, p := range percents {
		raw := value * p
		shares[i] = raw / 100
		remainders[i].idx = i
		remainders[i].rem = raw % 100
		assigned += shares[i]
		exactTotal += raw
	}
	// Round the exact proportional total half-up, then hand out the
	// missing units to the largest remainders first.
	target := (exactTotal + 50) / 100
	missing := target - assigned
	sort.SliceStable(remainders, func(i, j int) bool {
		return remainders[i].rem > remainders[j].rem
	})
	for i := int64(0); i < missing && int(i) < len(remainders); i++ {
		shares[remainders[i].idx]++
	}
	return shares
}

// splitMoney distributes a decimal amount by percent shares, rounding
// each share to currency precision and folding the drift into the
// largest share so the segments sum back exactly.
func splitMoney(value decimal.Decimal, percents []int64) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(percents))
	hundred := decimal.NewFromInt(100)

	var sum decimal.Decimal
	largest := 0
	for i, p := range percents {
		shares[i] = value.Mul(decimal.NewFromInt(p)).Div(hundred).Round(currencyPlaces)
		sum = sum.Add(shares[i])
		if p > percents[largest] {
			largest = i
		}
	}

	var totalPct int64
	for _, p := range percents {
		totalPct += p
	}
	exact := value.Mul(decimal.NewFromInt(totalPct)).Div(hundred).Round(currencyPlaces)
	drift := exact.Sub(sum)
	if !drift.IsZero() {
		shares[largest] = shares[largest].Add(drift)
	}
	return shares
}
