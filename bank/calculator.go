/*
calculator.go - Monthly ledger calculation

PURPOSE:
  Produces the consolidated MonthlyLedgerEntry for one company+month:

    baseline          contract baseline (zero before EffectiveFrom)
    available         baseline + rolloverIn
    netAdjustment     sum of active adjustments (in adds, out subtracts)
    totalConsumption  consumption + billedRequirements - netAdjustment
    monthlyBalance    available - totalConsumption

  then hands monthlyBalance and the cycle position to the rollover
  engine, prices any finalized overage, and commits the single live row.
  Hours and tickets run the identical pipeline independently and are
  never cross-mixed.

CHANGE DETECTION:
  The store row is rewritten - and a Version recorded - only when the
  newly computed figures differ from the stored ones. Recalculating an
  unchanged month is a no-op with no version noise.

CARRY:
  RolloverIn and the cycle counter are inputs, not lookups: the cascade
  threads them from the previous month's output so months can only be
  computed in chronological order.
*/
package bank

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Carry is the state threaded from one month's output into the next
// month's input.
type Carry struct {
	HoursRollover   int64
	TicketsRollover int64
	CycleIndex      int
}

// CarryFrom derives the next month's carry from a computed entry.
func CarryFrom(params ContractParameters, entry *MonthlyLedgerEntry) Carry {
	c := Carry{CycleIndex: NextCycleIndex(params, entry.CycleIndex, entry.IsCycleEnd)}
	if entry.Hours != nil {
		c.HoursRollover = entry.Hours.RolloverOut
	}
	if entry.Tickets != nil {
		c.TicketsRollover = entry.Tickets.RolloverOut
	}
	return c
}

// CalcRequest identifies one month calculation.
type CalcRequest struct {
	CompanyID string
	Month     MonthKey
	Carry     Carry

	// Versioning context for the write, if the figures changed.
	ChangeKind ChangeKind
	Reason     string
	Actor      string
}

// Calculator computes and commits monthly ledger entries.
type Calculator struct {
	Contracts *ContractResolver
	Ledger    LedgerStore
	Adjusts   AdjustmentStore

	Consumption ConsumptionSource
	Billed      BilledRequirementsSource
	Biller      *OverageBiller

	Recorder *VersionRecorder
	Notifier Notifier

	now func() time.Time
}

// NewCalculator wires a calculator. notifier may be nil.
func NewCalculator(
	contracts *ContractResolver,
	ledger LedgerStore,
	adjusts AdjustmentStore,
	consumption ConsumptionSource,
	billed BilledRequirementsSource,
	biller *OverageBiller,
	recorder *VersionRecorder,
	notifier Notifier,
) *Calculator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Calculator{
		Contracts:   contracts,
		Ledger:      ledger,
		Adjusts:     adjusts,
		Consumption: consumption,
		Billed:      billed,
		Biller:      biller,
		Recorder:    recorder,
		Notifier:    notifier,
		now:         time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (c *Calculator) WithClock(clock func() time.Time) {
	if clock != nil {
		c.now = clock
	}
}

// CalculateMonth computes the entry for req and commits it if changed.
// Returns the live entry (new or unchanged) and whether a write happened.
func (c *Calculator) CalculateMonth(ctx context.Context, req CalcRequest) (*MonthlyLedgerEntry, bool, error) {
	params, err := c.Contracts.Resolve(ctx, req.CompanyID, req.Month)
	if err != nil {
		c.notifyFailure(ctx, req, err)
		return nil, false, err
	}
	if err := params.Validate(); err != nil {
		c.notifyFailure(ctx, req, err)
		return nil, false, err
	}

	usage, err := c.Consumption.Consumption(ctx, req.CompanyID, req.Month)
	if err != nil {
		err = &DataSourceError{Source: "consumption", CompanyID: req.CompanyID, Month: req.Month, Err: err}
		c.notifyFailure(ctx, req, err)
		return nil, false, err
	}
	billed, err := c.Billed.BilledRequirements(ctx, req.CompanyID, req.Month)
	if err != nil {
		err = &DataSourceError{Source: "billed-requirements", CompanyID: req.CompanyID, Month: req.Month, Err: err}
		c.notifyFailure(ctx, req, err)
		return nil, false, err
	}
	adjustments, err := c.Adjusts.AdjustmentsForMonth(ctx, req.CompanyID, req.Month)
	if err != nil {
		c.notifyFailure(ctx, req, err)
		return nil, false, err
	}

	cycleIndex := req.Carry.CycleIndex
	if cycleIndex < 1 {
		cycleIndex = params.CurrentCycleIndex
		if cycleIndex < 1 {
			cycleIndex = 1
		}
	}
	_, isCycleEnd := CyclePosition(params, req.Month)

	entry := &MonthlyLedgerEntry{
		CompanyID:    req.CompanyID,
		Month:        req.Month,
		IsCycleEnd:   isCycleEnd,
		CycleIndex:   cycleIndex,
		TotalToBill:  decimal.Zero,
		CalculatedAt: c.now(),
	}

	// Kind-level events are held back until the entry commits so that
	// no-op recomputations do not refire old notifications.
	var pending []Event

	if params.Kind.Includes(KindHours) {
		figures, err := c.computeKind(ctx, params, req, KindHours, &pending,
			c.baselineFor(params, req.Month, KindHours),
			req.Carry.HoursRollover,
			usage.Hours.Minutes(), billed.Hours.Minutes(),
			NetAdjustment(adjustments, KindHours),
			isCycleEnd, cycleIndex)
		if err != nil {
			c.notifyFailure(ctx, req, err)
			return nil, false, err
		}
		entry.Hours = figures
		entry.TotalToBill = entry.TotalToBill.Add(figures.OverageValue)
	}
	if params.Kind.Includes(KindTickets) {
		figures, err := c.computeKind(ctx, params, req, KindTickets, &pending,
			c.baselineFor(params, req.Month, KindTickets),
			req.Carry.TicketsRollover,
			usage.Tickets, billed.Tickets,
			NetAdjustment(adjustments, KindTickets),
			isCycleEnd, cycleIndex)
		if err != nil {
			c.notifyFailure(ctx, req, err)
			return nil, false, err
		}
		entry.Tickets = figures
		entry.TotalToBill = entry.TotalToBill.Add(figures.OverageValue)
	}

	stored, err := c.Ledger.GetEntry(ctx, req.CompanyID, req.Month)
	if err != nil && !IsNotFound(err) {
		return nil, false, err
	}
	if stored != nil && stored.SameFigures(entry) {
		// Nothing changed: keep the stored row and record no version.
		return stored, false, nil
	}

	if stored != nil {
		entry.Version = stored.Version + 1
	} else {
		entry.Version = 1
	}
	if err := c.Ledger.PutEntry(ctx, entry); err != nil {
		return nil, false, err
	}
	if _, err := c.Recorder.Record(ctx, stored, entry, req.ChangeKind, req.Reason, req.Actor); err != nil {
		return nil, false, err
	}

	for _, ev := range pending {
		c.Notifier.Notify(ctx, ev)
	}
	c.notifyOutcome(ctx, entry)
	return entry, true, nil
}

// baselineFor returns the month's contracted baseline in kind units.
// Months before EffectiveFrom pro-rate to zero.
func (c *Calculator) baselineFor(params ContractParameters, month MonthKey, kind Kind) int64 {
	if month.Before(params.EffectiveFrom) {
		return 0
	}
	switch kind {
	case KindHours:
		if params.HoursBaseline != nil {
			return params.HoursBaseline.Minutes()
		}
	case KindTickets:
		if params.TicketsBaseline != nil {
			return *params.TicketsBaseline
		}
	}
	return 0
}

// computeKind runs the baseline-to-rollover pipeline for one kind.
// Deficit, forfeit and overage events go into pending; only a failed
// pricing notifies immediately, since its error aborts the month anyway.
func (c *Calculator) computeKind(
	ctx context.Context,
	params ContractParameters,
	req CalcRequest,
	kind Kind,
	pending *[]Event,
	baseline, rolloverIn, consumption, billed, netAdjustment int64,
	isCycleEnd bool,
	cycleIndex int,
) (*KindFigures, error) {
	f := &KindFigures{
		Baseline:      baseline,
		RolloverIn:    rolloverIn,
		Consumption:   consumption,
		Billed:        billed,
		NetAdjustment: netAdjustment,
		Rate:          decimal.Zero,
		OverageValue:  decimal.Zero,
	}
	if params.DeficitReducesBaseline && rolloverIn < 0 {
		f.Baseline = baseline + rolloverIn
		f.RolloverIn = 0
	}
	f.Available = f.Baseline + f.RolloverIn
	f.TotalConsumption = f.Consumption + f.Billed - f.NetAdjustment
	f.MonthlyBalance = f.Available - f.TotalConsumption

	decision := ResolveRollover(params, f.MonthlyBalance, isCycleEnd, cycleIndex)
	f.RolloverOut = decision.RolloverOut
	f.Overage = decision.Overage

	if f.MonthlyBalance < 0 {
		*pending = append(*pending, Event{
			Type:      EventDeficitDetected,
			CompanyID: req.CompanyID,
			Month:     req.Month,
			Detail:    map[string]any{"kind": string(kind), "balance": f.MonthlyBalance},
			At:        c.now(),
		})
	}
	if decision.SurplusForfeited > 0 {
		*pending = append(*pending, Event{
			Type:      EventSurplusForfeited,
			CompanyID: req.CompanyID,
			Month:     req.Month,
			Detail:    map[string]any{"kind": string(kind), "forfeited": decision.SurplusForfeited},
			At:        c.now(),
		})
	}

	if f.Overage > 0 {
		rate, value, err := c.Biller.Price(ctx, req.CompanyID, req.Month, kind, f.Overage)
		if err != nil {
			if errors.Is(err, ErrRateNotFound) {
				c.Notifier.Notify(ctx, Event{
					Type:      EventRateMissing,
					CompanyID: req.CompanyID,
					Month:     req.Month,
					Detail:    map[string]any{"kind": string(kind)},
					At:        c.now(),
				})
			}
			return nil, err
		}
		f.Rate = rate
		f.OverageValue = value
		*pending = append(*pending, Event{
			Type:      EventOverageGenerated,
			CompanyID: req.CompanyID,
			Month:     req.Month,
			Detail:    map[string]any{"kind": string(kind), "quantity": f.Overage, "value": value.String()},
			At:        c.now(),
		})
	}
	return f, nil
}

func (c *Calculator) notifyOutcome(ctx context.Context, entry *MonthlyLedgerEntry) {
	c.Notifier.Notify(ctx, Event{
		Type:      EventCalculationSucceeded,
		CompanyID: entry.CompanyID,
		Month:     entry.Month,
		Detail:    map[string]any{"version": entry.Version, "cycle_end": entry.IsCycleEnd},
		At:        c.now(),
	})
}

func (c *Calculator) notifyFailure(ctx context.Context, req CalcRequest, err error) {
	c.Notifier.Notify(ctx, Event{
		Type:      EventCalculationFailed,
		CompanyID: req.CompanyID,
		Month:     req.Month,
		Detail:    map[string]any{"error": err.Error()},
		At:        c.now(),
	})
}
