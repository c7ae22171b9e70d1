/*
engine_test.go - Shared fixture for full-engine tests

Wires the real calculator, cascade, adjustment service and facade over
the in-memory store, with map-backed consumption/billed/rate sources and
a fixed clock (mid June 2025) so cascades have a deterministic horizon.
*/
package bank_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/hoursbank/bank"
	memstore "github.com/warp/hoursbank/bank/store"
)

var testNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func jan() bank.MonthKey { return bank.NewMonthKey(2025, time.January) }
func feb() bank.MonthKey { return bank.NewMonthKey(2025, time.February) }
func mar() bank.MonthKey { return bank.NewMonthKey(2025, time.March) }
func jun() bank.MonthKey { return bank.NewMonthKey(2025, time.June) }

type engine struct {
	t     *testing.T
	store *memstore.Memory

	mu     sync.Mutex
	usage  map[string]bank.UsageTotals
	billed map[string]bank.UsageTotals
	rates  map[string]decimal.Decimal
	events []bank.Event

	// onConsumption, when set, runs inside every consumption fetch.
	// Used to block a cascade mid-flight for concurrency tests.
	onConsumption func(companyID string, month bank.MonthKey)

	resolver    *bank.ContractResolver
	calc        *bank.Calculator
	cascade     *bank.CascadeRecalculator
	adjustments *bank.AdjustmentService
	svc         *bank.Service
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	e := &engine{
		t:      t,
		store:  memstore.NewMemory(),
		usage:  make(map[string]bank.UsageTotals),
		billed: make(map[string]bank.UsageTotals),
		rates:  make(map[string]decimal.Decimal),
	}

	clock := func() time.Time { return testNow }

	e.resolver = bank.NewContractResolver(e.store)
	recorder := bank.NewVersionRecorder(e.store, e.store)
	recorder.WithClock(clock)
	biller := bank.NewOverageBiller(bank.RateFunc(e.rate))

	e.calc = bank.NewCalculator(e.resolver, e.store, e.store,
		bank.ConsumptionFunc(e.consumption), bank.BilledRequirementsFunc(e.billedFor),
		biller, recorder, bank.NotifierFunc(e.notify))
	e.cascade = bank.NewCascadeRecalculator(e.calc, e.store, e.resolver, e.store, bank.NotifierFunc(e.notify))
	e.adjustments = bank.NewAdjustmentService(e.store, e.resolver, e.cascade, e.store, bank.NotifierFunc(e.notify))
	e.adjustments.WithClock(clock)
	e.svc = bank.NewService(e.resolver, e.calc, e.cascade, e.adjustments,
		e.store, e.store, e.store, e.store)
	e.svc.WithClock(clock)
	return e
}

func usageKey(companyID string, month bank.MonthKey) string {
	return companyID + "|" + month.String()
}

func (e *engine) consumption(_ context.Context, companyID string, month bank.MonthKey) (bank.UsageTotals, error) {
	e.mu.Lock()
	hook := e.onConsumption
	totals := e.usage[usageKey(companyID, month)]
	e.mu.Unlock()
	if hook != nil {
		hook(companyID, month)
	}
	return totals, nil
}

func (e *engine) billedFor(_ context.Context, companyID string, month bank.MonthKey) (bank.UsageTotals, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.billed[usageKey(companyID, month)], nil
}

func (e *engine) rate(_ context.Context, companyID string, _ bank.MonthKey, kind bank.Kind) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rates[companyID+"|"+string(kind)]
	if !ok {
		return decimal.Zero, bank.ErrRateNotFound
	}
	return r, nil
}

func (e *engine) notify(_ context.Context, ev bank.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

// =============================================================================
// FIXTURE HELPERS
// =============================================================================

func (e *engine) saveContract(p bank.ContractParameters) {
	e.t.Helper()
	if err := e.store.SaveContract(context.Background(), p); err != nil {
		e.t.Fatalf("save contract: %v", err)
	}
}

// hoursOnlyContract: monthly baseline in "H:MM", cycle of period months.
func hoursOnlyContract(companyID string, effective bank.MonthKey, baseline string, period int) bank.ContractParameters {
	b := bank.MustParseDuration(baseline)
	return bank.ContractParameters{
		CompanyID:              companyID,
		Kind:                   bank.ContractHours,
		AssessmentPeriodMonths: period,
		EffectiveFrom:          effective,
		HoursBaseline:          &b,
		CurrentCycleIndex:      1,
	}
}

func bothKindsContract(companyID string, effective bank.MonthKey, hoursBaseline string, ticketsBaseline int64, period int) bank.ContractParameters {
	p := hoursOnlyContract(companyID, effective, hoursBaseline, period)
	p.Kind = bank.ContractBoth
	p.TicketsBaseline = &ticketsBaseline
	return p
}

func (e *engine) setUsage(companyID string, month bank.MonthKey, hours string, tickets int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.usage[usageKey(companyID, month)] = bank.UsageTotals{
		Hours:   bank.MustParseDuration(hours),
		Tickets: tickets,
	}
}

func (e *engine) setBilled(companyID string, month bank.MonthKey, hours string, tickets int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.billed[usageKey(companyID, month)] = bank.UsageTotals{
		Hours:   bank.MustParseDuration(hours),
		Tickets: tickets,
	}
}

func (e *engine) setRate(companyID string, kind bank.Kind, rate string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rates[companyID+"|"+string(kind)] = decimal.RequireFromString(rate)
}

func (e *engine) entry(companyID string, month bank.MonthKey) *bank.MonthlyLedgerEntry {
	e.t.Helper()
	entry, err := e.store.GetEntry(context.Background(), companyID, month)
	if err != nil {
		e.t.Fatalf("entry %s %s: %v", companyID, month, err)
	}
	return entry
}

func (e *engine) versions(companyID string, month bank.MonthKey) []bank.Version {
	e.t.Helper()
	versions, err := e.store.Versions(context.Background(), companyID, month)
	if err != nil {
		e.t.Fatalf("versions %s %s: %v", companyID, month, err)
	}
	return versions
}

func (e *engine) eventsOfType(typ bank.EventType) []bank.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []bank.Event
	for _, ev := range e.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
