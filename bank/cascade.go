/*
cascade.go - Cascading recomputation across months

PURPOSE:
  When any upstream input of month M changes (an adjustment, a contract
  parameter, refreshed consumption), every month from M to the present
  must be recomputed - month N+1's rolloverIn is month N's rolloverOut,
  so the chain is a strict forward dependency.

ORDERING & CONCURRENCY:
  Months recompute strictly chronologically, never in parallel, never
  pipelined. Per company, recomputation is serialized by a TryLock: a
  second request while one is in flight gets ErrRecalculationInFlight
  and the caller retries. Different companies are independent.
  Mutations that mandate a cascade (adjustment create/deactivate) take
  the same lock BEFORE their store write, so a rejected cascade never
  strands a committed input.

FAILURE:
  A fatal month (RateNotFound, ContractNotConfigured, source outage)
  halts the chain AT that month. Earlier months already committed stay
  committed; the caller receives a CascadeHaltedError naming the halt
  month so the chain can resume there once the cause is fixed.
*/
package bank

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CascadeResult reports what a cascade run accomplished.
type CascadeResult struct {
	CompanyID    string
	From         MonthKey
	Through      MonthKey
	Recalculated []MonthKey // months actually rewritten
	Unchanged    []MonthKey // months recomputed to identical figures
	HaltedAt     *MonthKey
}

// CascadeRecalculator walks a company's calculation chain forward.
type CascadeRecalculator struct {
	Calc      *Calculator
	Ledger    LedgerStore
	Contracts *ContractResolver
	Audit     AuditLog
	Notifier  Notifier

	locks sync.Map // companyID -> *sync.Mutex
	now   func() time.Time
}

// NewCascadeRecalculator wires a cascade runner. audit and notifier may
// be nil.
func NewCascadeRecalculator(calc *Calculator, ledger LedgerStore, contracts *ContractResolver, audit AuditLog, notifier Notifier) *CascadeRecalculator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &CascadeRecalculator{
		Calc:      calc,
		Ledger:    ledger,
		Contracts: contracts,
		Audit:     audit,
		Notifier:  notifier,
		now:       time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (cr *CascadeRecalculator) WithClock(clock func() time.Time) {
	if clock != nil {
		cr.now = clock
		if cr.Calc != nil {
			cr.Calc.WithClock(clock)
		}
	}
}

func (cr *CascadeRecalculator) lockFor(companyID string) *sync.Mutex {
	v, _ := cr.locks.LoadOrStore(companyID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// acquireLock takes the company's recalculation lock without blocking.
// Returns a release func, or ErrRecalculationInFlight when contended.
// Callers that must couple a store write to its cascade (adjustments)
// acquire here first, write, then run the *Locked variants.
func (cr *CascadeRecalculator) acquireLock(ctx context.Context, companyID string, month MonthKey) (func(), error) {
	lock := cr.lockFor(companyID)
	if !lock.TryLock() {
		cr.Notifier.Notify(ctx, Event{
			Type:      EventRecalculationConflict,
			CompanyID: companyID,
			Month:     month,
			At:        cr.now(),
		})
		return nil, ErrRecalculationInFlight
	}
	return lock.Unlock, nil
}

// Recalculate recomputes from the given month through the present (or
// through the latest already-calculated month, whichever is later).
func (cr *CascadeRecalculator) Recalculate(ctx context.Context, companyID string, from MonthKey, kind ChangeKind, reason, actor string) (*CascadeResult, error) {
	unlock, err := cr.acquireLock(ctx, companyID, from)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return cr.recalculateLocked(ctx, companyID, from, kind, reason, actor)
}

// recalculateLocked is Recalculate with the company lock already held.
func (cr *CascadeRecalculator) recalculateLocked(ctx context.Context, companyID string, from MonthKey, kind ChangeKind, reason, actor string) (*CascadeResult, error) {
	through := MonthKeyOf(cr.now())
	latest, err := cr.Ledger.LatestMonth(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		through = LaterMonth(through, *latest)
	}
	return cr.runLocked(ctx, companyID, from, through, kind, reason, actor)
}

// RunRange recomputes [from, through] in strict month order under the
// company lock, threading each month's carry into the next.
func (cr *CascadeRecalculator) RunRange(ctx context.Context, companyID string, from, through MonthKey, kind ChangeKind, reason, actor string) (*CascadeResult, error) {
	unlock, err := cr.acquireLock(ctx, companyID, from)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return cr.runLocked(ctx, companyID, from, through, kind, reason, actor)
}

func (cr *CascadeRecalculator) runLocked(ctx context.Context, companyID string, from, through MonthKey, kind ChangeKind, reason, actor string) (*CascadeResult, error) {
	result := &CascadeResult{CompanyID: companyID, From: from, Through: through}
	cr.audit(ctx, companyID, from, actor, AuditCascadeStarted, reason, map[string]any{
		"from": from.String(), "through": through.String(), "change_kind": string(kind),
	})

	carry, err := cr.carryInto(ctx, companyID, from)
	if err != nil {
		month := from
		result.HaltedAt = &month
		return result, cr.halt(ctx, result, actor, err)
	}

	for month := from; month.BeforeOrEqual(through); month = month.Next() {
		if err := ctx.Err(); err != nil {
			m := month
			result.HaltedAt = &m
			return result, cr.halt(ctx, result, actor, err)
		}

		entry, changed, err := cr.Calc.CalculateMonth(ctx, CalcRequest{
			CompanyID:  companyID,
			Month:      month,
			Carry:      carry,
			ChangeKind: kind,
			Reason:     reason,
			Actor:      actor,
		})
		if err != nil {
			m := month
			result.HaltedAt = &m
			return result, cr.halt(ctx, result, actor, err)
		}

		if changed {
			result.Recalculated = append(result.Recalculated, month)
		} else {
			result.Unchanged = append(result.Unchanged, month)
		}

		params, err := cr.Contracts.Resolve(ctx, companyID, month)
		if err != nil {
			m := month
			result.HaltedAt = &m
			return result, cr.halt(ctx, result, actor, err)
		}
		carry = CarryFrom(params, entry)
	}
	return result, nil
}

// carryInto reconstructs the carry feeding the given month from the
// previous month's committed entry; zeros when the chain starts there.
func (cr *CascadeRecalculator) carryInto(ctx context.Context, companyID string, month MonthKey) (Carry, error) {
	prev, err := cr.Ledger.GetEntry(ctx, companyID, month.Prev())
	if err != nil {
		if IsNotFound(err) {
			return Carry{}, nil
		}
		return Carry{}, err
	}
	params, err := cr.Contracts.Resolve(ctx, companyID, month.Prev())
	if err != nil {
		return Carry{}, err
	}
	return CarryFrom(params, prev), nil
}

func (cr *CascadeRecalculator) halt(ctx context.Context, result *CascadeResult, actor string, cause error) error {
	err := &CascadeHaltedError{
		CompanyID:    result.CompanyID,
		HaltedAt:     *result.HaltedAt,
		Recalculated: result.Recalculated,
		Err:          cause,
	}
	cr.audit(ctx, result.CompanyID, *result.HaltedAt, actor, AuditCascadeHalted, cause.Error(), map[string]any{
		"halted_at":    result.HaltedAt.String(),
		"recalculated": len(result.Recalculated),
	})
	return err
}

func (cr *CascadeRecalculator) audit(ctx context.Context, companyID string, month MonthKey, actor string, action AuditAction, description string, payload map[string]any) {
	if cr.Audit == nil {
		return
	}
	m := month
	// Best effort: a failed audit write must not abort the cascade.
	_ = cr.Audit.AppendAudit(ctx, AuditEntry{
		ID:          uuid.NewString(),
		Timestamp:   cr.now(),
		ActorID:     actor,
		Action:      action,
		CompanyID:   companyID,
		Month:       &m,
		Description: description,
		Payload:     payload,
	})
}
