/*
Package bank implements the hours/tickets bank engine: the per-contract,
per-month consolidation of contracted hours and tickets against actual
consumption, with rollover across months and multi-month billing cycles,
end-of-cycle overage billing, cascading recomputation, and an immutable
version history of every change.

KEY CONCEPTS IN THIS FILE (types.go):
  - ContractParameters: the effective configuration of one company's bank
  - KindFigures: one month's computed quantities for ONE kind
  - MonthlyLedgerEntry: the single live consolidated row per company+month
  - Adjustment: a justified manual correction ("reajuste"), soft-deleted only
  - Allocation / SegmentedLedgerEntry: proportional departmental breakdown
  - Version: immutable before/after snapshot of a ledger recomputation

DESIGN PRINCIPLES:
  1. Exactness: time quantities are integer minutes, money is decimal.Decimal
  2. One live row: history lives in Version records, never in duplicate rows
  3. Kind separation: hours and tickets never mix; a nil *KindFigures means
     the kind is outside the contract, enforced by the type system
  4. Auditability: every mutation carries reason, actor and change kind
*/
package bank

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// KINDS - hours vs tickets
// =============================================================================

// Kind is one of the two bankable quantities.
type Kind string

const (
	KindHours   Kind = "hours"
	KindTickets Kind = "tickets"
)

// ContractKind says which kinds a contract banks.
type ContractKind string

const (
	ContractHours   ContractKind = "hours"
	ContractTickets ContractKind = "tickets"
	ContractBoth    ContractKind = "both"
)

// Includes reports whether the contract kind covers k.
func (ck ContractKind) Includes(k Kind) bool {
	switch ck {
	case ContractBoth:
		return true
	case ContractHours:
		return k == KindHours
	case ContractTickets:
		return k == KindTickets
	}
	return false
}

// =============================================================================
// CONTRACT PARAMETERS
// =============================================================================

// ContractParameters is one effective configuration of a company's bank.
// A company may have several historical rows; the resolver picks the one
// with the latest EffectiveFrom at or before the target month.
type ContractParameters struct {
	CompanyID string
	Kind      ContractKind

	// Cycle window length in months (1..12), anchored at EffectiveFrom.
	AssessmentPeriodMonths int
	EffectiveFrom          MonthKey

	// Monthly baselines. Present iff the kind is part of the contract.
	HoursBaseline   *Duration
	TicketsBaseline *int64

	// Special rollover: at a surplus cycle end, carry
	// MonthlyRolloverPercent of the balance instead of forfeiting it,
	// except every CyclesBeforeZeroing-th cycle where the surplus zeroes.
	HasSpecialRollover     bool
	CyclesBeforeZeroing    int
	MonthlyRolloverPercent int64 // 0..100

	// Seed value for the cycle counter of the first calculated month.
	// The running counter itself is threaded through ledger entries by
	// the rollover engine; this field only starts the chain.
	CurrentCycleIndex int

	// Policy flag: whether a deficit carried across a non-cycle-end
	// boundary reduces the following month's baseline rather than only
	// its available balance. The standard contract keeps the baseline.
	DeficitReducesBaseline bool
}

// Validate enforces the structural invariants of a parameter set.
func (p ContractParameters) Validate() error {
	if p.CompanyID == "" {
		return &InvalidContractError{Reason: "company id is required"}
	}
	if p.AssessmentPeriodMonths < 1 || p.AssessmentPeriodMonths > 12 {
		return &InvalidContractError{CompanyID: p.CompanyID, Reason: "assessment period must be 1..12 months"}
	}
	if p.EffectiveFrom.IsZero() {
		return &InvalidContractError{CompanyID: p.CompanyID, Reason: "effective-from month is required"}
	}
	if p.Kind.Includes(KindHours) && p.HoursBaseline == nil {
		return &InvalidContractError{CompanyID: p.CompanyID, Reason: "hours baseline required for hours contract"}
	}
	if p.Kind.Includes(KindTickets) && p.TicketsBaseline == nil {
		return &InvalidContractError{CompanyID: p.CompanyID, Reason: "tickets baseline required for tickets contract"}
	}
	if !p.Kind.Includes(KindHours) && p.HoursBaseline != nil {
		return &InvalidContractError{CompanyID: p.CompanyID, Reason: "hours baseline set on non-hours contract"}
	}
	if !p.Kind.Includes(KindTickets) && p.TicketsBaseline != nil {
		return &InvalidContractError{CompanyID: p.CompanyID, Reason: "tickets baseline set on non-tickets contract"}
	}
	if p.MonthlyRolloverPercent < 0 || p.MonthlyRolloverPercent > 100 {
		return &InvalidContractError{CompanyID: p.CompanyID, Reason: "rollover percent must be 0..100"}
	}
	if p.HasSpecialRollover && p.CyclesBeforeZeroing < 1 {
		return &InvalidContractError{CompanyID: p.CompanyID, Reason: "cycles-before-zeroing required for special rollover"}
	}
	return nil
}

// =============================================================================
// MONTHLY LEDGER ENTRY
// =============================================================================

// KindFigures holds one month's computed quantities for a single kind.
// Units are minutes for hours and ticket counts for tickets; the formulas
// are identical, so the calculator runs the same pipeline on both.
type KindFigures struct {
	Baseline         int64
	RolloverIn       int64
	Available        int64 // Baseline + RolloverIn
	Consumption      int64
	Billed           int64
	NetAdjustment    int64
	TotalConsumption int64 // Consumption + Billed - NetAdjustment
	MonthlyBalance   int64 // Available - TotalConsumption
	RolloverOut      int64
	Overage          int64 // finalized deficit quantity at cycle end, >= 0

	// Pricing, set only when Overage > 0.
	Rate         decimal.Decimal
	OverageValue decimal.Decimal
}

// Equal compares all quantities and money fields.
func (f KindFigures) Equal(o KindFigures) bool {
	return f.Baseline == o.Baseline &&
		f.RolloverIn == o.RolloverIn &&
		f.Available == o.Available &&
		f.Consumption == o.Consumption &&
		f.Billed == o.Billed &&
		f.NetAdjustment == o.NetAdjustment &&
		f.TotalConsumption == o.TotalConsumption &&
		f.MonthlyBalance == o.MonthlyBalance &&
		f.RolloverOut == o.RolloverOut &&
		f.Overage == o.Overage &&
		f.Rate.Equal(o.Rate) &&
		f.OverageValue.Equal(o.OverageValue)
}

// MonthlyLedgerEntry is the consolidated record for one company+month.
// Exactly one live row exists per key; prior states live in Versions.
type MonthlyLedgerEntry struct {
	CompanyID string
	Month     MonthKey

	// Per-kind figures. nil means the kind is outside the contract.
	Hours   *KindFigures
	Tickets *KindFigures

	IsCycleEnd bool

	// CycleIndex is the special-rollover cycle counter in effect for
	// this month (1..CyclesBeforeZeroing). Written only by the rollover
	// engine, in the same store write as the rest of the entry.
	CycleIndex int

	// TotalToBill is the sum of kind overage values for the month.
	TotalToBill decimal.Decimal

	// Version is the live row's version number, incremented on every
	// committed recomputation that changed values.
	Version      int
	CalculatedAt time.Time
}

// FiguresFor returns the figures for kind k, nil if outside the contract.
func (e *MonthlyLedgerEntry) FiguresFor(k Kind) *KindFigures {
	switch k {
	case KindHours:
		return e.Hours
	case KindTickets:
		return e.Tickets
	}
	return nil
}

// SameFigures reports whether two entries carry identical computed values.
// Used by the calculator to decide whether a recomputation is a change.
func (e *MonthlyLedgerEntry) SameFigures(o *MonthlyLedgerEntry) bool {
	if o == nil {
		return false
	}
	if (e.Hours == nil) != (o.Hours == nil) || (e.Tickets == nil) != (o.Tickets == nil) {
		return false
	}
	if e.Hours != nil && !e.Hours.Equal(*o.Hours) {
		return false
	}
	if e.Tickets != nil && !e.Tickets.Equal(*o.Tickets) {
		return false
	}
	return e.IsCycleEnd == o.IsCycleEnd &&
		e.CycleIndex == o.CycleIndex &&
		e.TotalToBill.Equal(o.TotalToBill)
}

// Clone deep-copies the entry, for version snapshots.
func (e *MonthlyLedgerEntry) Clone() *MonthlyLedgerEntry {
	if e == nil {
		return nil
	}
	out := *e
	if e.Hours != nil {
		h := *e.Hours
		out.Hours = &h
	}
	if e.Tickets != nil {
		t := *e.Tickets
		out.Tickets = &t
	}
	return &out
}

// =============================================================================
// ADJUSTMENTS ("reajustes")
// =============================================================================

// AdjustmentDirection says whether the adjustment credits or debits the
// month's balance. "in" reduces total consumption, "out" increases it.
type AdjustmentDirection string

const (
	AdjustmentIn  AdjustmentDirection = "in"
	AdjustmentOut AdjustmentDirection = "out"
)

// Adjustment is a manual signed correction to one company+month.
// Immutable after creation except for (de)activation; inactive rows are
// excluded from aggregation but kept for audit.
type Adjustment struct {
	ID        string
	CompanyID string
	Month     MonthKey
	Direction AdjustmentDirection

	// At least one of the two quantities is non-zero; a kind outside
	// the contract must stay zero.
	Hours   Duration
	Tickets int64

	Justification string
	Active        bool

	CreatedBy     string
	CreatedAt     time.Time
	DeactivatedAt *time.Time
}

// Signed returns the adjustment's contribution for kind k: positive for
// "in" (more balance available), negative for "out".
func (a Adjustment) Signed(k Kind) int64 {
	var v int64
	switch k {
	case KindHours:
		v = a.Hours.Minutes()
	case KindTickets:
		v = a.Tickets
	}
	if a.Direction == AdjustmentOut {
		return -v
	}
	return v
}

// NetAdjustment sums the active adjustments' signed values for kind k.
func NetAdjustment(adjustments []Adjustment, k Kind) int64 {
	var total int64
	for _, a := range adjustments {
		if !a.Active {
			continue
		}
		total += a.Signed(k)
	}
	return total
}

// =============================================================================
// ALLOCATIONS - departmental/project shares
// =============================================================================

// Allocation is a named share of a company's bank (department, project).
type Allocation struct {
	ID                   string
	CompanyID            string
	Name                 string
	BaselineSharePercent int64 // 1..100
	Active               bool
}

// SegmentedLedgerEntry is one allocation's proportional view of a
// MonthlyLedgerEntry. Derived, never edited directly.
type SegmentedLedgerEntry struct {
	CompanyID      string
	Month          MonthKey
	AllocationID   string
	AllocationName string
	SharePercent   int64

	Hours       *KindFigures
	Tickets     *KindFigures
	TotalToBill decimal.Decimal
}

// =============================================================================
// VERSIONS - immutable recomputation history
// =============================================================================

// ChangeKind classifies why a ledger entry was rewritten.
type ChangeKind string

const (
	ChangeAdjustment    ChangeKind = "adjustment"    // direct user adjustment
	ChangeRecalculation ChangeKind = "recalculation" // cascade from upstream input change
	ChangeCorrection    ChangeKind = "correction"    // administrator manual fix
)

// Version is one immutable before/after snapshot of a ledger entry.
// Append-only; ToVersion = FromVersion + 1 per entry.
type Version struct {
	ID        string
	CompanyID string
	Month     MonthKey

	FromVersion int
	ToVersion   int

	// Before is nil for the first calculation of a month.
	Before *MonthlyLedgerEntry
	After  *MonthlyLedgerEntry

	Reason     string
	ChangeKind ChangeKind
	Actor      string
	CreatedAt  time.Time
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AuditEntry records who did what when. Append-only, separate from the
// version history: versions snapshot state, audit entries narrate actions.
type AuditEntry struct {
	ID          string
	Timestamp   time.Time
	ActorID     string
	Action      AuditAction
	CompanyID   string
	Month       *MonthKey
	Description string
	Payload     map[string]any
}

type AuditAction string

const (
	AuditAdjustmentCreated     AuditAction = "adjustment_created"
	AuditAdjustmentDeactivated AuditAction = "adjustment_deactivated"
	AuditLedgerCalculated      AuditAction = "ledger_calculated"
	AuditCascadeStarted        AuditAction = "cascade_started"
	AuditCascadeHalted         AuditAction = "cascade_halted"
	AuditContractChanged       AuditAction = "contract_changed"
)

// AuditFilter narrows audit queries.
type AuditFilter struct {
	CompanyID *string
	ActorID   *string
	Actions   []AuditAction
	From      *time.Time
	To        *time.Time
}
