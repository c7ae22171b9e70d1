/*
store.go - Persistence and collaborator interfaces

PURPOSE:
  Defines the boundary between the engine and everything it does not
  own: durable storage, the timesheet consumption source, the billed
  requirements source and the rate table. Implementations live in
  bank/store (memory) and store/sqlite (production).

CONTRACTS:
  - LedgerStore keeps exactly one live row per company+month and must
    apply PutEntry atomically per key (read-modify-write).
  - VersionStore and AuditLog are append-only. No Update, no Delete.
  - Adjustments are append + soft-deactivate only.
  - External sources never return a substitute zero on failure; they
    fail loudly and the calculator wraps the failure with context.
*/
package bank

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PERSISTENCE STORES
// =============================================================================

// CompanyLister enumerates every company with a configured contract.
// The background refresher uses it to walk the whole portfolio.
type CompanyLister interface {
	ListCompanyIDs(ctx context.Context) ([]string, error)
}

// ContractStore persists contract parameter history per company.
type ContractStore interface {
	// ContractHistory returns every parameter version for the company,
	// in any order. Empty result means not configured.
	ContractHistory(ctx context.Context, companyID string) ([]ContractParameters, error)

	// SaveContract appends a parameter version.
	SaveContract(ctx context.Context, params ContractParameters) error
}

// LedgerStore keeps the single live MonthlyLedgerEntry per key.
type LedgerStore interface {
	// GetEntry returns the live row, or ErrEntryNotFound.
	GetEntry(ctx context.Context, companyID string, month MonthKey) (*MonthlyLedgerEntry, error)

	// PutEntry inserts or replaces the live row atomically and
	// invalidates any derived caches for the company.
	PutEntry(ctx context.Context, entry *MonthlyLedgerEntry) error

	// LatestMonth returns the most recent calculated month for the
	// company, or nil if none exists yet.
	LatestMonth(ctx context.Context, companyID string) (*MonthKey, error)
}

// AdjustmentStore persists manual adjustments. Append + soft-deactivate.
type AdjustmentStore interface {
	CreateAdjustment(ctx context.Context, adj Adjustment) error
	GetAdjustment(ctx context.Context, id string) (*Adjustment, error)

	// SetAdjustmentActive toggles the soft-delete flag. The row itself
	// is never removed.
	SetAdjustmentActive(ctx context.Context, id string, active bool) error

	// AdjustmentsForMonth returns ALL adjustments (active and inactive)
	// for the key; the caller filters.
	AdjustmentsForMonth(ctx context.Context, companyID string, month MonthKey) ([]Adjustment, error)
}

// AllocationStore persists a company's named shares.
type AllocationStore interface {
	Allocations(ctx context.Context, companyID string) ([]Allocation, error)
	ActiveAllocations(ctx context.Context, companyID string) ([]Allocation, error)
	SaveAllocation(ctx context.Context, alloc Allocation) error
}

// VersionStore is the append-only recomputation history.
type VersionStore interface {
	AppendVersion(ctx context.Context, v Version) error

	// Versions returns the entry's history ordered by ToVersion.
	Versions(ctx context.Context, companyID string, month MonthKey) ([]Version, error)
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// SegmentedCache optionally caches derived segmented views. Stores that
// implement it must drop a company's rows whenever PutEntry commits.
type SegmentedCache interface {
	PutSegmented(ctx context.Context, companyID string, month MonthKey, rows []SegmentedLedgerEntry) error
	CachedSegmented(ctx context.Context, companyID string, month MonthKey) ([]SegmentedLedgerEntry, bool, error)
}

// =============================================================================
// EXTERNAL DATA SOURCES
// =============================================================================

// UsageTotals is one month's externally measured consumption.
type UsageTotals struct {
	Hours   Duration
	Tickets int64
}

// ConsumptionSource reports timesheet consumption per company+month.
// A month with no recorded activity returns zero totals and nil error;
// a failed fetch returns a non-nil error and MUST NOT return zeros.
type ConsumptionSource interface {
	Consumption(ctx context.Context, companyID string, month MonthKey) (UsageTotals, error)
}

// BilledRequirementsSource reports totals already invoiced through the
// separate requirements subsystem.
type BilledRequirementsSource interface {
	BilledRequirements(ctx context.Context, companyID string, month MonthKey) (UsageTotals, error)
}

// RateSource resolves the unit rate for pricing cycle-end overage.
// Returns ErrRateNotFound (possibly wrapped) when no rate is configured.
type RateSource interface {
	Rate(ctx context.Context, companyID string, month MonthKey, kind Kind) (decimal.Decimal, error)
}

// =============================================================================
// FUNC ADAPTERS - wiring fixtures and small collaborators
// =============================================================================

// ConsumptionFunc adapts a function to ConsumptionSource.
type ConsumptionFunc func(ctx context.Context, companyID string, month MonthKey) (UsageTotals, error)

func (f ConsumptionFunc) Consumption(ctx context.Context, companyID string, month MonthKey) (UsageTotals, error) {
	return f(ctx, companyID, month)
}

// BilledRequirementsFunc adapts a function to BilledRequirementsSource.
type BilledRequirementsFunc func(ctx context.Context, companyID string, month MonthKey) (UsageTotals, error)

func (f BilledRequirementsFunc) BilledRequirements(ctx context.Context, companyID string, month MonthKey) (UsageTotals, error) {
	return f(ctx, companyID, month)
}

// RateFunc adapts a function to RateSource.
type RateFunc func(ctx context.Context, companyID string, month MonthKey, kind Kind) (decimal.Decimal, error)

func (f RateFunc) Rate(ctx context.Context, companyID string, month MonthKey, kind Kind) (decimal.Decimal, error) {
	return f(ctx, companyID, month, kind)
}
