/*
service.go - Public engine surface

PURPOSE:
  The facade the surrounding application consumes (HTTP layer included):
  getOrCalculate, recalculate, segmented views, allocations, versions.
  Everything here orchestrates; the business rules live in the other
  files of this package.
*/
package bank

import (
	"context"
	"time"
)

// SystemActor marks writes not attributable to a person.
const SystemActor = "system"

// Service bundles the engine components behind the public operations.
type Service struct {
	Contracts   *ContractResolver
	Calc        *Calculator
	Cascade     *CascadeRecalculator
	Adjustments *AdjustmentService

	Ledger      LedgerStore
	Allocations AllocationStore
	Versions    VersionStore

	// Segmented is an optional derived-view cache; nil disables caching.
	Segmented SegmentedCache

	now func() time.Time
}

// NewService wires the facade.
func NewService(
	contracts *ContractResolver,
	calc *Calculator,
	cascade *CascadeRecalculator,
	adjustments *AdjustmentService,
	ledger LedgerStore,
	allocations AllocationStore,
	versions VersionStore,
	segmented SegmentedCache,
) *Service {
	return &Service{
		Contracts:   contracts,
		Calc:        calc,
		Cascade:     cascade,
		Adjustments: adjustments,
		Ledger:      ledger,
		Allocations: allocations,
		Versions:    versions,
		Segmented:   segmented,
		now:         time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
		s.Cascade.WithClock(clock)
	}
}

// GetOrCalculate returns the live entry for the key, computing it (and
// any uncalculated months before it) on first access.
func (s *Service) GetOrCalculate(ctx context.Context, companyID string, month MonthKey) (*MonthlyLedgerEntry, error) {
	entry, err := s.Ledger.GetEntry(ctx, companyID, month)
	if err == nil {
		return entry, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	// Nothing stored yet: extend the chain from where it left off (or
	// from the contract start) through the requested month.
	start, err := s.chainStart(ctx, companyID, month)
	if err != nil {
		return nil, err
	}
	if _, err := s.Cascade.RunRange(ctx, companyID, start, month, ChangeRecalculation, "initial calculation", SystemActor); err != nil {
		return nil, err
	}
	return s.Ledger.GetEntry(ctx, companyID, month)
}

// Recalculate forces a cascade from the given month through the present
// and returns the freshly computed entry for the requested month.
func (s *Service) Recalculate(ctx context.Context, companyID string, month MonthKey, reason, actor string) (*MonthlyLedgerEntry, *CascadeResult, error) {
	if reason == "" {
		reason = "explicit recalculation"
	}
	if actor == "" {
		actor = SystemActor
	}
	result, err := s.Cascade.Recalculate(ctx, companyID, month, ChangeRecalculation, reason, actor)
	if err != nil {
		return nil, result, err
	}
	entry, err := s.Ledger.GetEntry(ctx, companyID, month)
	if err != nil {
		return nil, result, err
	}
	return entry, result, nil
}

// GetSegmented returns the per-allocation breakdown of a month,
// computing the consolidated entry first if needed. Served from the
// derived-view cache when one is wired and still valid.
func (s *Service) GetSegmented(ctx context.Context, companyID string, month MonthKey) ([]SegmentedLedgerEntry, error) {
	if s.Segmented != nil {
		if rows, ok, err := s.Segmented.CachedSegmented(ctx, companyID, month); err == nil && ok {
			return rows, nil
		}
	}

	entry, err := s.GetOrCalculate(ctx, companyID, month)
	if err != nil {
		return nil, err
	}
	allocations, err := s.Allocations.ActiveAllocations(ctx, companyID)
	if err != nil {
		return nil, err
	}
	rows, err := SplitEntry(entry, allocations)
	if err != nil {
		return nil, err
	}

	if s.Segmented != nil {
		// Cache is an optimization; a failed write never fails the read.
		_ = s.Segmented.PutSegmented(ctx, companyID, month, rows)
	}
	return rows, nil
}

// ListAllocations returns all of a company's allocations.
func (s *Service) ListAllocations(ctx context.Context, companyID string) ([]Allocation, error) {
	return s.Allocations.Allocations(ctx, companyID)
}

// ListVersions returns an entry's immutable history, oldest first.
func (s *Service) ListVersions(ctx context.Context, companyID string, month MonthKey) ([]Version, error) {
	return s.Versions.Versions(ctx, companyID, month)
}

// chainStart finds the first month needing calculation at or before the
// requested month.
func (s *Service) chainStart(ctx context.Context, companyID string, month MonthKey) (MonthKey, error) {
	latest, err := s.Ledger.LatestMonth(ctx, companyID)
	if err != nil {
		return MonthKey{}, err
	}
	if latest != nil && latest.Before(month) {
		return latest.Next(), nil
	}
	if latest != nil {
		// Requested month precedes the chain head but has no row:
		// recompute just that month's position in the chain.
		return month, nil
	}
	earliest, err := s.Contracts.EarliestEffectiveFrom(ctx, companyID)
	if err != nil {
		return MonthKey{}, err
	}
	if month.Before(earliest) {
		return MonthKey{}, &ContractNotConfiguredError{CompanyID: companyID, Month: month}
	}
	return earliest, nil
}
