// Package store provides an in-memory implementation of the bank's
// persistence interfaces, for tests and local development. Semantics
// mirror the SQLite store: one live ledger row per key, append-only
// versions and audit, soft-deactivated adjustments, and segmented-view
// cache rows invalidated on every ledger write.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/hoursbank/bank"
)

type ledgerKey struct {
	CompanyID string
	Month     bank.MonthKey
}

// Memory implements ContractStore, LedgerStore, AdjustmentStore,
// AllocationStore, VersionStore, AuditLog and SegmentedCache.
type Memory struct {
	mu          sync.RWMutex
	contracts   map[string][]bank.ContractParameters
	entries     map[ledgerKey]*bank.MonthlyLedgerEntry
	adjustments map[string]bank.Adjustment
	allocations map[string][]bank.Allocation
	versions    map[ledgerKey][]bank.Version
	audit       []bank.AuditEntry
	segmented   map[ledgerKey][]bank.SegmentedLedgerEntry
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		contracts:   make(map[string][]bank.ContractParameters),
		entries:     make(map[ledgerKey]*bank.MonthlyLedgerEntry),
		adjustments: make(map[string]bank.Adjustment),
		allocations: make(map[string][]bank.Allocation),
		versions:    make(map[ledgerKey][]bank.Version),
		segmented:   make(map[ledgerKey][]bank.SegmentedLedgerEntry),
	}
}

// =============================================================================
// CONTRACT STORE
// =============================================================================

func (m *Memory) ListCompanyIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.contracts))
	for id := range m.contracts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) ContractHistory(_ context.Context, companyID string) ([]bank.ContractParameters, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.contracts[companyID]
	out := make([]bank.ContractParameters, len(history))
	copy(out, history)
	return out, nil
}

func (m *Memory) SaveContract(_ context.Context, params bank.ContractParameters) error {
	if err := params.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts[params.CompanyID] = append(m.contracts[params.CompanyID], params)
	return nil
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Memory) GetEntry(_ context.Context, companyID string, month bank.MonthKey) (*bank.MonthlyLedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[ledgerKey{companyID, month}]
	if !ok {
		return nil, bank.ErrEntryNotFound
	}
	return entry.Clone(), nil
}

func (m *Memory) PutEntry(_ context.Context, entry *bank.MonthlyLedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[ledgerKey{entry.CompanyID, entry.Month}] = entry.Clone()

	// Ledger writes invalidate the company's derived caches.
	for k := range m.segmented {
		if k.CompanyID == entry.CompanyID {
			delete(m.segmented, k)
		}
	}
	return nil
}

func (m *Memory) LatestMonth(_ context.Context, companyID string) (*bank.MonthKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *bank.MonthKey
	for k := range m.entries {
		if k.CompanyID != companyID {
			continue
		}
		month := k.Month
		if latest == nil || month.After(*latest) {
			latest = &month
		}
	}
	return latest, nil
}

// =============================================================================
// ADJUSTMENT STORE
// =============================================================================

func (m *Memory) CreateAdjustment(_ context.Context, adj bank.Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adjustments[adj.ID] = adj
	return nil
}

func (m *Memory) GetAdjustment(_ context.Context, id string) (*bank.Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	adj, ok := m.adjustments[id]
	if !ok {
		return nil, bank.ErrAdjustmentNotFound
	}
	out := adj
	return &out, nil
}

func (m *Memory) SetAdjustmentActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	adj, ok := m.adjustments[id]
	if !ok {
		return bank.ErrAdjustmentNotFound
	}
	adj.Active = active
	m.adjustments[id] = adj
	return nil
}

func (m *Memory) AdjustmentsForMonth(_ context.Context, companyID string, month bank.MonthKey) ([]bank.Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []bank.Adjustment
	for _, adj := range m.adjustments {
		if adj.CompanyID == companyID && adj.Month.Equal(month) {
			out = append(out, adj)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// ALLOCATION STORE
// =============================================================================

func (m *Memory) Allocations(_ context.Context, companyID string) ([]bank.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]bank.Allocation, len(m.allocations[companyID]))
	copy(out, m.allocations[companyID])
	return out, nil
}

func (m *Memory) ActiveAllocations(_ context.Context, companyID string) ([]bank.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []bank.Allocation
	for _, a := range m.allocations[companyID] {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) SaveAllocation(_ context.Context, alloc bank.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.allocations[alloc.CompanyID]
	for i, existing := range list {
		if existing.ID == alloc.ID {
			list[i] = alloc
			return nil
		}
	}
	m.allocations[alloc.CompanyID] = append(list, alloc)
	return nil
}

// =============================================================================
// VERSION STORE - append-only
// =============================================================================

func (m *Memory) AppendVersion(_ context.Context, v bank.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := ledgerKey{v.CompanyID, v.Month}
	m.versions[k] = append(m.versions[k], v)
	return nil
}

func (m *Memory) Versions(_ context.Context, companyID string, month bank.MonthKey) ([]bank.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k := ledgerKey{companyID, month}
	out := make([]bank.Version, len(m.versions[k]))
	copy(out, m.versions[k])
	sort.Slice(out, func(i, j int) bool { return out[i].ToVersion < out[j].ToVersion })
	return out, nil
}

// =============================================================================
// AUDIT LOG - append-only
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry bank.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, filter bank.AuditFilter) ([]bank.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []bank.AuditEntry
	for _, e := range m.audit {
		if filter.CompanyID != nil && e.CompanyID != *filter.CompanyID {
			continue
		}
		if filter.ActorID != nil && e.ActorID != *filter.ActorID {
			continue
		}
		if len(filter.Actions) > 0 && !containsAction(filter.Actions, e.Action) {
			continue
		}
		if filter.From != nil && e.Timestamp.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.Timestamp.After(*filter.To) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func containsAction(actions []bank.AuditAction, a bank.AuditAction) bool {
	for _, candidate := range actions {
		if candidate == a {
			return true
		}
	}
	return false
}

// =============================================================================
// SEGMENTED CACHE
// =============================================================================

func (m *Memory) PutSegmented(_ context.Context, companyID string, month bank.MonthKey, rows []bank.SegmentedLedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]bank.SegmentedLedgerEntry, len(rows))
	copy(stored, rows)
	m.segmented[ledgerKey{companyID, month}] = stored
	return nil
}

func (m *Memory) CachedSegmented(_ context.Context, companyID string, month bank.MonthKey) ([]bank.SegmentedLedgerEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.segmented[ledgerKey{companyID, month}]
	if !ok {
		return nil, false, nil
	}
	out := make([]bank.SegmentedLedgerEntry, len(rows))
	copy(out, rows)
	return out, true, nil
}
