/*
contract.go - Contract parameter resolution

PURPOSE:
  A company's contract configuration changes over time: baselines get
  renegotiated, cycle lengths change, special rollover gets switched on.
  Each change is a new parameter version stamped with EffectiveFrom.
  The resolver answers "which configuration governs month M?" - the
  version with the latest EffectiveFrom at or before M.
*/
package bank

import (
	"context"
	"sort"
)

// ContractResolver selects the parameter version effective for a month.
type ContractResolver struct {
	Store ContractStore
}

// NewContractResolver constructs a resolver over the given store.
func NewContractResolver(store ContractStore) *ContractResolver {
	return &ContractResolver{Store: store}
}

// Resolve returns the ContractParameters effective for the company at
// the target month: the version whose EffectiveFrom is the latest month
// at or before the target. ErrContractNotConfigured if none qualifies.
func (r *ContractResolver) Resolve(ctx context.Context, companyID string, month MonthKey) (ContractParameters, error) {
	history, err := r.Store.ContractHistory(ctx, companyID)
	if err != nil {
		return ContractParameters{}, err
	}
	return EffectiveParameters(history, companyID, month)
}

// EffectiveParameters picks the governing version from a history slice.
// Split out so the calculator can resolve against an already-loaded
// history without another store round trip.
func EffectiveParameters(history []ContractParameters, companyID string, month MonthKey) (ContractParameters, error) {
	candidates := history[:0:0]
	for _, p := range history {
		if p.EffectiveFrom.BeforeOrEqual(month) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return ContractParameters{}, &ContractNotConfiguredError{CompanyID: companyID, Month: month}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].EffectiveFrom.Before(candidates[j].EffectiveFrom)
	})
	return candidates[len(candidates)-1], nil
}

// EarliestEffectiveFrom returns the first month any contract version of
// the company covers, used to anchor first-time calculations.
func (r *ContractResolver) EarliestEffectiveFrom(ctx context.Context, companyID string) (MonthKey, error) {
	history, err := r.Store.ContractHistory(ctx, companyID)
	if err != nil {
		return MonthKey{}, err
	}
	if len(history) == 0 {
		return MonthKey{}, &ContractNotConfiguredError{CompanyID: companyID}
	}
	earliest := history[0].EffectiveFrom
	for _, p := range history[1:] {
		if p.EffectiveFrom.Before(earliest) {
			earliest = p.EffectiveFrom
		}
	}
	return earliest, nil
}
