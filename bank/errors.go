/*
errors.go - Centralized error taxonomy for the bank engine

PURPOSE:
  All engine error types in one place. Callers branch with errors.Is /
  errors.As; the HTTP layer maps these onto status codes.

ERROR CATEGORIES:
  1. Configuration errors - contract or rate missing (fatal per month)
  2. Validation errors    - rejected before persistence
  3. Data-source errors   - recoverable, caller may retry
  4. Concurrency errors   - recalculation lock contention

PROPAGATION POLICY:
  Nothing on the monetary or duration path is ever swallowed into a
  default/zero value. Data-source and rate errors abort the affected
  month and carry company+month context so the cascade can resume there.
*/
package bank

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - use with errors.Is()
// =============================================================================

var (
	// ErrContractNotConfigured is returned when no contract parameters
	// exist for a company at or before the target month.
	ErrContractNotConfigured = errors.New("contract not configured")

	// ErrRateNotFound is returned when a cycle-end deficit cannot be
	// priced. Fatal for that month: overage is never silently zero.
	ErrRateNotFound = errors.New("rate not found")

	// ErrInvalidAdjustment is returned for adjustments rejected before
	// persistence (missing justification, empty value, wrong kind).
	ErrInvalidAdjustment = errors.New("invalid adjustment")

	// ErrInvalidContract is returned for structurally invalid parameters.
	ErrInvalidContract = errors.New("invalid contract parameters")

	// ErrDataSourceUnavailable is returned when a consumption or billed
	// requirements fetch fails. Recoverable; never substituted by zero.
	ErrDataSourceUnavailable = errors.New("data source unavailable")

	// ErrRecalculationInFlight is returned when a second recalculation
	// for the same company arrives while one is running.
	ErrRecalculationInFlight = errors.New("recalculation already in progress")

	// ErrEntryNotFound is returned when no ledger entry exists for a key.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrAdjustmentNotFound is returned for an unknown adjustment id.
	ErrAdjustmentNotFound = errors.New("adjustment not found")

	// ErrAllocationOversubscribed is returned when active allocation
	// shares of one company sum above 100 percent.
	ErrAllocationOversubscribed = errors.New("allocation shares exceed 100 percent")
)

// =============================================================================
// STRUCTURED ERRORS - carry company/month context
// =============================================================================

// ContractNotConfiguredError identifies the unresolvable company+month.
type ContractNotConfiguredError struct {
	CompanyID string
	Month     MonthKey
}

func (e *ContractNotConfiguredError) Error() string {
	return fmt.Sprintf("contract not configured for company %s at %s", e.CompanyID, e.Month)
}

func (e *ContractNotConfiguredError) Unwrap() error { return ErrContractNotConfigured }

// InvalidContractError explains a structural parameter violation.
type InvalidContractError struct {
	CompanyID string
	Reason    string
}

func (e *InvalidContractError) Error() string {
	if e.CompanyID == "" {
		return "invalid contract parameters: " + e.Reason
	}
	return fmt.Sprintf("invalid contract parameters for company %s: %s", e.CompanyID, e.Reason)
}

func (e *InvalidContractError) Unwrap() error { return ErrInvalidContract }

// RateNotFoundError identifies the unpriceable overage. The remediation
// is operational, not programmatic: configure a rate for the period.
type RateNotFoundError struct {
	CompanyID string
	Month     MonthKey
	Kind      Kind
}

func (e *RateNotFoundError) Error() string {
	return fmt.Sprintf("no %s rate configured for company %s at %s; configure a rate to bill the overage",
		e.Kind, e.CompanyID, e.Month)
}

func (e *RateNotFoundError) Unwrap() error { return ErrRateNotFound }

// InvalidAdjustmentError explains why an adjustment was rejected.
type InvalidAdjustmentError struct {
	Reason string
}

func (e *InvalidAdjustmentError) Error() string {
	return "invalid adjustment: " + e.Reason
}

func (e *InvalidAdjustmentError) Unwrap() error { return ErrInvalidAdjustment }

// DataSourceError wraps a failed external fetch with its origin.
type DataSourceError struct {
	Source    string // "consumption" or "billed-requirements"
	CompanyID string
	Month     MonthKey
	Err       error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("%s source failed for company %s at %s: %v", e.Source, e.CompanyID, e.Month, e.Err)
}

func (e *DataSourceError) Unwrap() error { return ErrDataSourceUnavailable }

// CascadeHaltedError reports a cascade that stopped partway. Months in
// Recalculated stay committed; the chain can resume at HaltedAt once the
// underlying cause is fixed.
type CascadeHaltedError struct {
	CompanyID    string
	HaltedAt     MonthKey
	Recalculated []MonthKey
	Err          error
}

func (e *CascadeHaltedError) Error() string {
	return fmt.Sprintf("cascade for company %s halted at %s after %d month(s): %v",
		e.CompanyID, e.HaltedAt, len(e.Recalculated), e.Err)
}

func (e *CascadeHaltedError) Unwrap() error { return e.Err }

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// IsRetryable reports whether the error might succeed on a later attempt
// without operator intervention.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDataSourceUnavailable) ||
		errors.Is(err, ErrRecalculationInFlight)
}

// IsClientError reports whether the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAdjustment) ||
		errors.Is(err, ErrInvalidContract) ||
		errors.Is(err, ErrAllocationOversubscribed)
}

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrAdjustmentNotFound) ||
		errors.Is(err, ErrContractNotConfigured)
}
