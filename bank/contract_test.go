/*
contract_test.go - Unit tests for contract parameter resolution

CORE DESIGN:
- The version with the latest EffectiveFrom at or before the target
  month governs; later versions are invisible to earlier months
*/
package bank

import (
	"context"
	"errors"
	"testing"
	"time"
)

// historyStub serves a fixed parameter history.
type historyStub []ContractParameters

func (h historyStub) ContractHistory(context.Context, string) ([]ContractParameters, error) {
	return h, nil
}

func (h historyStub) SaveContract(context.Context, ContractParameters) error { return nil }

func hoursParams(companyID string, effective MonthKey, baselineMinutes Duration) ContractParameters {
	return ContractParameters{
		CompanyID:              companyID,
		Kind:                   ContractHours,
		AssessmentPeriodMonths: 2,
		EffectiveFrom:          effective,
		HoursBaseline:          &baselineMinutes,
		CurrentCycleIndex:      1,
	}
}

func TestResolve_LatestEffectiveVersionWins(t *testing.T) {
	// GIVEN: a contract renegotiated in June (baseline 100:00 -> 120:00)
	// WHEN: resolving March and July
	// THEN: March sees the old baseline, July the new one
	stub := historyStub{
		hoursParams("acme", NewMonthKey(2025, time.January), 6000),
		hoursParams("acme", NewMonthKey(2025, time.June), 7200),
	}
	resolver := NewContractResolver(stub)

	march, err := resolver.Resolve(context.Background(), "acme", NewMonthKey(2025, time.March))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if march.HoursBaseline.Minutes() != 6000 {
		t.Errorf("March baseline = %d, want 6000", march.HoursBaseline.Minutes())
	}

	july, err := resolver.Resolve(context.Background(), "acme", NewMonthKey(2025, time.July))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if july.HoursBaseline.Minutes() != 7200 {
		t.Errorf("July baseline = %d, want 7200", july.HoursBaseline.Minutes())
	}
}

func TestResolve_BeforeFirstVersion_NotConfigured(t *testing.T) {
	stub := historyStub{hoursParams("acme", NewMonthKey(2025, time.June), 6000)}
	resolver := NewContractResolver(stub)

	_, err := resolver.Resolve(context.Background(), "acme", NewMonthKey(2025, time.January))
	if !errors.Is(err, ErrContractNotConfigured) {
		t.Errorf("got %v, want ErrContractNotConfigured", err)
	}
	var notConfigured *ContractNotConfiguredError
	if !errors.As(err, &notConfigured) {
		t.Fatal("expected structured ContractNotConfiguredError")
	}
	if notConfigured.CompanyID != "acme" {
		t.Errorf("error names company %q", notConfigured.CompanyID)
	}
}

func TestResolve_EmptyHistory_NotConfigured(t *testing.T) {
	resolver := NewContractResolver(historyStub{})
	_, err := resolver.Resolve(context.Background(), "ghost", NewMonthKey(2025, time.January))
	if !errors.Is(err, ErrContractNotConfigured) {
		t.Errorf("got %v, want ErrContractNotConfigured", err)
	}
}

func TestEarliestEffectiveFrom(t *testing.T) {
	stub := historyStub{
		hoursParams("acme", NewMonthKey(2025, time.June), 7200),
		hoursParams("acme", NewMonthKey(2024, time.November), 6000),
	}
	resolver := NewContractResolver(stub)

	earliest, err := resolver.EarliestEffectiveFrom(context.Background(), "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !earliest.Equal(NewMonthKey(2024, time.November)) {
		t.Errorf("earliest = %s, want 2024-11", earliest)
	}
}

// =============================================================================
// PARAMETER VALIDATION TESTS
// =============================================================================

func TestContractParameters_Validate(t *testing.T) {
	base := hoursParams("acme", NewMonthKey(2025, time.January), 6000)
	if err := base.Validate(); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}

	noBaseline := base
	noBaseline.HoursBaseline = nil
	if err := noBaseline.Validate(); !errors.Is(err, ErrInvalidContract) {
		t.Errorf("hours contract without baseline: got %v", err)
	}

	badPeriod := base
	badPeriod.AssessmentPeriodMonths = 13
	if err := badPeriod.Validate(); !errors.Is(err, ErrInvalidContract) {
		t.Errorf("13-month period: got %v", err)
	}

	strayTickets := base
	tickets := int64(10)
	strayTickets.TicketsBaseline = &tickets
	if err := strayTickets.Validate(); !errors.Is(err, ErrInvalidContract) {
		t.Errorf("tickets baseline on hours contract: got %v", err)
	}

	specialNoZeroing := base
	specialNoZeroing.HasSpecialRollover = true
	specialNoZeroing.MonthlyRolloverPercent = 50
	if err := specialNoZeroing.Validate(); !errors.Is(err, ErrInvalidContract) {
		t.Errorf("special rollover without zeroing cadence: got %v", err)
	}
}
