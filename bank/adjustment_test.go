/*
adjustment_test.go - Full-engine tests for manual adjustments

CORE DESIGN:
- No adjustment without a justification of at least 5 characters
- Quantities are magnitudes; direction carries the sign
- Every create/deactivate triggers a cascade from the adjusted month
- Deactivated adjustments drop out of aggregation but stay stored
*/
package bank_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warp/hoursbank/bank"
)

func adjustmentFixture(t *testing.T) *engine {
	t.Helper()
	e := newEngine(t)
	e.saveContract(hoursOnlyContract("acme", jan(), "100:00", 2))
	e.setRate("acme", bank.KindHours, "100")
	e.setUsage("acme", jan(), "80:00", 0)
	e.setUsage("acme", feb(), "130:00", 0)
	_, err := e.svc.GetOrCalculate(context.Background(), "acme", feb())
	require.NoError(t, err)
	return e
}

func TestAdjustment_Create_TriggersCascadeFromItsMonth(t *testing.T) {
	// GIVEN: Jan..Feb consolidated with a 10:00 overage in Feb
	// WHEN: crediting Jan with a 10:00 "in" adjustment
	// THEN: Jan and Feb recompute; the Feb overage disappears
	e := adjustmentFixture(t)

	adj, result, err := e.adjustments.Create(context.Background(), bank.CreateAdjustmentInput{
		CompanyID:     "acme",
		Month:         jan(),
		Direction:     bank.AdjustmentIn,
		Hours:         bank.MustParseDuration("10:00"),
		Justification: "credit for outage on our side",
		Actor:         "maria",
	})
	require.NoError(t, err)
	require.True(t, adj.Active)
	require.Contains(t, result.Recalculated, jan())
	require.Contains(t, result.Recalculated, feb())

	janEntry := e.entry("acme", jan())
	require.Equal(t, int64(600), janEntry.Hours.NetAdjustment)
	require.Equal(t, int64(4200), janEntry.Hours.TotalConsumption)
	require.Equal(t, int64(1800), janEntry.Hours.MonthlyBalance)
	require.Equal(t, 2, janEntry.Version)

	febEntry := e.entry("acme", feb())
	require.Equal(t, int64(0), febEntry.Hours.Overage, "the credit erased the deficit")
	require.True(t, febEntry.TotalToBill.IsZero())
	require.Equal(t, 2, febEntry.Version)
}

func TestAdjustment_OutDirection_IncreasesConsumption(t *testing.T) {
	e := adjustmentFixture(t)

	_, _, err := e.adjustments.Create(context.Background(), bank.CreateAdjustmentInput{
		CompanyID:     "acme",
		Month:         jan(),
		Direction:     bank.AdjustmentOut,
		Hours:         bank.MustParseDuration("5:00"),
		Justification: "work logged against the wrong company",
		Actor:         "maria",
	})
	require.NoError(t, err)

	janEntry := e.entry("acme", jan())
	require.Equal(t, int64(-300), janEntry.Hours.NetAdjustment)
	require.Equal(t, int64(5100), janEntry.Hours.TotalConsumption)
}

func TestAdjustment_ValidationRejections(t *testing.T) {
	e := adjustmentFixture(t)
	valid := bank.CreateAdjustmentInput{
		CompanyID:     "acme",
		Month:         jan(),
		Direction:     bank.AdjustmentIn,
		Hours:         bank.MustParseDuration("1:00"),
		Justification: "long enough",
		Actor:         "maria",
	}

	shortJustification := valid
	shortJustification.Justification = "ok"
	_, _, err := e.adjustments.Create(context.Background(), shortJustification)
	require.ErrorIs(t, err, bank.ErrInvalidAdjustment)

	emptyQuantities := valid
	emptyQuantities.Hours = 0
	_, _, err = e.adjustments.Create(context.Background(), emptyQuantities)
	require.ErrorIs(t, err, bank.ErrInvalidAdjustment)

	negativeMagnitude := valid
	negativeMagnitude.Hours = bank.MustParseDuration("-1:00")
	_, _, err = e.adjustments.Create(context.Background(), negativeMagnitude)
	require.ErrorIs(t, err, bank.ErrInvalidAdjustment)

	wrongKind := valid
	wrongKind.Hours = 0
	wrongKind.Tickets = 3 // hours-only contract
	_, _, err = e.adjustments.Create(context.Background(), wrongKind)
	require.ErrorIs(t, err, bank.ErrInvalidAdjustment)

	badDirection := valid
	badDirection.Direction = "sideways"
	_, _, err = e.adjustments.Create(context.Background(), badDirection)
	require.ErrorIs(t, err, bank.ErrInvalidAdjustment)
}

func TestAdjustment_Deactivate_RestoresOriginalFigures(t *testing.T) {
	// GIVEN: a credit that erased Feb's overage
	// WHEN: deactivating it
	// THEN: the original figures come back at a fresh version and the
	//       adjustment row survives, inactive, for audit
	e := adjustmentFixture(t)
	adj, _, err := e.adjustments.Create(context.Background(), bank.CreateAdjustmentInput{
		CompanyID:     "acme",
		Month:         jan(),
		Direction:     bank.AdjustmentIn,
		Hours:         bank.MustParseDuration("10:00"),
		Justification: "credit for outage on our side",
		Actor:         "maria",
	})
	require.NoError(t, err)

	deactivated, result, err := e.adjustments.Deactivate(context.Background(), adj.ID, "supervisor")
	require.NoError(t, err)
	require.False(t, deactivated.Active)
	require.Contains(t, result.Recalculated, feb())

	febEntry := e.entry("acme", feb())
	require.Equal(t, int64(600), febEntry.Hours.Overage)
	require.Equal(t, 3, febEntry.Version)

	listed, err := e.adjustments.ListForMonth(context.Background(), "acme", jan())
	require.NoError(t, err)
	require.Len(t, listed, 1, "deactivated adjustments stay stored")
	require.False(t, listed[0].Active)

	// Deactivating twice is a no-op.
	again, result, err := e.adjustments.Deactivate(context.Background(), adj.ID, "supervisor")
	require.NoError(t, err)
	require.Nil(t, result)
	require.False(t, again.Active)
}

func TestAdjustment_RejectedWhileRecalculationInFlight(t *testing.T) {
	// GIVEN: a recalculation blocked mid-flight on Feb's consumption fetch
	// WHEN: a January adjustment arrives concurrently
	// THEN: the creation is rejected whole - no row persists and the
	//       ledger is untouched once the blocked cascade finishes
	e := adjustmentFixture(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	e.onConsumption = func(_ string, month bank.MonthKey) {
		if month.Equal(feb()) {
			once.Do(func() { close(started) })
			<-release
		}
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := e.svc.Recalculate(context.Background(), "acme", jan(), "slow refresh", "ops")
		done <- err
	}()
	<-started

	adj, result, err := e.adjustments.Create(context.Background(), bank.CreateAdjustmentInput{
		CompanyID:     "acme",
		Month:         jan(),
		Direction:     bank.AdjustmentIn,
		Hours:         bank.MustParseDuration("10:00"),
		Justification: "credit for outage on our side",
		Actor:         "maria",
	})
	require.ErrorIs(t, err, bank.ErrRecalculationInFlight)
	require.Nil(t, adj)
	require.Nil(t, result)

	close(release)
	require.NoError(t, <-done)

	listed, err := e.adjustments.ListForMonth(context.Background(), "acme", jan())
	require.NoError(t, err)
	require.Empty(t, listed, "a rejected creation must leave no row behind")
	require.Equal(t, int64(0), e.entry("acme", jan()).Hours.NetAdjustment)
}

func TestAdjustment_UnknownID(t *testing.T) {
	e := adjustmentFixture(t)
	_, _, err := e.adjustments.Deactivate(context.Background(), "nope", "ops")
	require.ErrorIs(t, err, bank.ErrAdjustmentNotFound)
}

func TestAdjustment_AuditTrail(t *testing.T) {
	e := adjustmentFixture(t)
	_, _, err := e.adjustments.Create(context.Background(), bank.CreateAdjustmentInput{
		CompanyID:     "acme",
		Month:         jan(),
		Direction:     bank.AdjustmentIn,
		Hours:         bank.MustParseDuration("2:00"),
		Justification: "goodwill credit",
		Actor:         "maria",
	})
	require.NoError(t, err)

	companyID := "acme"
	entries, err := e.store.QueryAudit(context.Background(), bank.AuditFilter{
		CompanyID: &companyID,
		Actions:   []bank.AuditAction{bank.AuditAdjustmentCreated},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "maria", entries[0].ActorID)
	require.Equal(t, "goodwill credit", entries[0].Description)
}
