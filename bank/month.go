/*
month.go - Month keys and assessment-cycle geometry

PURPOSE:
  The ledger is keyed by calendar month, and billing cycles are windows
  of N consecutive months counted from the contract's effective month.
  MonthKey gives month arithmetic without day-of-month noise; the cycle
  helpers answer "where inside the cycle window is this month?".

CYCLE-END RULE:
  A month is a cycle end iff
      (monthsSince(effectiveFrom) + 1) % assessmentPeriodMonths == 0
  i.e. the window is a fixed calendar grid anchored at EffectiveFrom.
  The special-rollover cycle counter does NOT move the cycle boundary;
  it only decides what happens to surplus at the boundary (rollover.go).
*/
package bank

import (
	"fmt"
	"time"
)

// MonthKey identifies one calendar month.
type MonthKey struct {
	Year  int
	Month time.Month
}

// NewMonthKey builds a key, normalizing out-of-range months the way
// time.Date does (month 13 of 2024 becomes January 2025).
func NewMonthKey(year int, month time.Month) MonthKey {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// MonthKeyOf returns the month containing t.
func MonthKeyOf(t time.Time) MonthKey {
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// ParseMonthKey parses "2006-01".
func ParseMonthKey(s string) (MonthKey, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return MonthKey{}, fmt.Errorf("parse month: %q is not YYYY-MM", s)
	}
	return MonthKeyOf(t), nil
}

func (m MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// index counts months since year zero, for ordering and distance.
func (m MonthKey) index() int { return m.Year*12 + int(m.Month) - 1 }

func (m MonthKey) Before(o MonthKey) bool        { return m.index() < o.index() }
func (m MonthKey) After(o MonthKey) bool         { return m.index() > o.index() }
func (m MonthKey) Equal(o MonthKey) bool         { return m.index() == o.index() }
func (m MonthKey) BeforeOrEqual(o MonthKey) bool { return m.index() <= o.index() }
func (m MonthKey) AfterOrEqual(o MonthKey) bool  { return m.index() >= o.index() }

// MonthsSince returns the signed number of months from o to m.
func (m MonthKey) MonthsSince(o MonthKey) int { return m.index() - o.index() }

func (m MonthKey) Next() MonthKey { return NewMonthKey(m.Year, m.Month+1) }
func (m MonthKey) Prev() MonthKey { return NewMonthKey(m.Year, m.Month-1) }

// IsZero reports an unset key.
func (m MonthKey) IsZero() bool { return m.Year == 0 && m.Month == 0 }

// =============================================================================
// CYCLE GEOMETRY
// =============================================================================

// CyclePosition locates month inside the contract's assessment window.
// position is 1-based (1..AssessmentPeriodMonths). Months before
// EffectiveFrom report position 0 and are never cycle ends.
func CyclePosition(params ContractParameters, month MonthKey) (position int, isCycleEnd bool) {
	elapsed := month.MonthsSince(params.EffectiveFrom)
	if elapsed < 0 {
		return 0, false
	}
	length := params.AssessmentPeriodMonths
	if length < 1 {
		length = 1
	}
	position = elapsed%length + 1
	return position, position == length
}

// LaterMonth returns the later of two keys.
func LaterMonth(a, b MonthKey) MonthKey {
	if a.After(b) {
		return a
	}
	return b
}
