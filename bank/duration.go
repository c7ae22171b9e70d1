/*
duration.go - Signed H:MM duration arithmetic

PURPOSE:
  Every quantity of contracted or consumed time in the bank is a signed
  duration expressed on the wire as "H:MM" (e.g. "100:00", "-30:15") or
  as a bare integer meaning whole hours. Internally a Duration is a
  minute count, so addition and subtraction are exact integer math and
  never lose precision.

NEGATIVE DURATIONS:
  Deficits are first-class values. "-30:00" parses to -1800 minutes and
  -1800 minutes formats back to "-30:00". Arithmetic never clamps at
  zero - a negative monthly balance is meaningful data, not an error.

TWO PARSERS:
  ParseDuration        Strict. Malformed input returns an error. Used on
                       the ledger path where an un-parseable external
                       value is a data-quality problem, never a zero.
  ParseDurationLenient Forgiving. Malformed input falls back to zero.
                       Used for display-path input where the legacy
                       system tolerated sloppy values. Minute parts of
                       60 or more normalize in both parsers ("2:75"
                       means "3:15").

SEE ALSO:
  - billing.go: converts minute counts to decimal hours for pricing
  - calculator.go: the consumers of strict parsing
*/
package bank

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Duration is a signed number of minutes.
type Duration int64

// =============================================================================
// PARSING
// =============================================================================

// ParseDuration parses "[-]H:MM" or a bare integer (whole hours) into a
// Duration. A minute part of 60 or more is normalized into the hour part.
// Malformed input returns an error; ledger-path callers must surface it.
func ParseDuration(s string) (Duration, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("parse duration: empty input")
	}

	negative := false
	if strings.HasPrefix(trimmed, "-") {
		negative = true
		trimmed = trimmed[1:]
	} else if strings.HasPrefix(trimmed, "+") {
		trimmed = trimmed[1:]
	}
	if trimmed == "" {
		return 0, fmt.Errorf("parse duration: sign without value in %q", s)
	}

	var hours, minutes int64
	if h, m, ok := strings.Cut(trimmed, ":"); ok {
		var err error
		hours, err = strconv.ParseInt(h, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse duration: bad hour part in %q", s)
		}
		minutes, err = strconv.ParseInt(m, 10, 64)
		if err != nil || minutes < 0 {
			return 0, fmt.Errorf("parse duration: bad minute part in %q", s)
		}
	} else {
		var err error
		hours, err = strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse duration: not a duration: %q", s)
		}
	}
	if hours < 0 {
		return 0, fmt.Errorf("parse duration: misplaced sign in %q", s)
	}

	total := hours*60 + minutes
	if negative {
		total = -total
	}
	return Duration(total), nil
}

// ParseDurationLenient parses like ParseDuration but falls back to a zero
// duration on malformed input. Display-path only.
func ParseDurationLenient(s string) Duration {
	d, err := ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// MustParseDuration parses or panics. Test and fixture helper.
func MustParseDuration(s string) Duration {
	d, err := ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}

// =============================================================================
// FORMATTING
// =============================================================================

// String formats the duration as "[-]H:MM". Hours are unpadded, minutes
// always two digits: 1230 minutes -> "20:30", -90 minutes -> "-1:30".
func (d Duration) String() string {
	minutes := int64(d)
	sign := ""
	if minutes < 0 {
		sign = "-"
		minutes = -minutes
	}
	return fmt.Sprintf("%s%d:%02d", sign, minutes/60, minutes%60)
}

// =============================================================================
// ARITHMETIC - exact, never clamped
// =============================================================================

func (d Duration) Add(o Duration) Duration { return d + o }
func (d Duration) Sub(o Duration) Duration { return d - o }
func (d Duration) Neg() Duration           { return -d }
func (d Duration) IsNegative() bool        { return d < 0 }
func (d Duration) IsZero() bool            { return d == 0 }
func (d Duration) Minutes() int64          { return int64(d) }

// Abs returns the magnitude of the duration.
func (d Duration) Abs() Duration {
	if d < 0 {
		return -d
	}
	return d
}

// DecimalHours returns the duration as fractional hours for pricing.
// 90 minutes -> 1.5. Exact: decimal division, no float round-trip.
func (d Duration) DecimalHours() decimal.Decimal {
	return decimal.NewFromInt(int64(d)).Div(decimal.NewFromInt(60))
}
