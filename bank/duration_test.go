/*
duration_test.go - Unit tests for signed H:MM duration parsing and math

CORE DESIGN:
- Durations are integer minutes; parse/format must round-trip exactly
- Negative values are data, not errors
- Strict parser rejects malformed input; lenient parser zeroes it
*/
package bank

import "testing"

// =============================================================================
// PARSING TESTS
// =============================================================================

func TestParseDuration_Strict(t *testing.T) {
	cases := []struct {
		in      string
		want    Duration
		wantErr bool
	}{
		{"100:00", 6000, false},
		{"0:00", 0, false},
		{"20:30", 1230, false},
		{"-30:15", -1815, false},
		{"+2:30", 150, false},
		{"8", 480, false},    // bare integer means whole hours
		{"-8", -480, false},
		{"2:75", 195, false}, // minute overflow normalizes to 3:15
		{" 1:00 ", 60, false},
		{"", 0, true},
		{"-", 0, true},
		{"abc", 0, true},
		{"1:xx", 0, true},
		{"1:-5", 0, true},
		{"1:-0", 0, true},
		{"--1:00", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDuration(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseDuration(%q): expected error, got %v", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDuration(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseDuration(%q) = %d minutes, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseDurationLenient_MalformedFallsBackToZero(t *testing.T) {
	// GIVEN: sloppy display-path input
	// WHEN: parsing leniently
	// THEN: malformed values become zero instead of an error
	if got := ParseDurationLenient("garbage"); got != 0 {
		t.Errorf("lenient parse of garbage = %v, want 0", got)
	}
	if got := ParseDurationLenient("10:30"); got != 630 {
		t.Errorf("lenient parse of valid input = %v, want 630", got)
	}
}

// =============================================================================
// FORMATTING TESTS
// =============================================================================

func TestDurationString_RoundTrip(t *testing.T) {
	// Every formatted duration must parse back to the same minute count.
	cases := []Duration{0, 1, 59, 60, 90, 1230, 6000, -1, -90, -1815, -6000, 6005}
	for _, d := range cases {
		parsed, err := ParseDuration(d.String())
		if err != nil {
			t.Errorf("round trip %d: parse %q failed: %v", d, d.String(), err)
			continue
		}
		if parsed != d {
			t.Errorf("round trip %d -> %q -> %d", d, d.String(), parsed)
		}
	}
}

func TestDurationString_Format(t *testing.T) {
	cases := []struct {
		d    Duration
		want string
	}{
		{0, "0:00"},
		{1230, "20:30"},
		{-90, "-1:30"},
		{6000, "100:00"},
		{6005, "100:05"},
	}
	for _, tc := range cases {
		if got := tc.d.String(); got != tc.want {
			t.Errorf("Duration(%d).String() = %q, want %q", tc.d, got, tc.want)
		}
	}
}

// =============================================================================
// ARITHMETIC TESTS
// =============================================================================

func TestDurationArithmetic_NeverClamps(t *testing.T) {
	// GIVEN: 10:00 available, 30:00 consumed
	// WHEN: subtracting
	// THEN: the result is -20:00, not zero
	balance := MustParseDuration("10:00").Sub(MustParseDuration("30:00"))
	if balance.String() != "-20:00" {
		t.Errorf("10:00 - 30:00 = %s, want -20:00", balance)
	}
	if !balance.IsNegative() {
		t.Error("expected negative balance")
	}
	if balance.Abs().String() != "20:00" {
		t.Errorf("abs = %s, want 20:00", balance.Abs())
	}
}

func TestDecimalHours(t *testing.T) {
	// 90 minutes must price as exactly 1.5 hours.
	got := Duration(90).DecimalHours()
	if got.String() != "1.5" {
		t.Errorf("90 minutes = %s hours, want 1.5", got)
	}
	if Duration(-30).DecimalHours().String() != "-0.5" {
		t.Errorf("-30 minutes = %s hours, want -0.5", Duration(-30).DecimalHours())
	}
}
