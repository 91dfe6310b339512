package period

import (
	"testing"
	"time"
)

func TestOf_UsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	ts := time.Date(2025, 1, 1, 1, 0, 0, 0, loc) // 2024-12-31 22:00 UTC

	p := Of(ts)
	if p.Month != 12 || p.Year != 2024 {
		t.Errorf("Expected 12/2024, got %s", p)
	}
}

func TestParse_Formats(t *testing.T) {
	cases := map[string]Period{
		"03/2025":  {Month: 3, Year: 2025},
		"3/2025":   {Month: 3, Year: 2025},
		"2025-11":  {Month: 11, Year: 2025},
		" 12/2024": {Month: 12, Year: 2024},
	}

	for input, expected := range cases {
		got, err := Parse(input)
		if err != nil {
			t.Fatalf("Failed to parse %q: %v", input, err)
		}
		if got != expected {
			t.Errorf("Parse(%q): expected %v, got %v", input, expected, got)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, input := range []string{"", "2025", "13/2025", "00/2025", "ab/2025", "03/1999"} {
		if _, err := Parse(input); err == nil {
			t.Errorf("Expected error for %q", input)
		}
	}
}

func TestPreviousNext_CrossYear(t *testing.T) {
	jan := Period{Month: 1, Year: 2025}
	if prev := jan.Previous(); prev != (Period{Month: 12, Year: 2024}) {
		t.Errorf("Expected 12/2024, got %s", prev)
	}
	dec := Period{Month: 12, Year: 2024}
	if next := dec.Next(); next != jan {
		t.Errorf("Expected 01/2025, got %s", next)
	}
	if !dec.Before(jan) || jan.Before(dec) {
		t.Error("Expected 12/2024 before 01/2025")
	}
}

func TestString(t *testing.T) {
	if s := (Period{Month: 4, Year: 2025}).String(); s != "04/2025" {
		t.Errorf("Expected 04/2025, got %s", s)
	}
}

func TestIsWithinInterval(t *testing.T) {
	prev := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	if !IsWithinInterval(prev, prev.AddDate(0, 0, 30), 25, 35) {
		t.Error("Expected 30 days to be within 25..35")
	}
	if IsWithinInterval(prev, prev.AddDate(0, 0, 10), 25, 35) {
		t.Error("Expected 10 days to be outside 25..35")
	}
	if IsWithinInterval(prev, prev.AddDate(0, 0, 40), 25, 35) {
		t.Error("Expected 40 days to be outside 25..35")
	}
}

func TestDueDayReached(t *testing.T) {
	if DueDayReached(time.Date(2025, 3, 24, 0, 0, 0, 0, time.UTC), 25) {
		t.Error("Expected day 24 to be before due day 25")
	}
	if !DueDayReached(time.Date(2025, 3, 25, 0, 0, 0, 0, time.UTC), 25) {
		t.Error("Expected day 25 to reach due day 25")
	}
}
