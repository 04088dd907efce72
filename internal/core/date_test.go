package core

import (
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}
	n := DateNormalizer{Location: rome}
	cases := []struct {
		in   string
		want DayKey
	}{
		{"2024-01-05", "2024-01-05"},
		{" 2024-01-05 ", "2024-01-05"},
		{"2024-01-05T10:30:00Z", "2024-01-05"},
		{"2024-01-05T23:30:00Z", "2024-01-06"}, // already the 6th in Rome
		{"2024-01-05T23:30:00.123+01:00", "2024-01-05"},
		{"2024-01-05T08:00:00", "2024-01-05"},
		{"2024-01-05 08:00", "2024-01-05"},
		{"2024-1-5", "2024-01-05"},
		{"1/5/2024", "2024-01-05"},
		{"2024-03", "2024-03-01"},
		{"2024", "2024-01-01"},
		{"2024-02-30", InvalidDay},
		{"", InvalidDay},
		{"yesterday", InvalidDay},
	}
	for _, tc := range cases {
		if got := n.Normalize(tc.in); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeCanonicalIgnoresLocation(t *testing.T) {
	for _, loc := range []*time.Location{time.UTC, time.FixedZone("minus12", -12*3600), time.FixedZone("plus14", 14*3600)} {
		n := DateNormalizer{Location: loc}
		if got := n.Normalize("2024-06-30"); got != "2024-06-30" {
			t.Fatalf("%s: got %q", loc, got)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	n := DateNormalizer{Location: time.FixedZone("x", -5*3600)}
	inputs := []string{"2024-01-05", "2024-01-05T02:00:00Z", "2024-7-4", "12/31/2023", "2024-03", "garbage", ""}
	for _, in := range inputs {
		once := n.Normalize(in)
		twice := n.Normalize(string(once))
		if once != twice {
			t.Fatalf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestSameDay(t *testing.T) {
	n := DateNormalizer{Location: time.UTC}
	if !n.SameDay("2024-01-05T01:00:00Z", "2024-01-05T23:59:59Z") {
		t.Fatalf("instants on the same day should match")
	}
	if !n.SameDay("2024-01-05", "2024-01-05T12:00:00Z") {
		t.Fatalf("key and timestamp on the same day should match")
	}
	if n.SameDay("2024-01-05", "2024-01-06") {
		t.Fatalf("different days should not match")
	}
	if n.SameDay("bad", "bad") {
		t.Fatalf("invalid dates never match")
	}

	// equivalence relation over a sample
	sample := []string{"2024-01-05", "2024-01-05T08:00:00Z", "2024-1-5", "2024-01-06", "1/6/2024"}
	for _, a := range sample {
		if !n.SameDay(a, a) {
			t.Fatalf("not reflexive for %q", a)
		}
		for _, b := range sample {
			if n.SameDay(a, b) != n.SameDay(b, a) {
				t.Fatalf("not symmetric for %q %q", a, b)
			}
			for _, c := range sample {
				if n.SameDay(a, b) && n.SameDay(b, c) && !n.SameDay(a, c) {
					t.Fatalf("not transitive for %q %q %q", a, b, c)
				}
			}
		}
	}
}

func TestCompareDesc(t *testing.T) {
	if CompareDesc("2024-01-02", "2024-01-01") != -1 {
		t.Fatalf("newer day should sort first")
	}
	if CompareDesc("2024-01-01", "2024-01-02") != 1 {
		t.Fatalf("older day should sort last")
	}
	if CompareDesc("2024-01-01", "2024-01-01") != 0 {
		t.Fatalf("equal days compare 0")
	}
	if CompareDesc(InvalidDay, "1999-01-01") != 1 {
		t.Fatalf("invalid day should sort last")
	}
}
