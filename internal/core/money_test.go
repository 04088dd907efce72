package core

import (
	"encoding/json"
	"testing"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0", 0, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{" 2.50 ", 250, true},
		{"-1", -100, true},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || got.Cents != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got.Cents, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestAmountFromFloat(t *testing.T) {
	m, err := AmountFromFloat(19.99)
	if err != nil || m.Cents != 1999 {
		t.Fatalf("got %d err=%v", m.Cents, err)
	}
}

func TestMoneyDivRound(t *testing.T) {
	cases := []struct {
		cents int64
		n     int64
		want  int64
	}{
		{35000, 2, 17500},
		{35000, 15, 2333},
		{1000, 3, 333},
		{200, 3, 67},
		{500, 0, 0},
	}
	for _, tc := range cases {
		if got := (Money{Cents: tc.cents}).DivRound(tc.n); got.Cents != tc.want {
			t.Fatalf("%d/%d = %d, want %d", tc.cents, tc.n, got.Cents, tc.want)
		}
	}
}

func TestMoneyJSON(t *testing.T) {
	b, err := json.Marshal(Money{Cents: 2333})
	if err != nil || string(b) != "23.33" {
		t.Fatalf("marshal: %s err=%v", b, err)
	}
	var m Money
	if err := json.Unmarshal([]byte(`"12,50"`), &m); err != nil || m.Cents != 1250 {
		t.Fatalf("unmarshal string: %d err=%v", m.Cents, err)
	}
	if err := json.Unmarshal([]byte(`7.5`), &m); err != nil || m.Cents != 750 {
		t.Fatalf("unmarshal number: %d err=%v", m.Cents, err)
	}
}
