package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNormalizeWeightKg(t *testing.T) {
	cases := []struct {
		value string
		unit  string
		want  string
		canon string
	}{
		{"1200", "", "1200", "kg"},
		{"1500", "g", "1.5", "g"},
		{"1", "lb", "0.454", "lb"},
		{"2.5", "Tonne", "2500", "tonne"},
		{"3", "mt", "3000", "mt"},
	}
	for _, tc := range cases {
		got, canon, err := NormalizeWeightKg(decimal.RequireFromString(tc.value), tc.unit)
		if err != nil {
			t.Fatalf("NormalizeWeightKg(%s, %q): %v", tc.value, tc.unit, err)
		}
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("NormalizeWeightKg(%s, %q) = %s, want %s", tc.value, tc.unit, got, tc.want)
		}
		if canon != tc.canon {
			t.Fatalf("unit = %q, want %q", canon, tc.canon)
		}
	}
}

func TestNormalizeWeightKgRejectsUnknownUnit(t *testing.T) {
	if _, _, err := NormalizeWeightKg(decimal.NewFromInt(1), "stone"); err == nil {
		t.Fatalf("expected error for unknown unit")
	}
}
