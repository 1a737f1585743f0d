package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var kgPerUnit = map[string]decimal.Decimal{
	"kg":    decimal.NewFromInt(1),
	"kgs":   decimal.NewFromInt(1),
	"g":     decimal.RequireFromString("0.001"),
	"lb":    decimal.RequireFromString("0.45359237"),
	"lbs":   decimal.RequireFromString("0.45359237"),
	"t":     decimal.NewFromInt(1000),
	"ton":   decimal.NewFromInt(1000),
	"tonne": decimal.NewFromInt(1000),
	"mt":    decimal.NewFromInt(1000),
}

// NormalizeWeightKg converts value in unit to kilograms rounded to 3 places.
// A blank unit means kg. The canonical unit spelling is returned for audit.
func NormalizeWeightKg(value decimal.Decimal, unit string) (decimal.Decimal, string, error) {
	u := strings.ToLower(strings.TrimSpace(unit))
	if u == "" {
		u = "kg"
	}
	factor, ok := kgPerUnit[u]
	if !ok {
		return decimal.Zero, "", fmt.Errorf("unsupported weight unit %q", unit)
	}
	return value.Mul(factor).Round(3), u, nil
}
