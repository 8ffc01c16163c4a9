package types

import (
	"fmt"
	"math"
	"strings"
)

// Unit is a radius unit accepted from users.
type Unit string

const (
	UnitKilometers Unit = "km"
	UnitMiles      Unit = "mi"
)

// MetersPerMile is the international mile.
const MetersPerMile = 1609.344

// ParseUnit accepts "km" or "mi" (case-insensitive). Empty means kilometers.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "km", "kilometers", "kilometres":
		return UnitKilometers, nil
	case "mi", "mile", "miles":
		return UnitMiles, nil
	default:
		return "", ValidationError{
			Code:     CodeInvalidUnits,
			Message:  fmt.Sprintf("unknown radius unit %q", s),
			Guidance: "Use km or mi",
		}
	}
}

// RadiusMeters converts a user-entered radius to meters.
// The value must be finite and greater than zero.
func RadiusMeters(value float64, unit Unit) (float64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return 0, ValidationError{
			Code:     CodeInvalidRadius,
			Message:  fmt.Sprintf("radius must be greater than 0, got %v", value),
			Guidance: "Enter a valid radius greater than 0",
		}
	}
	if unit == UnitMiles {
		return value * MetersPerMile, nil
	}
	return value * 1000, nil
}
