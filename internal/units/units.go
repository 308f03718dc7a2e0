// Package units converts the speeds recorded in m/s into display units.
package units

import "strings"

// Speed units accepted by Convert. Locations are always recorded and
// stored in m/s; conversion only happens at display time.
const (
	MetersPerSecond   = "mps"
	KilometersPerHour = "kmh"
	MilesPerHour      = "mph"
)

var valid = []string{MetersPerSecond, KilometersPerHour, MilesPerHour}

// IsValid reports whether unit names a supported speed unit.
func IsValid(unit string) bool {
	for _, v := range valid {
		if unit == v {
			return true
		}
	}
	return false
}

// Valid returns the supported unit names for error messages.
func Valid() string {
	return strings.Join(valid, ", ")
}

// Convert converts a speed in meters per second to the given unit.
// Unknown units pass the value through unchanged.
func Convert(speedMPS float64, unit string) float64 {
	switch unit {
	case KilometersPerHour:
		return speedMPS * 3.6
	case MilesPerHour:
		return speedMPS / 0.44704
	default:
		return speedMPS
	}
}
