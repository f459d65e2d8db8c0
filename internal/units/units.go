// Package units provides shared constants and validation for distance units
package units

// Unit constants
const (
	M  = "m"
	FT = "ft"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{M, FT}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "m, ft"
}

// ConvertDistance converts a distance from meters to the target units.
// The database and the wire always carry meters.
func ConvertDistance(distanceM float64, targetUnits string) float64 {
	switch targetUnits {
	case FT:
		return distanceM * 3.28084 // meters to feet
	case M:
		return distanceM
	default:
		return distanceM // default to meters if unknown unit
	}
}
