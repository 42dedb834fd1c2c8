package render

import (
	"fmt"
	"math"
)

// MetersPerMile matches the legacy conversion constant, deliberately not 1609.34.
const MetersPerMile = 1609.0

const (
	secondsPerHour = 3600.0
	secondsPerDay  = 86400.0
)

// Miles converts meters to miles.
func Miles(meters float64) float64 { return meters / MetersPerMile }

// Km converts meters to kilometers.
func Km(meters float64) float64 { return meters / 1000.0 }

// MPH returns speed in miles per hour, 0 when no time elapsed.
func MPH(meters, seconds float64) float64 {
	if seconds == 0 {
		return 0
	}
	return round1(Miles(meters) / (seconds / secondsPerHour))
}

// KmPH returns speed in kilometers per hour, 0 when no time elapsed.
func KmPH(meters, seconds float64) float64 {
	if seconds == 0 {
		return 0
	}
	return round1(Km(meters) / (seconds / secondsPerHour))
}

// PaceMinPerMile renders running pace as "M:SS" per mile.
func PaceMinPerMile(seconds, meters float64) string {
	if seconds == 0 || meters == 0 {
		return "0:00"
	}
	minMile := 26.8224 / (meters / seconds)
	return formatPace(minMile)
}

// PaceMinPerKm renders running pace as "M:SS" per kilometer.
func PaceMinPerKm(seconds, meters float64) string {
	if seconds == 0 || meters == 0 {
		return "0:00"
	}
	minKm := (seconds / 60.0) / (meters / 1000.0)
	return formatPace(minKm)
}

func formatPace(minutes float64) string {
	whole := int(minutes)
	secs := int(math.Round((minutes - float64(whole)) * 60))
	if secs == 60 {
		whole++
		secs = 0
	}
	return fmt.Sprintf("%d:%02d", whole, secs)
}

// FormatDuration renders seconds as "Hh Mm Ss", collapsing to "Nd Hh Mm Ss"
// for a day or more. Used identically by both render targets.
func FormatDuration(seconds float64) string {
	total := int(math.Round(seconds))
	if total < 0 {
		total = 0
	}
	days := total / int(secondsPerDay)
	rem := total % int(secondsPerDay)
	hours := rem / 3600
	minutes := (rem % 3600) / 60
	secs := rem % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, secs)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, secs)
	default:
		return fmt.Sprintf("%dm %ds", minutes, secs)
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
