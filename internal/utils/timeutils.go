package utils

import (
	"fmt"
	"math"
	"time"
)

// HoursBetween returns the duration from start to end in hours. Negative
// spans are clamped to zero so clock skew never produces negative features.
func HoursBetween(start, end time.Time) float64 {
	h := end.Sub(start).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// FormatHours renders an hour count as a compact "3d 4h" style string for
// operator displays. Unknown or negative values render as "N/A".
func FormatHours(hours float64) string {
	if math.IsNaN(hours) || hours < 0 {
		return "N/A"
	}

	days := int(hours / 24)
	remaining := int(math.Round(math.Mod(hours, 24)))
	if remaining == 24 {
		days++
		remaining = 0
	}

	switch {
	case days == 0:
		return fmt.Sprintf("%dh", remaining)
	case remaining == 0:
		return fmt.Sprintf("%dd", days)
	default:
		return fmt.Sprintf("%dd %dh", days, remaining)
	}
}
