package models

import "time"

// Interval is one survival observation for a unit: a span of operation that
// either ends in a detected failure (Event=true) or is right-censored at the
// cycle's reference instant (Event=false).
type Interval struct {
	Unit          string
	Start         time.Time
	End           time.Time
	DurationHours float64
	Event         bool

	// Features consumed by the survival model.
	TotalAlarms         int
	AlarmsLast24h       int
	TimeSinceLastAlarmH *float64 // nil for a unit's first interval

	// Shared per unit: elapsed hours since the most recent alarm at or above
	// the severity threshold (any alarm if none qualifies).
	CurrentTimeElapsed float64
	LastCriticalTime   *time.Time
}
