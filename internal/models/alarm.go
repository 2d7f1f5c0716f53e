package models

import "time"

// AlarmRecord is a single raw alarm event for a monitored cooling unit.
// Timestamps are normalised to UTC by the ingestion layer before they reach
// the pipeline.
type AlarmRecord struct {
	Unit        string
	Serial      string
	Timestamp   time.Time
	Description string
	Severity    int
	ResolvedAt  *time.Time
}

// MaintenanceRecord summarises the most recent maintenance visit for a serial.
type MaintenanceRecord struct {
	Serial    string
	Client    string
	LastVisit time.Time
}
