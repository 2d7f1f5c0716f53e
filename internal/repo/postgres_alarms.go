// Package repo provides the data access layer: the Postgres alarm store and
// the external maintenance-records client.
package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coolstack/crac-risk/internal/models"
)

// AlarmStore reads the alarm history from Postgres.
type AlarmStore struct {
	pool         *pgxpool.Pool
	table        string
	queryTimeout time.Duration
}

// NewAlarmStore constructs an AlarmStore over an existing connection pool.
func NewAlarmStore(pool *pgxpool.Pool, table string, queryTimeout time.Duration) *AlarmStore {
	if table == "" {
		table = "crac_alarms"
	}
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	return &AlarmStore{pool: pool, table: table, queryTimeout: queryTimeout}
}

// FetchAlarms returns all alarm rows at or after since, ordered by unit and
// timestamp. Resolved-at and serial are nullable in the schema.
func (s *AlarmStore) FetchAlarms(ctx context.Context, since time.Time) ([]models.AlarmRecord, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("alarm store not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT unit, serial, ts, description, severity, resolved_at
		FROM %s
		WHERE ts >= $1
		ORDER BY unit, ts`, pgx.Identifier{s.table}.Sanitize())

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query alarms: %w", err)
	}
	defer rows.Close()

	var records []models.AlarmRecord
	for rows.Next() {
		var (
			rec        models.AlarmRecord
			serial     *string
			resolvedAt *time.Time
		)
		if err := rows.Scan(&rec.Unit, &serial, &rec.Timestamp, &rec.Description, &rec.Severity, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan alarm row: %w", err)
		}
		if serial != nil {
			rec.Serial = *serial
		}
		rec.ResolvedAt = resolvedAt
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alarm rows: %w", err)
	}
	return records, nil
}
