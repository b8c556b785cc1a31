// Package history stores the full series of accepted temperature reports in
// SQLite. The registry keeps only the latest reading per device; this
// repository backs the RH command and offline analysis.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 200

	// sqliteTimeLayout matches SQLite's datetime('now') output.
	sqliteTimeLayout = "2006-01-02 15:04:05"
)

// Reading is one recorded temperature report.
type Reading struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Repository persists temperature readings in the temperature_history table.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a history repository on an open SQLite connection.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Record appends one reading for a device.
func (r *Repository) Record(ctx context.Context, deviceID string, value float64) error {
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO temperature_history (device_id, value) VALUES (?, ?)",
		deviceID, value,
	)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}
	return nil
}

// Recent returns the most recent readings for a device, newest first.
// A non-positive limit uses the default (50); limits above 200 are clamped.
func (r *Repository) Recent(ctx context.Context, deviceID string, limit int) ([]Reading, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, value, recorded_at
		 FROM temperature_history
		 WHERE device_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	readings := make([]Reading, 0, limit)
	for rows.Next() {
		var reading Reading
		var recordedAt string
		if err := rows.Scan(&reading.ID, &reading.DeviceID, &reading.Value, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		ts, err := time.Parse(sqliteTimeLayout, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing recorded_at %q: %w", recordedAt, err)
		}
		reading.RecordedAt = ts.UTC()
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return readings, nil
}
