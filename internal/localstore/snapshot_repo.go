package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tankwatch/internal/models"
)

// SnapshotSQLite keeps the last received reading per device, so the client
// has something to show before its first fetch completes.
type SnapshotSQLite struct {
	db *sql.DB
}

func NewSnapshotSQLite(db *sql.DB) *SnapshotSQLite {
	return &SnapshotSQLite{db: db}
}

const (
	upsertSnapshotSQL = `
		INSERT INTO reading_snapshots (device_id, reading_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			reading_json=excluded.reading_json,
			updated_at=excluded.updated_at
	`

	selectSnapshotSQL = `
		SELECT reading_json FROM reading_snapshots WHERE device_id=?
	`
)

// Save upserts the last reading for the device.
func (r *SnapshotSQLite) Save(ctx context.Context, reading models.SensorReading) error {
	buf, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}
	_, err = r.db.ExecContext(ctx, upsertSnapshotSQL, reading.DeviceID, string(buf), time.Now().UTC())
	return err
}

// Load fetches the last stored reading for a device; (nil, nil) when the
// device has never reported.
func (r *SnapshotSQLite) Load(ctx context.Context, deviceID string) (*models.SensorReading, error) {
	row := r.db.QueryRowContext(ctx, selectSnapshotSQL, deviceID)

	var buf string
	if err := row.Scan(&buf); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var reading models.SensorReading
	if err := json.Unmarshal([]byte(buf), &reading); err != nil {
		return nil, fmt.Errorf("unmarshal reading: %w", err)
	}
	return &reading, nil
}
