// Package store holds the client-side caches of backend state: session,
// devices, sensor readings, and alerts. Caches are non-authoritative
// copies kept fresh by fetch-then-subscribe; change events are folded in
// through pure reducer functions.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"tankwatch/internal/logger"
	"tankwatch/internal/remote"
)

// SessionRepo persists the session across process restarts.
type SessionRepo interface {
	Save(ctx context.Context, s remote.Session) error
	Load(ctx context.Context) (*remote.Session, error)
	Clear(ctx context.Context) error
}

// Store aggregates the four caches.
type Store struct {
	Session *SessionStore
	Devices *DeviceStore
	Sensors *SensorStore
	Alerts  *AlertStore
}

// New wires the caches to the remote service. The session store is built
// by the caller first because the data client borrows its token provider.
// Sign-out cascades an explicit reset of the dependent caches so a later
// identity can never observe data fetched for a previous one.
func New(session *SessionStore, data remote.DataService, log *logger.Logger) *Store {
	s := &Store{
		Session: session,
		Devices: NewDeviceStore(data, log),
		Sensors: NewSensorStore(data, log),
		Alerts:  NewAlertStore(data, log),
	}
	s.Session.OnSignOut(func() {
		s.Devices.Reset()
		s.Sensors.ClearReadings()
		s.Alerts.ClearAlerts()
	})
	return s
}

// decodeRows unmarshals raw result rows into typed values.
func decodeRows[T any](rows []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(rows))
	for i, raw := range rows {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode row %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
