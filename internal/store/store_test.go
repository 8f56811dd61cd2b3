package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"tankwatch/internal/logger"
	"tankwatch/internal/models"
	"tankwatch/internal/remote"
)

// fakeDataService satisfies remote.DataService and records every call so
// tests can assert what the caches asked for and drive change events by
// hand.
type fakeDataService struct {
	mu sync.Mutex

	queryRows  []json.RawMessage
	queryErr   error
	queryCalls int
	lastTable  string
	lastQuery  remote.Query

	insertResp json.RawMessage
	insertErr  error
	inserted   []any

	updateResp json.RawMessage
	updateErr  error
	updatedIDs []string
	lastPatch  any

	deleteErr  error
	deletedIDs []string

	handlers  map[string]remote.EventHandler // table -> last registered handler
	canceled  []string
	subFilter *remote.Filter
	subKinds  []remote.EventKind
}

func newFakeData() *fakeDataService {
	return &fakeDataService{handlers: make(map[string]remote.EventHandler)}
}

func (f *fakeDataService) Query(_ context.Context, table string, q remote.Query) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	f.lastTable = table
	f.lastQuery = q
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.queryRows, nil
}

func (f *fakeDataService) Insert(_ context.Context, table string, row any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTable = table
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.inserted = append(f.inserted, row)
	return f.insertResp, nil
}

func (f *fakeDataService) Update(_ context.Context, table, id string, patch any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTable = table
	f.lastPatch = patch
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updatedIDs = append(f.updatedIDs, id)
	return f.updateResp, nil
}

func (f *fakeDataService) Delete(_ context.Context, table, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTable = table
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedIDs = append(f.deletedIDs, id)
	return nil
}

func (f *fakeDataService) Subscribe(table string, filter *remote.Filter, kinds []remote.EventKind, fn remote.EventHandler) (*remote.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[table] = fn
	f.subFilter = filter
	f.subKinds = kinds
	return remote.NewSubscription(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.canceled = append(f.canceled, table)
	}), nil
}

// push delivers a change event to the last handler registered for a table.
func (f *fakeDataService) push(t *testing.T, table string, ev remote.ChangeEvent) {
	t.Helper()
	f.mu.Lock()
	fn, ok := f.handlers[table]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription registered for table %q", table)
	}
	fn(ev)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %T: %v", v, err)
	}
	return b
}

func rowsJSON(t *testing.T, vs ...any) []json.RawMessage {
	t.Helper()
	rows := make([]json.RawMessage, 0, len(vs))
	for _, v := range vs {
		rows = append(rows, mustJSON(t, v))
	}
	return rows
}

func testDevice(id, userID, name string, createdAt time.Time) models.Device {
	return models.Device{
		ID:         id,
		UserID:     userID,
		DeviceName: name,
		CreatedAt:  createdAt,
	}
}

func testReading(id, deviceID string, ph float64, createdAt time.Time) models.SensorReading {
	return models.SensorReading{
		ID:        id,
		DeviceID:  deviceID,
		PHValue:   ph,
		CreatedAt: createdAt,
	}
}

func testAlert(id string, acknowledged bool) models.Alert {
	return models.Alert{
		ID:             id,
		UserID:         "user-1",
		AlertType:      "ph_high",
		Severity:       models.SeverityWarning,
		Message:        "pH above maximum",
		IsAcknowledged: acknowledged,
	}
}

func nopLog() *logger.Logger { return logger.Nop() }
