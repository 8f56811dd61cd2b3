package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tankwatch/internal/logger"
	"tankwatch/internal/models"
	"tankwatch/internal/remote"
)

// SensorState is a point-in-time copy of the sensor cache.
type SensorState struct {
	Latest     *models.SensorReading
	Readings   []models.SensorReading
	LastUpdate time.Time
	IsLoading  bool
	Error      string
}

// SensorStore caches the latest reading and a bounded newest-first history
// for whichever device the caller targets. The store is device-agnostic
// per call: switching devices means canceling the old subscription and
// opening a new one.
type SensorStore struct {
	data remote.DataService
	log  *logger.Logger

	mu         sync.RWMutex
	latest     *models.SensorReading
	readings   []models.SensorReading
	lastUpdate time.Time
	loading    bool
	errMsg     string
}

func NewSensorStore(data remote.DataService, log *logger.Logger) *SensorStore {
	return &SensorStore{data: data, log: log}
}

// Snapshot returns a copy of the cache.
func (s *SensorStore) Snapshot() SensorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := SensorState{
		Readings:   append([]models.SensorReading(nil), s.readings...),
		LastUpdate: s.lastUpdate,
		IsLoading:  s.loading,
		Error:      s.errMsg,
	}
	if s.latest != nil {
		r := *s.latest
		out.Latest = &r
	}
	return out
}

// Prime seeds the cache with a locally persisted reading so there is
// something to show before the first fetch completes. A primed value never
// overwrites live data.
func (s *SensorStore) Prime(reading *models.SensorReading) {
	if reading == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest != nil || len(s.readings) > 0 {
		return
	}
	r := *reading
	s.latest = &r
	s.lastUpdate = r.CreatedAt
}

// FetchLatest loads the single newest reading for the device. A device
// with no readings yet is a normal empty state, not an error.
func (s *SensorStore) FetchLatest(ctx context.Context, deviceID string) error {
	rows, err := s.data.Query(ctx, remote.TableReadings, remote.Query{
		Filters:    []remote.Filter{{Column: "device_id", Value: deviceID}},
		OrderBy:    "created_at",
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		s.fail("fetch latest reading", err)
		return fmt.Errorf("fetch latest reading: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = ""
	s.lastUpdate = time.Now()
	if len(rows) == 0 {
		s.latest = nil
		return nil
	}
	reading, err := remote.DecodeRow[models.SensorReading](rows[0])
	if err != nil {
		s.errMsg = err.Error()
		return fmt.Errorf("decode reading: %w", err)
	}
	s.latest = &reading
	return nil
}

// Fetch loads the most recent limit readings, newest first. History and
// latest are set from the same response so they can never disagree.
func (s *SensorStore) Fetch(ctx context.Context, deviceID string, limit int) error {
	if limit <= 0 || limit > models.HistoryCapacity {
		limit = models.HistoryCapacity
	}

	s.mu.Lock()
	s.loading = true
	s.errMsg = ""
	s.mu.Unlock()

	rows, err := s.data.Query(ctx, remote.TableReadings, remote.Query{
		Filters:    []remote.Filter{{Column: "device_id", Value: deviceID}},
		OrderBy:    "created_at",
		Descending: true,
		Limit:      limit,
	})
	if err != nil {
		s.fail("fetch readings", err)
		return fmt.Errorf("fetch readings: %w", err)
	}

	readings, err := decodeRows[models.SensorReading](rows)
	if err != nil {
		s.fail("decode readings", err)
		return fmt.Errorf("decode readings: %w", err)
	}

	s.mu.Lock()
	s.readings = readings
	if len(readings) > 0 {
		r := readings[0]
		s.latest = &r
	} else {
		s.latest = nil
	}
	s.lastUpdate = time.Now()
	s.loading = false
	s.mu.Unlock()
	return nil
}

// Subscribe opens an insert-only feed for the device's readings. Each
// pushed reading becomes the latest and is prepended to the bounded
// history, evicting the oldest entry at capacity.
func (s *SensorStore) Subscribe(deviceID string) (*remote.Subscription, error) {
	filter := &remote.Filter{Column: "device_id", Value: deviceID}
	return s.data.Subscribe(remote.TableReadings, filter, []remote.EventKind{remote.EventInsert}, func(ev remote.ChangeEvent) {
		reading, err := remote.DecodeRow[models.SensorReading](ev.New)
		if err != nil {
			s.log.Warnw("reading_event_dropped", "err", err)
			return
		}
		s.mu.Lock()
		s.latest = &reading
		s.readings = prependBounded(s.readings, reading, models.HistoryCapacity)
		s.lastUpdate = time.Now()
		s.mu.Unlock()
	})
}

// ClearReadings resets the cache. Used when leaving the device context and
// by the sign-out cascade.
func (s *SensorStore) ClearReadings() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = nil
	s.readings = nil
	s.lastUpdate = time.Time{}
	s.loading = false
	s.errMsg = ""
}

func (s *SensorStore) fail(op string, err error) {
	s.mu.Lock()
	s.errMsg = err.Error()
	s.loading = false
	s.mu.Unlock()
	s.log.Infow("sensor_store_error", "op", op, "err", err)
}

// prependBounded puts r first and truncates to cap entries, dropping the
// oldest. Pure.
func prependBounded(readings []models.SensorReading, r models.SensorReading, capacity int) []models.SensorReading {
	keep := readings
	if len(keep) >= capacity {
		keep = keep[:capacity-1]
	}
	out := make([]models.SensorReading, 0, len(keep)+1)
	out = append(out, r)
	out = append(out, keep...)
	return out
}
