package store

import (
	"context"
	"fmt"
	"sync"

	"tankwatch/internal/logger"
	"tankwatch/internal/models"
	"tankwatch/internal/remote"
)

// DeviceState is a point-in-time copy of the device cache.
type DeviceState struct {
	Devices   []models.Device
	Selected  *models.Device
	IsLoading bool
	Error     string
}

// deviceState is the reducible core of the cache.
type deviceState struct {
	devices  []models.Device
	selected *models.Device
}

// DeviceStore caches the identity's devices and tracks the single selected
// device.
type DeviceStore struct {
	data remote.DataService
	log  *logger.Logger

	mu      sync.RWMutex
	state   deviceState
	loading bool
	errMsg  string
}

func NewDeviceStore(data remote.DataService, log *logger.Logger) *DeviceStore {
	return &DeviceStore{data: data, log: log}
}

// Snapshot returns a copy of the cache.
func (s *DeviceStore) Snapshot() DeviceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := DeviceState{
		Devices:   append([]models.Device(nil), s.state.devices...),
		IsLoading: s.loading,
		Error:     s.errMsg,
	}
	if s.state.selected != nil {
		d := *s.state.selected
		out.Selected = &d
	}
	return out
}

// Selected returns a copy of the currently selected device, or nil.
func (s *DeviceStore) Selected() *models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.selected == nil {
		return nil
	}
	d := *s.state.selected
	return &d
}

// Fetch replaces the cached list with the identity's devices, newest
// first, and selects the first device. The re-select happens on every
// fetch, overriding any manual selection; that mirrors the backend-owned
// list being the source of truth after a refresh.
func (s *DeviceStore) Fetch(ctx context.Context, userID string) error {
	s.mu.Lock()
	s.loading = true
	s.errMsg = ""
	s.mu.Unlock()

	rows, err := s.data.Query(ctx, remote.TableDevices, remote.Query{
		Filters:    []remote.Filter{{Column: "user_id", Value: userID}},
		OrderBy:    "created_at",
		Descending: true,
	})
	if err != nil {
		s.fail("fetch devices", err)
		return fmt.Errorf("fetch devices: %w", err)
	}

	devices, err := decodeRows[models.Device](rows)
	if err != nil {
		s.fail("decode devices", err)
		return fmt.Errorf("decode devices: %w", err)
	}

	s.mu.Lock()
	s.state.devices = devices
	if len(devices) > 0 {
		d := devices[0]
		s.state.selected = &d
	} else {
		s.state.selected = nil
	}
	s.loading = false
	s.mu.Unlock()
	return nil
}

// Select changes the selected device. Pure cache mutation, no remote call.
func (s *DeviceStore) Select(device models.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := device
	s.state.selected = &d
}

// Add registers a device remotely and prepends it locally on success.
func (s *DeviceStore) Add(ctx context.Context, device models.Device) error {
	raw, err := s.data.Insert(ctx, remote.TableDevices, device)
	if err != nil {
		return fmt.Errorf("add device: %w", err)
	}
	created, err := remote.DecodeRow[models.Device](raw)
	if err != nil {
		return fmt.Errorf("decode created device: %w", err)
	}

	s.mu.Lock()
	s.state.devices = append([]models.Device{created}, s.state.devices...)
	s.mu.Unlock()
	return nil
}

// UpdateName patches a device's display name remotely, then mirrors the
// updated row locally.
func (s *DeviceStore) UpdateName(ctx context.Context, deviceID, name string) error {
	raw, err := s.data.Update(ctx, remote.TableDevices, deviceID, map[string]string{"device_name": name})
	if err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	updated, err := remote.DecodeRow[models.Device](raw)
	if err != nil {
		return fmt.Errorf("decode updated device: %w", err)
	}

	s.mu.Lock()
	s.state = replaceDevice(s.state, updated)
	s.mu.Unlock()
	return nil
}

// Delete removes the device remotely, then drops it locally, clearing the
// selection if it was the selected one.
func (s *DeviceStore) Delete(ctx context.Context, deviceID string) error {
	if err := s.data.Delete(ctx, remote.TableDevices, deviceID); err != nil {
		return fmt.Errorf("delete device: %w", err)
	}

	s.mu.Lock()
	s.state = removeDevice(s.state, deviceID)
	s.mu.Unlock()
	return nil
}

// Subscribe opens a change feed over the identity's devices (all event
// kinds) and folds each event into the cache. The fold holds the lock for
// the whole read-reduce-write so a concurrent Fetch, Add or Delete can
// never be overwritten with pre-event state. The returned guard must be
// canceled when the identity context changes.
func (s *DeviceStore) Subscribe(userID string) (*remote.Subscription, error) {
	filter := &remote.Filter{Column: "user_id", Value: userID}
	return s.data.Subscribe(remote.TableDevices, filter, []remote.EventKind{remote.EventAll}, func(ev remote.ChangeEvent) {
		s.mu.Lock()
		next, err := reduceDeviceEvent(s.state, ev)
		if err != nil {
			s.mu.Unlock()
			s.log.Warnw("device_event_dropped", "kind", ev.Kind, "err", err)
			return
		}
		s.state = next
		s.mu.Unlock()
	})
}

// Reset returns the cache to its zero state. Used by the sign-out cascade.
func (s *DeviceStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = deviceState{}
	s.loading = false
	s.errMsg = ""
}

func (s *DeviceStore) fail(op string, err error) {
	s.mu.Lock()
	s.errMsg = err.Error()
	s.loading = false
	s.mu.Unlock()
	s.log.Infow("device_store_error", "op", op, "err", err)
}

// reduceDeviceEvent folds one change event into the cache state. Pure:
// callers own locking and error reporting.
func reduceDeviceEvent(st deviceState, ev remote.ChangeEvent) (deviceState, error) {
	switch ev.Kind {
	case remote.EventInsert:
		d, err := remote.DecodeRow[models.Device](ev.New)
		if err != nil {
			return st, fmt.Errorf("decode inserted device: %w", err)
		}
		st.devices = append([]models.Device{d}, st.devices...)
		return st, nil

	case remote.EventUpdate:
		d, err := remote.DecodeRow[models.Device](ev.New)
		if err != nil {
			return st, fmt.Errorf("decode updated device: %w", err)
		}
		return replaceDevice(st, d), nil

	case remote.EventDelete:
		d, err := remote.DecodeRow[models.Device](ev.Old)
		if err != nil {
			return st, fmt.Errorf("decode deleted device: %w", err)
		}
		return removeDevice(st, d.ID), nil

	default:
		return st, fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// replaceDevice swaps the matching row and refreshes the selection if it
// points at the updated device.
func replaceDevice(st deviceState, updated models.Device) deviceState {
	devices := append([]models.Device(nil), st.devices...)
	for i := range devices {
		if devices[i].ID == updated.ID {
			devices[i] = updated
		}
	}
	st.devices = devices
	if st.selected != nil && st.selected.ID == updated.ID {
		d := updated
		st.selected = &d
	}
	return st
}

// removeDevice drops the matching row and clears the selection if it was
// the removed device.
func removeDevice(st deviceState, id string) deviceState {
	devices := make([]models.Device, 0, len(st.devices))
	for _, d := range st.devices {
		if d.ID != id {
			devices = append(devices, d)
		}
	}
	st.devices = devices
	if st.selected != nil && st.selected.ID == id {
		st.selected = nil
	}
	return st
}
