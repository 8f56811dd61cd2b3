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

// AlertState is a point-in-time copy of the alert cache.
type AlertState struct {
	Alerts      []models.Alert
	UnreadCount int
	IsLoading   bool
	Error       string
}

// AlertStore caches recent alerts for the identity and maintains the
// unread counter. Invariant: UnreadCount always equals the number of
// cached alerts with IsAcknowledged == false.
type AlertStore struct {
	data remote.DataService
	log  *logger.Logger

	mu      sync.RWMutex
	alerts  []models.Alert
	unread  int
	loading bool
	errMsg  string
}

func NewAlertStore(data remote.DataService, log *logger.Logger) *AlertStore {
	return &AlertStore{data: data, log: log}
}

// Snapshot returns a copy of the cache.
func (s *AlertStore) Snapshot() AlertState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return AlertState{
		Alerts:      append([]models.Alert(nil), s.alerts...),
		UnreadCount: s.unread,
		IsLoading:   s.loading,
		Error:       s.errMsg,
	}
}

// UnreadCount returns the cached number of unacknowledged alerts.
func (s *AlertStore) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

// Fetch replaces the cache with the identity's most recent alerts, newest
// first, and recomputes the unread counter from the fetched set.
func (s *AlertStore) Fetch(ctx context.Context, userID string) error {
	s.mu.Lock()
	s.loading = true
	s.errMsg = ""
	s.mu.Unlock()

	rows, err := s.data.Query(ctx, remote.TableAlerts, remote.Query{
		Filters:    []remote.Filter{{Column: "user_id", Value: userID}},
		OrderBy:    "created_at",
		Descending: true,
		Limit:      models.AlertFetchLimit,
	})
	if err != nil {
		s.fail("fetch alerts", err)
		return fmt.Errorf("fetch alerts: %w", err)
	}

	alerts, err := decodeRows[models.Alert](rows)
	if err != nil {
		s.fail("decode alerts", err)
		return fmt.Errorf("decode alerts: %w", err)
	}

	s.mu.Lock()
	s.alerts = alerts
	s.unread = countUnread(alerts)
	s.loading = false
	s.mu.Unlock()
	return nil
}

// Acknowledge flips the acknowledged flag remotely, then applies the same
// transform locally. The decrement floors at zero, so racing a double
// acknowledgement can never drive the counter negative.
func (s *AlertStore) Acknowledge(ctx context.Context, alertID string) error {
	now := time.Now().UTC()
	patch := map[string]any{
		"is_acknowledged": true,
		"acknowledged_at": now.Format(time.RFC3339),
	}
	if _, err := s.data.Update(ctx, remote.TableAlerts, alertID, patch); err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}

	s.mu.Lock()
	s.alerts, s.unread = applyAcknowledge(s.alerts, s.unread, alertID, now)
	s.mu.Unlock()
	return nil
}

// Subscribe opens an insert-only feed for the identity's alerts. Pushed
// alerts are created unacknowledged, so the unconditional increment keeps
// the counter invariant.
func (s *AlertStore) Subscribe(userID string) (*remote.Subscription, error) {
	filter := &remote.Filter{Column: "user_id", Value: userID}
	return s.data.Subscribe(remote.TableAlerts, filter, []remote.EventKind{remote.EventInsert}, func(ev remote.ChangeEvent) {
		alert, err := remote.DecodeRow[models.Alert](ev.New)
		if err != nil {
			s.log.Warnw("alert_event_dropped", "err", err)
			return
		}
		s.mu.Lock()
		s.alerts = append([]models.Alert{alert}, s.alerts...)
		s.unread++
		s.mu.Unlock()
	})
}

// ClearAlerts resets the cache. Pure local mutation; used when leaving the
// alerts context and by the sign-out cascade.
func (s *AlertStore) ClearAlerts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = nil
	s.unread = 0
	s.loading = false
	s.errMsg = ""
}

func (s *AlertStore) fail(op string, err error) {
	s.mu.Lock()
	s.errMsg = err.Error()
	s.loading = false
	s.mu.Unlock()
	s.log.Infow("alert_store_error", "op", op, "err", err)
}

// countUnread counts alerts still waiting for acknowledgement.
func countUnread(alerts []models.Alert) int {
	n := 0
	for _, a := range alerts {
		if !a.IsAcknowledged {
			n++
		}
	}
	return n
}

// applyAcknowledge marks the matching alert acknowledged and decrements
// the counter, floored at zero. Already-acknowledged alerts are left as
// they are. Pure.
func applyAcknowledge(alerts []models.Alert, unread int, alertID string, at time.Time) ([]models.Alert, int) {
	out := append([]models.Alert(nil), alerts...)
	for i := range out {
		if out[i].ID != alertID || out[i].IsAcknowledged {
			continue
		}
		out[i].IsAcknowledged = true
		t := at
		out[i].AcknowledgedAt = &t
	}
	if unread > 0 {
		unread--
	}
	return out, unread
}
