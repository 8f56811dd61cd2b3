// Package remote is the client side of the hosted data service: row CRUD
// over HTTPS, authentication, and a websocket change feed filtered by table
// and predicate.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tankwatch/internal/models"
)

// Table names owned by the remote service.
const (
	TableDevices      = "devices"
	TableReadings     = "sensor_readings"
	TableAlerts       = "alerts"
	TableActuatorLogs = "actuator_logs"
	TableUserSettings = "user_settings"
)

// Filter is an equality predicate on a single column.
type Filter struct {
	Column string
	Value  string
}

// Query describes a row selection: equality filters, one sort key, limit.
type Query struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// EventKind tags a change-feed event.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
	EventAll    EventKind = "*"
)

// ChangeEvent is one row-level change pushed by the feed. New carries the
// after image (insert/update), Old the before image (update/delete).
type ChangeEvent struct {
	Kind  EventKind       `json:"kind"`
	Table string          `json:"table"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// EventHandler consumes change events for one subscription. Handlers run on
// the feed's read goroutine and must not block.
type EventHandler func(ChangeEvent)

// DataService is the row-level contract the caches consume. Query returns
// an empty slice for zero rows; an error always means the query itself
// failed.
type DataService interface {
	Query(ctx context.Context, table string, q Query) ([]json.RawMessage, error)
	Insert(ctx context.Context, table string, row any) (json.RawMessage, error)
	Update(ctx context.Context, table, id string, patch any) (json.RawMessage, error)
	Delete(ctx context.Context, table, id string) error
	Subscribe(table string, filter *Filter, kinds []EventKind, fn EventHandler) (*Subscription, error)
}

// Session is the authenticated state handed out by the auth endpoints.
type Session struct {
	AccessToken  string             `json:"access_token"`
	RefreshToken string             `json:"refresh_token"`
	ExpiresAt    time.Time          `json:"expires_at"`
	User         models.UserProfile `json:"user"`
}

// Expired reports whether the access token is past (or within a minute of)
// its expiry.
func (s Session) Expired() bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(s.ExpiresAt.Add(-time.Minute))
}

// AuthService is the authentication plane of the remote service.
type AuthService interface {
	SignIn(ctx context.Context, email, password string) (Session, error)
	SignUp(ctx context.Context, email, password, fullName string) (Session, error)
	SignOut(ctx context.Context, accessToken string) error
	ResetPassword(ctx context.Context, email string) error
	RefreshSession(ctx context.Context, refreshToken string) (Session, error)
}

// TokenProvider supplies the current access token for data-plane requests.
// An empty string means anonymous.
type TokenProvider func() string

// ServiceError is a non-2xx response from the remote service.
type ServiceError struct {
	Status  int
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote service: %s (status %d, code %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("remote service: %s (status %d)", e.Message, e.Status)
}

// ErrFeedClosed is returned by Subscribe after the feed has been shut down.
var ErrFeedClosed = errors.New("change feed is closed")
