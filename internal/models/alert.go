package models

import "time"

// Severity orders alert levels from informational to critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank maps a severity to its ordinal (info < warning < critical).
// Unknown severities rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Alert is a threshold-breach notification raised by the backend for a
// device. Acknowledgement is the only client-side mutation and is
// irreversible.
type Alert struct {
	ID             string     `json:"id"`
	DeviceID       string     `json:"device_id"`
	UserID         string     `json:"user_id"`
	AlertType      string     `json:"alert_type"`
	Severity       Severity   `json:"severity"`
	Message        string     `json:"message"`
	SensorValue    *float64   `json:"sensor_value,omitempty"`
	ThresholdValue *float64   `json:"threshold_value,omitempty"`
	IsAcknowledged bool       `json:"is_acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// AlertFetchLimit caps how many recent alerts a fetch pulls.
const AlertFetchLimit = 50
