package models

import "time"

// ActuatorType enumerates the controllable actuators on a tank controller.
type ActuatorType string

const (
	ActuatorValve1  ActuatorType = "valve_1"
	ActuatorValve2  ActuatorType = "valve_2"
	ActuatorDCMotor ActuatorType = "dc_motor"
	ActuatorUVLight ActuatorType = "uv_light"
)

// Valid reports whether t is one of the known actuator tags.
func (t ActuatorType) Valid() bool {
	switch t {
	case ActuatorValve1, ActuatorValve2, ActuatorDCMotor, ActuatorUVLight:
		return true
	}
	return false
}

// Attribution tags for actuator commands.
const (
	TriggeredByUser   = "user"
	TriggeredBySystem = "system"
	TriggeredByButton = "button"
)

// ActuatorLog is an audit row recording one actuator command. The client
// only inserts these; it never reads them back.
type ActuatorLog struct {
	ID           string       `json:"id,omitempty"`
	DeviceID     string       `json:"device_id"`
	UserID       string       `json:"user_id"`
	ActuatorType ActuatorType `json:"actuator_type"`
	Action       string       `json:"action"` // on | off | speed_<n>
	Value        float64      `json:"value"`
	TriggeredBy  string       `json:"triggered_by"`
	CreatedAt    time.Time    `json:"created_at,omitempty"`
}
