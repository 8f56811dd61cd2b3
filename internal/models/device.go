package models

import "time"

// Device is a registered tank controller owned by a user.
type Device struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	DeviceName       string    `json:"device_name"`
	DeviceIDHardware string    `json:"device_id_hardware"` // ESP32 hardware identifier
	IsOnline         bool      `json:"is_online"`
	LastSeen         time.Time `json:"last_seen"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
