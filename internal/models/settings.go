package models

import "time"

// UserSettings holds the per-user sensor thresholds used for alerting.
type UserSettings struct {
	ID                   string    `json:"id,omitempty"`
	UserID               string    `json:"user_id,omitempty"`
	PHMin                float64   `json:"ph_min"`
	PHMax                float64   `json:"ph_max"`
	TDSMin               float64   `json:"tds_min"`
	TDSMax               float64   `json:"tds_max"`
	TurbidityMax         float64   `json:"turbidity_max"`
	WaterLevelMin        float64   `json:"water_level_min"`
	TemperatureMax       float64   `json:"temperature_max"`
	NotificationsEnabled bool      `json:"notifications_enabled"`
	UpdatedAt            time.Time `json:"updated_at,omitempty"`
}

// DefaultSettings returns the stock thresholds applied before a user tunes
// their own.
func DefaultSettings() UserSettings {
	return UserSettings{
		PHMin:                6.5,
		PHMax:                8.5,
		TDSMin:               50,
		TDSMax:               500,
		TurbidityMax:         5,
		WaterLevelMin:        20,
		TemperatureMax:       35,
		NotificationsEnabled: true,
	}
}
