package models

import "time"

// SensorReading is one sampled row of the five water-quality channels.
// Rows are append-only; the backend assigns id and created_at.
type SensorReading struct {
	ID                   string    `json:"id"`
	DeviceID             string    `json:"device_id"`
	PHValue              float64   `json:"ph_value"`               // pH
	TDSValue             float64   `json:"tds_value"`              // ppm
	TurbidityValue       float64   `json:"turbidity_value"`        // NTU
	Temperature          float64   `json:"temperature"`            // °C
	WaterLevelPercentage float64   `json:"water_level_percentage"` // %
	CreatedAt            time.Time `json:"created_at"`
}

// HistoryCapacity bounds the client-side recent-readings buffer.
const HistoryCapacity = 100
