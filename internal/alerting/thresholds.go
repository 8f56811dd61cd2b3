// Package alerting evaluates sensor readings against user thresholds on
// the client, independent of the alerts the backend raises.
package alerting

import (
	"fmt"

	"tankwatch/internal/models"
)

// Alert type tags for threshold breaches.
const (
	TypePHLow      = "ph_low"
	TypePHHigh     = "ph_high"
	TypeTDSLow     = "tds_low"
	TypeTDSHigh    = "tds_high"
	TypeTurbidity  = "turbidity_high"
	TypeWaterLevel = "water_level_low"
	TypeTempHigh   = "temperature_high"
)

// Evaluate checks one reading against the thresholds and returns draft
// alerts for every breached channel. pH and temperature breaches are
// critical (they make the water unsafe fastest), the rest warn. Pure.
func Evaluate(r models.SensorReading, s models.UserSettings) []models.Alert {
	var out []models.Alert

	add := func(alertType string, severity models.Severity, msg string, value, threshold float64) {
		v, t := value, threshold
		out = append(out, models.Alert{
			DeviceID:       r.DeviceID,
			AlertType:      alertType,
			Severity:       severity,
			Message:        msg,
			SensorValue:    &v,
			ThresholdValue: &t,
		})
	}

	if r.PHValue < s.PHMin {
		add(TypePHLow, models.SeverityCritical,
			fmt.Sprintf("pH %.2f below minimum %.2f", r.PHValue, s.PHMin), r.PHValue, s.PHMin)
	}
	if r.PHValue > s.PHMax {
		add(TypePHHigh, models.SeverityCritical,
			fmt.Sprintf("pH %.2f above maximum %.2f", r.PHValue, s.PHMax), r.PHValue, s.PHMax)
	}
	if r.TDSValue < s.TDSMin {
		add(TypeTDSLow, models.SeverityWarning,
			fmt.Sprintf("TDS %.0f ppm below minimum %.0f ppm", r.TDSValue, s.TDSMin), r.TDSValue, s.TDSMin)
	}
	if r.TDSValue > s.TDSMax {
		add(TypeTDSHigh, models.SeverityWarning,
			fmt.Sprintf("TDS %.0f ppm above maximum %.0f ppm", r.TDSValue, s.TDSMax), r.TDSValue, s.TDSMax)
	}
	if r.TurbidityValue > s.TurbidityMax {
		add(TypeTurbidity, models.SeverityWarning,
			fmt.Sprintf("turbidity %.1f NTU above maximum %.1f NTU", r.TurbidityValue, s.TurbidityMax), r.TurbidityValue, s.TurbidityMax)
	}
	if r.WaterLevelPercentage < s.WaterLevelMin {
		add(TypeWaterLevel, models.SeverityWarning,
			fmt.Sprintf("water level %.0f%% below minimum %.0f%%", r.WaterLevelPercentage, s.WaterLevelMin), r.WaterLevelPercentage, s.WaterLevelMin)
	}
	if r.Temperature > s.TemperatureMax {
		add(TypeTempHigh, models.SeverityCritical,
			fmt.Sprintf("temperature %.1f°C above maximum %.1f°C", r.Temperature, s.TemperatureMax), r.Temperature, s.TemperatureMax)
	}

	return out
}
