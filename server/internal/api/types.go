package api

import (
	"github.com/smartbiofloc/biofloc/server/internal/alerts"
	"github.com/smartbiofloc/biofloc/server/internal/quality"
)

// PredictResponse is the payload for POST /predict.
type PredictResponse struct {
	Score            int            `json:"score"`
	Category         string         `json:"category"`
	Advice           quality.Advice `json:"advice"`
	ActiveDevices    int            `json:"active_devices"`
	TotalSensors     int            `json:"total_sensors"`
	DeviceID         string         `json:"device_id"`
	SensorsConnected int            `json:"sensors_connected"`
}

// FleetResponse is the payload for GET /predict and the /ws/stream push.
type FleetResponse struct {
	TotalDevices int              `json:"total_devices"`
	TotalSensors int              `json:"total_sensors"`
	Devices      []DeviceResponse `json:"devices"`
	Timestamp    string           `json:"timestamp"` // ISO-8601 UTC, milliseconds
}

// DeviceResponse is one device entry in FleetResponse.
type DeviceResponse struct {
	DeviceID         string  `json:"device_id"`
	PH               float64 `json:"ph"`
	TemperatureC     float64 `json:"temperature_c"`
	UltrasonicCM     float64 `json:"ultrasonic_cm"`
	TurbidityNTU     float64 `json:"turbidity_ntu"`
	QualityScore     int     `json:"quality_score"`
	SensorsConnected int     `json:"sensors_connected"`
	LastUpdate       string  `json:"last_update"` // ISO-8601 UTC, milliseconds
	IsActive         bool    `json:"is_active"`
}

// DeviceDetailResponse is the payload for GET /api/v1/devices/{id}.
type DeviceDetailResponse struct {
	DeviceResponse
	Category    string           `json:"category"`
	Sensors     map[string]bool  `json:"sensors"`
	Diagnostics []DiagnosticHint `json:"diagnostics"`
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	OverallScore  float64 `json:"overall_score"`
	Category      string  `json:"category"`
	DeviceCount   int     `json:"device_count"`
	ActiveCount   int     `json:"active_count"`
	GoodCount     int     `json:"good_count"`
	WarningCount  int     `json:"warning_count"`
	CriticalCount int     `json:"critical_count"`
	TotalSensors  int     `json:"total_sensors"`
	AlertCount    int     `json:"alert_count"`
}

// AlertsResponse is the payload for GET /api/v1/alerts.
type AlertsResponse struct {
	Alerts []*alerts.Alert `json:"alerts"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
