package alerts

import (
	"strconv"
	"strings"

	"github.com/smartbiofloc/biofloc/server/internal/registry"
)

// evalCondition evaluates a rule condition string against one accepted reading.
//
// Supported expressions (field operator value):
//
//	score < 45
//	category == critical
//	ph < 6.5
//	temperature_c > 32
//	ultrasonic_cm < 50
//	turbidity_ntu > 100
//	sensors_connected < 4
//	fleet_sensors < 8
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, ev registry.Ingested) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	switch field {
	case "category":
		switch op {
		case "==":
			return ev.Result.Category == rhs, float64(ev.Result.Score)
		case "!=":
			return ev.Result.Category != rhs, float64(ev.Result.Score)
		}
		return false, 0

	default:
		v, ok := numericField(field, ev)
		if !ok {
			return false, 0
		}
		threshold, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return false, 0
		}
		return compareFloat(v, op, threshold), v
	}
}

// validCondition reports whether cond parses into a known field and operator.
func validCondition(cond string) bool {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false
	}
	if parts[0] == "category" {
		return parts[1] == "==" || parts[1] == "!="
	}
	if _, ok := numericField(parts[0], registry.Ingested{}); !ok {
		return false
	}
	if _, err := strconv.ParseFloat(parts[2], 64); err != nil {
		return false
	}
	switch parts[1] {
	case ">", ">=", "<", "<=", "==":
		return true
	}
	return false
}

// numericField maps a field name to its value in the event.
func numericField(field string, ev registry.Ingested) (float64, bool) {
	switch field {
	case "score":
		return float64(ev.Result.Score), true
	case "ph":
		return ev.Reading.PH, true
	case "temperature_c":
		return ev.Reading.TemperatureC, true
	case "ultrasonic_cm":
		return ev.Reading.UltrasonicCM, true
	case "turbidity_ntu":
		return ev.Reading.TurbidityNTU, true
	case "sensors_connected":
		return float64(ev.Reading.SensorsConnected), true
	case "fleet_sensors":
		return float64(ev.TotalSensors), true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
