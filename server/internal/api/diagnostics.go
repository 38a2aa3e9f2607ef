package api

import (
	"fmt"
	"strings"

	"github.com/smartbiofloc/biofloc/pkg/types"
	"github.com/smartbiofloc/biofloc/server/internal/quality"
	"github.com/smartbiofloc/biofloc/server/internal/registry"
)

// DiagnosticHint is one operator-facing insight about a device.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level  string   `json:"level"`
	Title  string   `json:"title"`
	Detail string   `json:"detail"`
	Value  *float64 `json:"value,omitempty"`
}

var sensorNames = map[types.Feature]string{
	types.FeaturePH:           "pH probe",
	types.FeatureTemperatureC: "Temperature probe",
	types.FeatureUltrasonicCM: "Ultrasonic level sensor",
	types.FeatureTurbidityNTU: "Turbidity sensor",
}

// computeDiagnostics derives hints from a device snapshot, critical first.
func computeDiagnostics(d registry.DeviceSnapshot, category string) []DiagnosticHint {
	var critical, warning []DiagnosticHint

	// ── Sensor connectivity ─────────────────────────────────────────────────
	flags := quality.Flags(d.Reading.Reading)
	for _, f := range types.Features {
		if flags[f] {
			continue
		}
		v := d.Reading.Value(f)
		rg := quality.Plausibility[f]
		critical = append(critical, DiagnosticHint{
			Key:   "sensor_offline_" + string(f),
			Level: "critical",
			Title: sensorNames[f] + " offline",
			Detail: fmt.Sprintf(
				"The node reported %s = %g, outside the range a working sensor produces (%g to %g). "+
					"Check the probe cable and connector, then recalibrate. "+
					"Until it recovers, the quality score for this pond is computed from a bad value.",
				f, v, rg.Min, rg.Max,
			),
			Value: &v,
		})
	}

	// ── Silence ─────────────────────────────────────────────────────────────
	if !d.IsActive {
		warning = append(warning, DiagnosticHint{
			Key:   "silent",
			Level: "warning",
			Title: "Node silent",
			Detail: "No reading has arrived recently. The device is still tracked with its last values, " +
				"but will be dropped if it stays silent. Check power and Wi-Fi on the node.",
		})
	}

	// ── Score ───────────────────────────────────────────────────────────────
	score := float64(d.Reading.QualityScore)
	switch category {
	case quality.CategoryCritical:
		critical = append(critical, DiagnosticHint{
			Key:    "score_critical",
			Level:  "critical",
			Title:  fmt.Sprintf("Score %d/100", d.Reading.QualityScore),
			Detail: "Water quality is critical. " + adviceText(d),
			Value:  &score,
		})
	case quality.CategoryWarning:
		warning = append(warning, DiagnosticHint{
			Key:    "score_warning",
			Level:  "warning",
			Title:  fmt.Sprintf("Score %d/100", d.Reading.QualityScore),
			Detail: "Water quality needs attention. " + adviceText(d),
			Value:  &score,
		})
	}

	hints := append(critical, warning...)
	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "healthy",
			Level: "ok",
			Title: "All clear",
			Detail: fmt.Sprintf(
				"All four sensors are reporting and the water-quality score is %.0f/100.", score),
			Value: &score,
		})
	}
	return hints
}

// adviceText joins the recommended actions for the device's last reading.
func adviceText(d registry.DeviceSnapshot) string {
	adv := quality.Recommend(d.Reading.Reading, quality.CategoryWarning)
	if len(adv.Actions) == 0 {
		return "Every channel is inside its optimal band; watch the trend."
	}
	return strings.Join(adv.Actions, " ")
}
