package types

// Feature names one of the four sensor channels.
type Feature string

// The sensor channels, named as they appear on the wire.
const (
	FeaturePH           Feature = "ph"
	FeatureTemperatureC Feature = "temperature_c"
	FeatureUltrasonicCM Feature = "ultrasonic_cm"
	FeatureTurbidityNTU Feature = "turbidity_ntu"
)

// Features lists every channel in canonical order. Validation reports the
// first failing field in this order.
var Features = []Feature{
	FeaturePH,
	FeatureTemperatureC,
	FeatureUltrasonicCM,
	FeatureTurbidityNTU,
}

// Reading is one sample of the four sensor channels from a pond node.
type Reading struct {
	// PH is the water pH, expected in (0, 14].
	PH float64 `json:"ph"`

	// TemperatureC is the water temperature in degrees Celsius.
	TemperatureC float64 `json:"temperature_c"`

	// UltrasonicCM is the ultrasonic distance reading, used as a water-level
	// proxy, in centimetres.
	UltrasonicCM float64 `json:"ultrasonic_cm"`

	// TurbidityNTU is the turbidity in nephelometric turbidity units.
	TurbidityNTU float64 `json:"turbidity_ntu"`
}

// Value returns the reading's value for f, or 0 for an unknown feature.
func (r Reading) Value(f Feature) float64 {
	switch f {
	case FeaturePH:
		return r.PH
	case FeatureTemperatureC:
		return r.TemperatureC
	case FeatureUltrasonicCM:
		return r.UltrasonicCM
	case FeatureTurbidityNTU:
		return r.TurbidityNTU
	default:
		return 0
	}
}

// Set assigns v to the channel named by f. Unknown features are ignored.
func (r *Reading) Set(f Feature, v float64) {
	switch f {
	case FeaturePH:
		r.PH = v
	case FeatureTemperatureC:
		r.TemperatureC = v
	case FeatureUltrasonicCM:
		r.UltrasonicCM = v
	case FeatureTurbidityNTU:
		r.TurbidityNTU = v
	}
}
