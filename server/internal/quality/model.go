package quality

import (
	"math"

	"github.com/smartbiofloc/biofloc/pkg/types"
)

// Category constants returned by the score calculator.
const (
	CategoryGood     = "good"
	CategoryWarning  = "warning"
	CategoryCritical = "critical"
)

// Default thresholds that map a score to a category.
const (
	ThresholdGood    = 70
	ThresholdWarning = 45
)

// ModelVersion identifies the calibration table shipped with DefaultModel.
const ModelVersion = "0.2.0"

// Thresholds are the minimum scores for the good and warning categories.
type Thresholds struct {
	Good    int `json:"good"`
	Warning int `json:"warning"`
}

// Model is a logistic model over standardised sensor features.
// The zero value scores every reading as sigmoid(0) = 50.
type Model struct {
	Version    string                    `json:"version"`
	Type       string                    `json:"type"`
	Mean       map[types.Feature]float64 `json:"mean"`
	Std        map[types.Feature]float64 `json:"std"`
	Weights    map[types.Feature]float64 `json:"weights"`
	Bias       float64                   `json:"bias"`
	Thresholds Thresholds                `json:"thresholds"`
}

// Result is the scored outcome for one reading.
type Result struct {
	// Score is the water-quality score in the range 0–100.
	Score int `json:"score"`

	// Category is derived from Score: good, warning or critical.
	Category string `json:"category"`

	Advice Advice `json:"advice"`
}

// DefaultModel returns the calibrated model. Downstream calibration data
// depends on these exact constants.
func DefaultModel() Model {
	return Model{
		Version: ModelVersion,
		Type:    "logistic",
		Mean: map[types.Feature]float64{
			types.FeaturePH:           7.4,
			types.FeatureTemperatureC: 28.0,
			types.FeatureUltrasonicCM: 80.0,
			types.FeatureTurbidityNTU: 50.0,
		},
		Std: map[types.Feature]float64{
			types.FeaturePH:           0.4,
			types.FeatureTemperatureC: 2.0,
			types.FeatureUltrasonicCM: 20.0,
			types.FeatureTurbidityNTU: 30.0,
		},
		Weights: map[types.Feature]float64{
			types.FeaturePH:           0.8,
			types.FeatureTemperatureC: 0.5,
			types.FeatureUltrasonicCM: 0.6,
			types.FeatureTurbidityNTU: -0.7,
		},
		Bias:       0.2,
		Thresholds: Thresholds{Good: ThresholdGood, Warning: ThresholdWarning},
	}
}

// Predict scores r.
//
// Formula:
//
//	lin   = bias + Σ weight_f * (x_f - mean_f) / std_f
//	score = round(sigmoid(lin) * 100)
//
// A feature whose std is zero, negative or missing contributes nothing.
// Predict never fails for finite input; domain bounds are enforced at
// ingestion, not here.
func (m Model) Predict(r types.Reading) Result {
	lin := m.Linear(r)
	score := int(math.Round(sigmoid(lin) * 100))
	category := m.Category(score)
	return Result{
		Score:    score,
		Category: category,
		Advice:   Recommend(r, category),
	}
}

// Linear returns the pre-sigmoid linear combination for r.
func (m Model) Linear(r types.Reading) float64 {
	lin := m.Bias
	for _, f := range types.Features {
		lin += m.Weights[f] * zScore(r.Value(f), m.Mean[f], m.Std[f])
	}
	return lin
}

// Category maps a score to its category. Thresholds are checked from the
// highest down; the first one met wins.
func (m Model) Category(score int) string {
	switch {
	case score >= m.Thresholds.Good:
		return CategoryGood
	case score >= m.Thresholds.Warning:
		return CategoryWarning
	default:
		return CategoryCritical
	}
}

func zScore(x, mean, std float64) float64 {
	if std <= 0 {
		return 0
	}
	return (x - mean) / std
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
