package quality

import "github.com/smartbiofloc/biofloc/pkg/types"

// Advice is the human-readable diagnosis attached to a scored reading.
type Advice struct {
	Summary string   `json:"summary"`
	Issues  []string `json:"issues"`
	Actions []string `json:"actions"`
}

// Summaries shown for good and non-good categories.
const (
	SummaryNominal   = "All sensor readings are within optimal range. Continue routine monitoring."
	SummaryAttention = "Some parameters need attention. Please review recommendations below."
)

// Band is an inclusive optimal range for one channel. Readings strictly
// below Low or strictly above High raise an issue.
type Band struct {
	Low  float64
	High float64
}

// OptimalBands are the physiological bands used for advice. They answer
// "is this good for the fish", unlike Plausibility which answers "is the
// sensor producing a signal at all".
var OptimalBands = map[types.Feature]Band{
	types.FeaturePH:           {Low: 6.5, High: 8.5},
	types.FeatureTemperatureC: {Low: 26, High: 32},
	types.FeatureUltrasonicCM: {Low: 50, High: 120},
	types.FeatureTurbidityNTU: {Low: 20, High: 100},
}

// rule is the issue/action text for one side of a band.
type rule struct {
	issue  string
	action string
}

// bandRules holds the low and high rule for each channel. pH and
// temperature share a single issue text for both directions.
var bandRules = map[types.Feature][2]rule{
	types.FeaturePH: {
		{
			issue:  "pH out of optimal range (6.5-8.5)",
			action: "pH is too low - Add alkalinity buffer (sodium bicarbonate) gradually to raise pH.",
		},
		{
			issue:  "pH out of optimal range (6.5-8.5)",
			action: "pH is too high - Reduce aeration temporarily and monitor carefully.",
		},
	},
	types.FeatureTemperatureC: {
		{
			issue:  "Temperature not optimal (26-32°C)",
			action: "Water is too cold - Increase heating to maintain optimal temperature for fish health.",
		},
		{
			issue:  "Temperature not optimal (26-32°C)",
			action: "Water is too warm - Increase aeration and consider cooling methods to prevent stress.",
		},
	},
	types.FeatureUltrasonicCM: {
		{
			issue:  "Low water level detected",
			action: "Water level is low - Add fresh water immediately to maintain proper volume.",
		},
		{
			issue:  "High water level detected",
			action: "Water level is too high - Check for overflow and drainage system.",
		},
	},
	types.FeatureTurbidityNTU: {
		{
			issue:  "Low turbidity (biofloc may be insufficient)",
			action: "Biofloc density may be low - Verify carbon source dosing and probiotic levels.",
		},
		{
			issue:  "High turbidity detected",
			action: "Turbidity is elevated - Check biofloc density, reduce feeding rate, and ensure proper aeration.",
		},
	},
}

// Recommend derives advice for r. Issues are listed in channel order and
// are not deduplicated; actions keep only their first occurrence.
// The summary depends on category alone.
func Recommend(r types.Reading, category string) Advice {
	issues := make([]string, 0, len(types.Features))
	actions := make([]string, 0, len(types.Features))
	seen := make(map[string]struct{}, len(types.Features))

	for _, f := range types.Features {
		band, ok := OptimalBands[f]
		if !ok {
			continue
		}
		v := r.Value(f)
		var rl rule
		switch {
		case v < band.Low:
			rl = bandRules[f][0]
		case v > band.High:
			rl = bandRules[f][1]
		default:
			continue
		}
		issues = append(issues, rl.issue)
		if _, dup := seen[rl.action]; !dup {
			seen[rl.action] = struct{}{}
			actions = append(actions, rl.action)
		}
	}

	summary := SummaryAttention
	if category == CategoryGood {
		summary = SummaryNominal
	}
	return Advice{Summary: summary, Issues: issues, Actions: actions}
}
