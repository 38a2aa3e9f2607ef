package quality

import (
	"math"

	"github.com/smartbiofloc/biofloc/pkg/types"
)

// Range is a plausibility interval with independently open or closed ends.
type Range struct {
	Min, Max             float64
	MinClosed, MaxClosed bool
}

// Contains reports whether v lies inside the range. NaN and infinities are
// never contained.
func (rg Range) Contains(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	if rg.MinClosed {
		if v < rg.Min {
			return false
		}
	} else if v <= rg.Min {
		return false
	}
	if rg.MaxClosed {
		return v <= rg.Max
	}
	return v < rg.Max
}

// Plausibility holds, per channel, the range in which a value indicates a
// connected sensor producing a real signal. The pH floor is 0.1, not the
// 6.5 advice band: a disconnected probe reads ~0.
var Plausibility = map[types.Feature]Range{
	types.FeaturePH:           {Min: 0.1, Max: 14, MaxClosed: true},
	types.FeatureTemperatureC: {Min: -30, Max: 125},
	types.FeatureUltrasonicCM: {Min: 0.05, Max: 5000},
	types.FeatureTurbidityNTU: {Min: 0, Max: 10000, MinClosed: true},
}

// SensorFlags records which channels of a reading look connected.
type SensorFlags map[types.Feature]bool

// Flags evaluates every channel of r against Plausibility.
func Flags(r types.Reading) SensorFlags {
	flags := make(SensorFlags, len(types.Features))
	for _, f := range types.Features {
		rg, ok := Plausibility[f]
		flags[f] = ok && rg.Contains(r.Value(f))
	}
	return flags
}

// Connected returns the number of channels flagged as connected (0–4).
func (s SensorFlags) Connected() int {
	n := 0
	for _, ok := range s {
		if ok {
			n++
		}
	}
	return n
}
