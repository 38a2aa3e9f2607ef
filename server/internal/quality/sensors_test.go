package quality

import (
	"math"
	"testing"

	"github.com/smartbiofloc/biofloc/pkg/types"
)

func TestFlags_Connected(t *testing.T) {
	tests := []struct {
		name string
		in   types.Reading
		want int
	}{
		{name: "all plausible", in: meanReading(), want: 4},
		{name: "ph probe floating", in: types.Reading{PH: 0.05, TemperatureC: 28, UltrasonicCM: 80, TurbidityNTU: 50}, want: 3},
		{name: "ph at 14 is plausible", in: types.Reading{PH: 14, TemperatureC: 28, UltrasonicCM: 80, TurbidityNTU: 50}, want: 4},
		{name: "temperature sentinel -127", in: types.Reading{PH: 7, TemperatureC: -127, UltrasonicCM: 80, TurbidityNTU: 50}, want: 3},
		{name: "temperature at 125 is open", in: types.Reading{PH: 7, TemperatureC: 125, UltrasonicCM: 80, TurbidityNTU: 50}, want: 3},
		{name: "no echo", in: types.Reading{PH: 7, TemperatureC: 28, UltrasonicCM: 0, TurbidityNTU: 50}, want: 3},
		{name: "zero turbidity is plausible", in: types.Reading{PH: 7, TemperatureC: 28, UltrasonicCM: 80, TurbidityNTU: 0}, want: 4},
		{name: "negative turbidity", in: types.Reading{PH: 7, TemperatureC: 28, UltrasonicCM: 80, TurbidityNTU: -1}, want: 3},
		{name: "all dead", in: types.Reading{PH: 0, TemperatureC: 200, UltrasonicCM: 6000, TurbidityNTU: 10000}, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Flags(tc.in).Connected(); got != tc.want {
				t.Errorf("Connected: got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRange_RejectsNonFinite(t *testing.T) {
	rg := Range{Min: -1e9, Max: 1e9}
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if rg.Contains(v) {
			t.Errorf("Contains(%v): got true, want false", v)
		}
	}
}
