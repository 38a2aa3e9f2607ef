package compute

import (
	"math"
	"strconv"
	"sync"
	"testing"
)

// almostEqual returns true if a and b are within epsilon of each other.
func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

func seriesOf(scores ...int) *Series {
	s := NewSeries()
	for i, sc := range scores {
		cat := "critical"
		switch {
		case sc >= 80:
			cat = "good"
		case sc >= 45:
			cat = "warning"
		}
		s.Add(Point{T: strconv.Itoa(i), Score: sc, Category: cat})
	}
	return s
}

func TestSummary_Empty(t *testing.T) {
	sum := NewSeries().Summary()
	if sum.Rows != 0 || sum.Scored != 0 || sum.Worst != nil {
		t.Errorf("empty: got %+v", sum)
	}
	if sum.Trend != TrendUnknown || sum.SuccessPct != 0 {
		t.Errorf("empty trend/success: got %q %v", sum.Trend, sum.SuccessPct)
	}
	if sum.Categories == nil {
		t.Error("Categories should be non-nil")
	}
}

func TestSummary_Stats(t *testing.T) {
	s := seriesOf(55, 86, 1, 55)
	s.Fail()
	s.Skip(3)

	sum := s.Summary()
	if sum.Rows != 8 || sum.Scored != 4 || sum.Failed != 1 || sum.Skipped != 3 {
		t.Errorf("counts: got %+v", sum)
	}
	if !almostEqual(sum.SuccessPct, 80, 0.001) {
		t.Errorf("SuccessPct = %v, want 80", sum.SuccessPct)
	}
	if sum.Min != 1 || sum.Max != 86 || !almostEqual(sum.Mean, 49.25, 0.001) {
		t.Errorf("min/max/mean: got %d/%d/%v", sum.Min, sum.Max, sum.Mean)
	}
	want := map[string]int{"warning": 2, "good": 1, "critical": 1}
	for k, v := range want {
		if sum.Categories[k] != v {
			t.Errorf("Categories[%s] = %d, want %d", k, sum.Categories[k], v)
		}
	}
	if sum.Worst == nil || sum.Worst.Score != 1 || sum.Worst.T != "2" {
		t.Errorf("Worst = %+v", sum.Worst)
	}
}

func TestSummary_WorstKeepsFirstOfTies(t *testing.T) {
	sum := seriesOf(40, 10, 10).Summary()
	if sum.Worst.T != "1" {
		t.Errorf("Worst.T = %q, want 1", sum.Worst.T)
	}
}

func TestTrend(t *testing.T) {
	tests := []struct {
		name   string
		scores []int
		want   string
	}{
		{"single point", []int{50}, TrendUnknown},
		{"two points up", []int{40, 60}, TrendImproving},
		{"two points flat", []int{50, 53}, TrendSteady},
		{"declining", []int{90, 88, 86, 84, 80, 60, 50, 45, 40, 30}, TrendDeclining},
		{"noisy but steady", []int{50, 70, 50, 70, 60, 60, 70, 50, 70, 50}, TrendSteady},
		// Only the first and last five points count.
		{"dip in the middle", []int{80, 80, 80, 80, 80, 10, 10, 80, 80, 80, 80, 80}, TrendSteady},
		{"boundary exactly five", []int{50, 55}, TrendImproving},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := seriesOf(tc.scores...).Summary().Trend; got != tc.want {
				t.Errorf("Trend = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPoints_ReturnsCopy(t *testing.T) {
	s := seriesOf(10, 20)
	pts := s.Points()
	pts[0].Score = 99
	if s.Points()[0].Score != 10 {
		t.Error("Points should return a copy")
	}
}

func TestSeries_Concurrent(t *testing.T) {
	s := NewSeries()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%5 == 0 {
				s.Fail()
				return
			}
			s.Add(Point{T: strconv.Itoa(i), Score: i, Category: "warning"})
		}(i)
	}
	wg.Wait()
	sum := s.Summary()
	if sum.Scored != 40 || sum.Failed != 10 {
		t.Errorf("got scored=%d failed=%d, want 40 and 10", sum.Scored, sum.Failed)
	}
}
