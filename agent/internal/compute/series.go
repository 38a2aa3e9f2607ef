package compute

import (
	"math"
	"sync"
)

// Trend labels reported in Summary.Trend.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendSteady    = "steady"
	TrendUnknown   = "unknown"
)

const (
	// trendWindow is the number of points averaged at each end of the series
	// when deriving the trend.
	trendWindow = 5

	// trendThreshold is the score change, in points, needed to leave steady.
	trendThreshold = 5.0
)

// Point is one scored row of a replay. T is the row's timestamp cell, or
// its line number when the log has no timestamp column.
type Point struct {
	T        string `json:"t"`
	Score    int    `json:"score"`
	Category string `json:"category"`
}

// Summary is the derived view of a replay.
type Summary struct {
	Rows       int            `json:"rows"`
	Scored     int            `json:"scored"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	SuccessPct float64        `json:"success_pct"`
	Min        int            `json:"min"`
	Max        int            `json:"max"`
	Mean       float64        `json:"mean"`
	Categories map[string]int `json:"categories"`
	Worst      *Point         `json:"worst,omitempty"`
	Trend      string         `json:"trend"`
}

// Series accumulates the outcome of every row of a replay.
//
// All exported methods are safe for concurrent use.
type Series struct {
	mu      sync.Mutex
	points  []Point
	failed  int
	skipped int
}

// NewSeries returns an empty Series.
func NewSeries() *Series {
	return &Series{points: []Point{}}
}

// Add records a row the server scored.
func (s *Series) Add(p Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, p)
}

// Fail records a row the server did not score.
func (s *Series) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
}

// Skip records n rows that never left the agent (unparseable cells).
func (s *Series) Skip(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped += n
}

// Points returns a copy of the scored points in the order they were added.
func (s *Series) Points() []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

// Summary derives the replay summary from the points recorded so far.
func (s *Series) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		Scored:     len(s.points),
		Failed:     s.failed,
		Skipped:    s.skipped,
		Categories: make(map[string]int),
		Trend:      TrendUnknown,
	}
	sum.Rows = sum.Scored + sum.Failed + sum.Skipped
	if sent := sum.Scored + sum.Failed; sent > 0 {
		sum.SuccessPct = float64(sum.Scored) / float64(sent) * 100
	}
	if len(s.points) == 0 {
		return sum
	}

	sum.Min, sum.Max = math.MaxInt, math.MinInt
	total := 0
	worst := 0
	for i, p := range s.points {
		total += p.Score
		sum.Min = min(sum.Min, p.Score)
		sum.Max = max(sum.Max, p.Score)
		sum.Categories[p.Category]++
		if p.Score < s.points[worst].Score {
			worst = i
		}
	}
	sum.Mean = float64(total) / float64(len(s.points))
	w := s.points[worst]
	sum.Worst = &w
	sum.Trend = trend(s.points)
	return sum
}

// trend compares the mean of the first and last trendWindow points. Fewer
// than two points have no trend; short series use half of the points at
// each end.
func trend(points []Point) string {
	if len(points) < 2 {
		return TrendUnknown
	}
	n := min(trendWindow, len(points)/2)
	delta := meanScore(points[len(points)-n:]) - meanScore(points[:n])
	switch {
	case delta >= trendThreshold:
		return TrendImproving
	case delta <= -trendThreshold:
		return TrendDeclining
	default:
		return TrendSteady
	}
}

func meanScore(points []Point) float64 {
	total := 0
	for _, p := range points {
		total += p.Score
	}
	return float64(total) / float64(len(points))
}
