package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Metric family names exposed by biofloc-server.
const (
	familyIngested   = "biofloc_readings_ingested_total"
	familyValidation = "biofloc_validation_failures_total"
	familyDropped    = "biofloc_dropped_messages_total"
	familyDevices    = "biofloc_devices_tracked"
	familySensors    = "biofloc_sensors_connected"
	labelCategory    = "category"
	labelTransport   = "transport"
)

// Snapshot is the server state read from one scrape.
type Snapshot struct {
	ScrapedAt time.Time

	// Ingested holds accepted readings per quality category.
	Ingested map[string]float64

	// ValidationFailures holds rejected payloads per transport (http, mqtt).
	ValidationFailures map[string]float64

	// Dropped is the total of messages dropped by server-side buffers.
	Dropped float64

	DevicesTracked   float64
	SensorsConnected float64
}

// TotalIngested sums Ingested over all categories.
func (s *Snapshot) TotalIngested() float64 {
	var total float64
	for _, v := range s.Ingested {
		total += v
	}
	return total
}

// Delta returns the counter growth from prev to s. Gauges are taken from s.
// A counter that went backwards means the server restarted; its current
// value is used as the delta.
func (s *Snapshot) Delta(prev *Snapshot) *Snapshot {
	out := &Snapshot{
		ScrapedAt:          s.ScrapedAt,
		Ingested:           deltaMap(s.Ingested, prev.Ingested),
		ValidationFailures: deltaMap(s.ValidationFailures, prev.ValidationFailures),
		Dropped:            delta(s.Dropped, prev.Dropped),
		DevicesTracked:     s.DevicesTracked,
		SensorsConnected:   s.SensorsConnected,
	}
	return out
}

// Scrape fetches url with client and folds the result into a Snapshot.
func Scrape(ctx context.Context, client *http.Client, url string) (*Snapshot, error) {
	mfs, err := fetchMetrics(ctx, client, url)
	if err != nil {
		return nil, fmt.Errorf("scraper: %w", err)
	}
	return &Snapshot{
		ScrapedAt:          time.Now().UTC(),
		Ingested:           sumByLabel(mfs[familyIngested], labelCategory),
		ValidationFailures: sumByLabel(mfs[familyValidation], labelTransport),
		Dropped:            sumFamily(mfs[familyDropped]),
		DevicesTracked:     sumFamily(mfs[familyDevices]),
		SensorsConnected:   sumFamily(mfs[familySensors]),
	}, nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil (metric not present in the scrape).
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		total += value(m)
	}
	return total
}

// sumByLabel groups the samples of mf by the value of label.
func sumByLabel(mf *dto.MetricFamily, label string) map[string]float64 {
	out := make(map[string]float64)
	if mf == nil {
		return out
	}
	for _, m := range mf.GetMetric() {
		key := ""
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label {
				key = lp.GetValue()
				break
			}
		}
		out[key] += value(m)
	}
	return out
}

func value(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return 0
}

func delta(cur, prev float64) float64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}

func deltaMap(cur, prev map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(cur))
	for k, v := range cur {
		out[k] = delta(v, prev[k])
	}
	return out
}
