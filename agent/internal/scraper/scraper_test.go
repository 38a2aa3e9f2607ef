package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// serverMetrics is a realistic subset of biofloc-server's /metrics output.
const serverMetrics = `
# HELP biofloc_readings_ingested_total Readings accepted and scored, by category.
# TYPE biofloc_readings_ingested_total counter
biofloc_readings_ingested_total{category="critical"} 2
biofloc_readings_ingested_total{category="good"} 10
biofloc_readings_ingested_total{category="warning"} 5

# HELP biofloc_validation_failures_total Readings rejected by validation.
# TYPE biofloc_validation_failures_total counter
biofloc_validation_failures_total{field="ph",transport="http"} 1
biofloc_validation_failures_total{field="body",transport="http"} 2
biofloc_validation_failures_total{field="ph",transport="mqtt"} 4

# HELP biofloc_dropped_messages_total Messages dropped by full buffers.
# TYPE biofloc_dropped_messages_total counter
biofloc_dropped_messages_total{component="mqtt"} 3
biofloc_dropped_messages_total{component="kafka"} 1

# HELP biofloc_devices_tracked Devices currently held in the registry.
# TYPE biofloc_devices_tracked gauge
biofloc_devices_tracked 2

# HELP biofloc_sensors_connected Connected sensors summed across devices.
# TYPE biofloc_sensors_connected gauge
biofloc_sensors_connected 7
`

func metricsServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept"), "text/plain") {
			t.Errorf("accept: got %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestScrape(t *testing.T) {
	srv := metricsServer(t, serverMetrics, http.StatusOK)

	snap, err := Scrape(context.Background(), srv.Client(), srv.URL+"/metrics")
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if snap.Ingested["good"] != 10 || snap.Ingested["warning"] != 5 || snap.Ingested["critical"] != 2 {
		t.Errorf("Ingested = %v", snap.Ingested)
	}
	if snap.TotalIngested() != 17 {
		t.Errorf("TotalIngested() = %v, want 17", snap.TotalIngested())
	}
	if snap.ValidationFailures["http"] != 3 || snap.ValidationFailures["mqtt"] != 4 {
		t.Errorf("ValidationFailures = %v", snap.ValidationFailures)
	}
	if snap.Dropped != 4 {
		t.Errorf("Dropped = %v, want 4", snap.Dropped)
	}
	if snap.DevicesTracked != 2 || snap.SensorsConnected != 7 {
		t.Errorf("gauges = %v/%v, want 2/7", snap.DevicesTracked, snap.SensorsConnected)
	}
}

func TestScrape_FreshServer(t *testing.T) {
	// A server that has not ingested anything exposes no labelled series.
	srv := metricsServer(t, "# TYPE biofloc_devices_tracked gauge\nbiofloc_devices_tracked 0\n", http.StatusOK)

	snap, err := Scrape(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if snap.TotalIngested() != 0 || len(snap.ValidationFailures) != 0 || snap.Dropped != 0 {
		t.Errorf("expected zeros, got %+v", snap)
	}
}

func TestScrape_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"non-200", serverMetrics, http.StatusUnauthorized},
		{"garbage", "!!! not metrics\n", http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := metricsServer(t, tc.body, tc.status)
			if _, err := Scrape(context.Background(), srv.Client(), srv.URL); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSnapshot_Delta(t *testing.T) {
	before := &Snapshot{
		Ingested:           map[string]float64{"good": 10, "warning": 5},
		ValidationFailures: map[string]float64{"http": 3},
		Dropped:            4,
		DevicesTracked:     1,
	}
	after := &Snapshot{
		Ingested:           map[string]float64{"good": 12, "warning": 5, "critical": 1},
		ValidationFailures: map[string]float64{"http": 1},
		Dropped:            6,
		DevicesTracked:     2,
		SensorsConnected:   8,
	}

	d := after.Delta(before)
	if d.Ingested["good"] != 2 || d.Ingested["warning"] != 0 || d.Ingested["critical"] != 1 {
		t.Errorf("Ingested delta = %v", d.Ingested)
	}
	if d.TotalIngested() != 3 {
		t.Errorf("TotalIngested() = %v, want 3", d.TotalIngested())
	}
	// Counter went backwards: server restarted, current value is the delta.
	if d.ValidationFailures["http"] != 1 {
		t.Errorf("reset counter delta = %v, want 1", d.ValidationFailures["http"])
	}
	if d.Dropped != 2 || d.DevicesTracked != 2 || d.SensorsConnected != 8 {
		t.Errorf("delta = %+v", d)
	}
}
