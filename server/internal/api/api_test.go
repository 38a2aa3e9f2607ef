package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smartbiofloc/biofloc/server/internal/alerts"
	"github.com/smartbiofloc/biofloc/server/internal/api"
	"github.com/smartbiofloc/biofloc/server/internal/auth"
	"github.com/smartbiofloc/biofloc/server/internal/quality"
	"github.com/smartbiofloc/biofloc/server/internal/registry"
)

// --- test helpers -----------------------------------------------------------

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type failures struct {
	mu     sync.Mutex
	fields []string
}

func (f *failures) ValidationFailed(field, transport string) {
	f.mu.Lock()
	f.fields = append(f.fields, field+"/"+transport)
	f.mu.Unlock()
}

type staticAlerts []*alerts.Alert

func (s staticAlerts) Active() []*alerts.Alert { return s }

const (
	meanBody     = `{"ph": 7.4, "temperature_c": 28, "ultrasonic_cm": 80, "turbidity_ntu": 50}`
	goodBody     = `{"ph": 7.8, "temperature_c": 29, "ultrasonic_cm": 90, "turbidity_ntu": 40}`
	acidicBody   = `{"ph": 5.0, "temperature_c": 28, "ultrasonic_cm": 80, "turbidity_ntu": 50}`
	noProbeBody  = `{"ph": 0, "temperature_c": 28, "ultrasonic_cm": 80, "turbidity_ntu": 50}`
	fixedStartAt = "2026-03-01T08:00:00.000Z"
)

func newHandler(opts api.Options) (http.Handler, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	reg := registry.New(registry.Config{}, quality.DefaultModel(), registry.WithClock(c.Now))
	return api.New(reg, opts), c
}

func post(t *testing.T, h http.Handler, device, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if device != "" {
		req.Header.Set("X-Device-ID", device)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- POST /predict ----------------------------------------------------------

func TestPostPredict_MeanReading(t *testing.T) {
	h, _ := newHandler(api.Options{})
	rr := post(t, h, "", meanBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type: got %q", ct)
	}

	var resp api.PredictResponse
	decode(t, rr, &resp)
	if resp.Score != 55 || resp.Category != quality.CategoryWarning {
		t.Errorf("score: got %d/%s, want 55/warning", resp.Score, resp.Category)
	}
	if resp.DeviceID != registry.DefaultDeviceID {
		t.Errorf("device_id: got %q, want default", resp.DeviceID)
	}
	if resp.ActiveDevices != 1 || resp.TotalSensors != 4 || resp.SensorsConnected != 4 {
		t.Errorf("fleet fields: got %+v", resp)
	}
	if resp.Advice.Summary != quality.SummaryAttention || len(resp.Advice.Issues) != 0 || len(resp.Advice.Actions) != 0 {
		t.Errorf("advice: got %+v", resp.Advice)
	}
}

func TestPostPredict_WireFieldNames(t *testing.T) {
	h, _ := newHandler(api.Options{})
	rr := post(t, h, "pond-1", meanBody)

	var raw map[string]json.RawMessage
	decode(t, rr, &raw)
	for _, k := range []string{"score", "category", "advice", "active_devices", "total_sensors", "device_id", "sensors_connected"} {
		if _, ok := raw[k]; !ok {
			t.Errorf("missing key %q in %v", k, raw)
		}
	}
	// Empty advice lists serialize as [] rather than null.
	if !strings.Contains(string(raw["advice"]), `"issues":[]`) {
		t.Errorf("advice: got %s", raw["advice"])
	}
}

func TestPostPredict_AcidicWater(t *testing.T) {
	h, _ := newHandler(api.Options{})
	var resp api.PredictResponse
	decode(t, post(t, h, "pond-1", acidicBody), &resp)

	if resp.Category != quality.CategoryCritical {
		t.Errorf("category: got %q, want critical", resp.Category)
	}
	if len(resp.Advice.Actions) != 1 || !strings.Contains(resp.Advice.Actions[0], "raise pH") {
		t.Errorf("actions: got %v", resp.Advice.Actions)
	}
}

func TestPostPredict_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantError string
		wantField string
	}{
		{"string ph", `{"ph": "7.0", "temperature_c": 28, "ultrasonic_cm": 80, "turbidity_ntu": 50}`, "Invalid or missing 'ph'", "ph"},
		{"missing turbidity", `{"ph": 7, "temperature_c": 28, "ultrasonic_cm": 80}`, "Invalid or missing 'turbidity_ntu'", "turbidity_ntu"},
		{"not json", `ph=7`, "invalid JSON body", ""},
		{"empty body", ``, "invalid JSON body", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := &failures{}
			h, _ := newHandler(api.Options{Failures: f})
			rr := post(t, h, "pond-1", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status: got %d, want 400", rr.Code)
			}
			var resp map[string]string
			decode(t, rr, &resp)
			if resp["error"] != tc.wantError {
				t.Errorf("error: got %q, want %q", resp["error"], tc.wantError)
			}
			if len(f.fields) != 1 || f.fields[0] != tc.wantField+"/http" {
				t.Errorf("failure record: got %v", f.fields)
			}

			// Nothing stored.
			var fleet api.FleetResponse
			decode(t, get(t, h, "/predict"), &fleet)
			if fleet.TotalDevices != 0 {
				t.Errorf("total_devices after rejection: got %d, want 0", fleet.TotalDevices)
			}
		})
	}
}

func TestPostPredict_BodyTooLarge(t *testing.T) {
	h, _ := newHandler(api.Options{MaxBodyBytes: 16})
	rr := post(t, h, "pond-1", meanBody)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status: got %d, want 413", rr.Code)
	}
}

func TestPostPredict_CustomDeviceHeader(t *testing.T) {
	h, _ := newHandler(api.Options{DeviceHeader: "X-Node"})
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(meanBody))
	req.Header.Set("X-Node", "tank-9")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var resp api.PredictResponse
	decode(t, rr, &resp)
	if resp.DeviceID != "tank-9" {
		t.Errorf("device_id: got %q, want tank-9", resp.DeviceID)
	}
}

func TestPostPredict_IngestGate(t *testing.T) {
	h, _ := newHandler(api.Options{IngestGate: auth.APIKey("apikey", "X-API-Key", "s3cret")})

	if rr := post(t, h, "pond-1", meanBody); rr.Code != http.StatusUnauthorized {
		t.Fatalf("without key: got %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(meanBody))
	req.Header.Set("X-API-Key", "s3cret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("with key: got %d, want 200", rr.Code)
	}

	// Reads stay open.
	if rr := get(t, h, "/predict"); rr.Code != http.StatusOK {
		t.Errorf("GET /predict: got %d, want 200", rr.Code)
	}
}

// --- GET /predict -----------------------------------------------------------

func TestGetPredict_Empty(t *testing.T) {
	h, _ := newHandler(api.Options{})
	rr := get(t, h, "/predict")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var raw map[string]json.RawMessage
	decode(t, rr, &raw)
	if string(raw["devices"]) != "[]" {
		t.Errorf("devices: got %s, want []", raw["devices"])
	}
	if string(raw["timestamp"]) != `"`+fixedStartAt+`"` {
		t.Errorf("timestamp: got %s", raw["timestamp"])
	}
}

func TestGetPredict_TwoDevices(t *testing.T) {
	h, c := newHandler(api.Options{})
	post(t, h, "pond-a", meanBody)
	c.Advance(1500 * time.Millisecond)
	post(t, h, "pond-b", noProbeBody)

	var fleet api.FleetResponse
	decode(t, get(t, h, "/predict"), &fleet)

	if fleet.TotalDevices != 2 {
		t.Fatalf("total_devices: got %d, want 2", fleet.TotalDevices)
	}
	if fleet.TotalSensors != 7 {
		t.Errorf("total_sensors: got %d, want 4+3", fleet.TotalSensors)
	}
	a, b := fleet.Devices[0], fleet.Devices[1]
	if a.DeviceID != "pond-a" || b.DeviceID != "pond-b" {
		t.Fatalf("order: got %s, %s", a.DeviceID, b.DeviceID)
	}
	if a.QualityScore != 55 || a.SensorsConnected != 4 || a.PH != 7.4 || !a.IsActive {
		t.Errorf("pond-a: got %+v", a)
	}
	if b.LastUpdate != "2026-03-01T08:00:01.500Z" {
		t.Errorf("last_update: got %q", b.LastUpdate)
	}
	if b.SensorsConnected != 3 {
		t.Errorf("pond-b sensors: got %d, want 3", b.SensorsConnected)
	}
}

func TestGetPredict_InactiveThenEvicted(t *testing.T) {
	h, c := newHandler(api.Options{})
	post(t, h, "old", meanBody)

	c.Advance(2*time.Minute + time.Second)
	var fleet api.FleetResponse
	decode(t, get(t, h, "/predict"), &fleet)
	if len(fleet.Devices) != 1 || fleet.Devices[0].IsActive {
		t.Fatalf("after 2m1s: want one inactive device, got %+v", fleet.Devices)
	}
	if fleet.TotalSensors != 4 {
		t.Errorf("inactive devices still count sensors: got %d", fleet.TotalSensors)
	}

	c.Advance(3 * time.Minute)
	var resp api.PredictResponse
	decode(t, post(t, h, "new", meanBody), &resp)
	if resp.ActiveDevices != 1 {
		t.Errorf("active_devices after eviction: got %d, want 1", resp.ActiveDevices)
	}
}

func TestPredict_MethodNotAllowed(t *testing.T) {
	h, _ := newHandler(api.Options{})
	for _, m := range []string{http.MethodPut, http.MethodDelete, http.MethodPatch} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(m, "/predict", nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: got %d, want 405", m, rr.Code)
		}
		if rr.Header().Get("Allow") != "GET, POST" {
			t.Errorf("%s: Allow header %q", m, rr.Header().Get("Allow"))
		}
	}
}

// --- /api/v1/* --------------------------------------------------------------

func TestHealth_Empty(t *testing.T) {
	h, _ := newHandler(api.Options{})
	var resp api.HealthResponse
	decode(t, get(t, h, "/api/v1/health"), &resp)
	if resp.Category != "unknown" || resp.DeviceCount != 0 {
		t.Errorf("got %+v", resp)
	}
}

func TestHealth_Counts(t *testing.T) {
	firing := &alerts.Alert{RuleName: "x", State: "firing"}
	resolved := &alerts.Alert{RuleName: "y", State: "resolved"}
	h, _ := newHandler(api.Options{Alerts: staticAlerts{firing, resolved}})

	post(t, h, "good", goodBody)   // 86
	post(t, h, "warn", meanBody)   // 55
	post(t, h, "crit", acidicBody) // 1

	var resp api.HealthResponse
	decode(t, get(t, h, "/api/v1/health"), &resp)
	if resp.DeviceCount != 3 || resp.ActiveCount != 3 {
		t.Errorf("counts: got %+v", resp)
	}
	if resp.GoodCount != 1 || resp.WarningCount != 1 || resp.CriticalCount != 1 {
		t.Errorf("categories: got %+v", resp)
	}
	if resp.OverallScore != 142.0/3 {
		t.Errorf("overall_score: got %v", resp.OverallScore)
	}
	// round(47.33) = 47 → warning
	if resp.Category != quality.CategoryWarning {
		t.Errorf("category: got %q, want warning", resp.Category)
	}
	if resp.AlertCount != 1 {
		t.Errorf("alert_count: got %d, want 1", resp.AlertCount)
	}
}

func TestGetDevice(t *testing.T) {
	h, _ := newHandler(api.Options{})
	post(t, h, "pond-3", noProbeBody)

	rr := get(t, h, "/api/v1/devices/pond-3")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.DeviceDetailResponse
	decode(t, rr, &resp)
	if resp.DeviceID != "pond-3" || resp.SensorsConnected != 3 {
		t.Errorf("device: got %+v", resp.DeviceResponse)
	}
	if resp.Sensors["ph"] || !resp.Sensors["temperature_c"] {
		t.Errorf("sensors: got %v", resp.Sensors)
	}
	if len(resp.Diagnostics) == 0 || resp.Diagnostics[0].Key != "sensor_offline_ph" {
		t.Errorf("diagnostics: got %+v", resp.Diagnostics)
	}
}

func TestGetDevice_HealthyHint(t *testing.T) {
	h, _ := newHandler(api.Options{})
	post(t, h, "pond-ok", goodBody)

	var resp api.DeviceDetailResponse
	decode(t, get(t, h, "/api/v1/devices/pond-ok"), &resp)
	if resp.Category != quality.CategoryGood {
		t.Errorf("category: got %q", resp.Category)
	}
	if len(resp.Diagnostics) != 1 || resp.Diagnostics[0].Level != "ok" {
		t.Errorf("diagnostics: got %+v", resp.Diagnostics)
	}
}

func TestGetDevice_NotFoundAndStale(t *testing.T) {
	h, c := newHandler(api.Options{})
	if rr := get(t, h, "/api/v1/devices/ghost"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown: got %d, want 404", rr.Code)
	}
	post(t, h, "pond-1", meanBody)
	c.Advance(5*time.Minute + time.Second)
	if rr := get(t, h, "/api/v1/devices/pond-1"); rr.Code != http.StatusNotFound {
		t.Errorf("stale: got %d, want 404", rr.Code)
	}
}

func TestListDevices(t *testing.T) {
	h, _ := newHandler(api.Options{})
	post(t, h, "a", meanBody)
	for _, p := range []string{"/api/v1/devices", "/api/v1/devices/"} {
		var fleet api.FleetResponse
		decode(t, get(t, h, p), &fleet)
		if fleet.TotalDevices != 1 {
			t.Errorf("%s: total_devices got %d, want 1", p, fleet.TotalDevices)
		}
	}
}

func TestModel(t *testing.T) {
	h, _ := newHandler(api.Options{})
	var resp map[string]interface{}
	decode(t, get(t, h, "/api/v1/model"), &resp)
	if resp["version"] != quality.ModelVersion || resp["type"] != "logistic" {
		t.Errorf("model: got %v", resp)
	}
	w, ok := resp["weights"].(map[string]interface{})
	if !ok || len(w) != 4 {
		t.Errorf("weights: got %v", resp["weights"])
	}
}

func TestAlerts(t *testing.T) {
	h, _ := newHandler(api.Options{})
	rr := get(t, h, "/api/v1/alerts")
	if !strings.Contains(rr.Body.String(), `"alerts":[]`) {
		t.Errorf("no engine: got %s", rr.Body.String())
	}

	h, _ = newHandler(api.Options{Alerts: staticAlerts{{ID: "1", RuleName: "low", DeviceID: "p", State: "firing"}}})
	var resp api.AlertsResponse
	decode(t, get(t, h, "/api/v1/alerts"), &resp)
	if len(resp.Alerts) != 1 || resp.Alerts[0].RuleName != "low" {
		t.Errorf("alerts: got %+v", resp.Alerts)
	}
}

func TestReadOnlyEndpoints_MethodNotAllowed(t *testing.T) {
	h, _ := newHandler(api.Options{})
	for _, p := range []string{"/api/v1/health", "/api/v1/devices", "/api/v1/devices/x", "/api/v1/model", "/api/v1/alerts"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, p, nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: got %d, want 405", p, rr.Code)
		}
	}
}

func TestFormatTime(t *testing.T) {
	ts := time.Date(2026, 7, 4, 13, 5, 9, 7_000_000, time.FixedZone("WIB", 7*3600))
	if got := api.FormatTime(ts); got != "2026-07-04T06:05:09.007Z" {
		t.Errorf("got %q", got)
	}
}
