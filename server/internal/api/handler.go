package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/smartbiofloc/biofloc/pkg/types"
	"github.com/smartbiofloc/biofloc/server/internal/alerts"
	"github.com/smartbiofloc/biofloc/server/internal/quality"
	"github.com/smartbiofloc/biofloc/server/internal/registry"
)

// DefaultMaxBodyBytes caps POST /predict bodies.
const DefaultMaxBodyBytes = 64 << 10

// timestampLayout is ISO-8601 UTC with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// AlertLister supplies the alerts listed by GET /api/v1/alerts.
type AlertLister interface {
	Active() []*alerts.Alert
}

// FailureRecorder counts rejected readings.
type FailureRecorder interface {
	ValidationFailed(field, transport string)
}

// Options configures optional collaborators of the Handler.
type Options struct {
	// DeviceHeader names the request header carrying the device id.
	// Defaults to X-Device-ID.
	DeviceHeader string

	// IngestGate wraps POST /predict, e.g. with auth.APIKey. Reads stay open.
	IngestGate func(http.Handler) http.Handler

	Alerts       AlertLister
	Failures     FailureRecorder
	MaxBodyBytes int64
}

// Handler serves /predict and the read-only /api/v1/* endpoints.
type Handler struct {
	reg    *registry.Registry
	opts   Options
	ingest http.Handler
	mux    *http.ServeMux
}

// New creates a Handler backed by reg and registers all routes.
func New(reg *registry.Registry, opts Options) http.Handler {
	if opts.DeviceHeader == "" {
		opts.DeviceHeader = "X-Device-ID"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	h := &Handler{reg: reg, opts: opts, mux: http.NewServeMux()}

	h.ingest = http.HandlerFunc(h.postPredict)
	if opts.IngestGate != nil {
		h.ingest = opts.IngestGate(h.ingest)
	}

	h.mux.HandleFunc("/predict", h.predict)
	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/devices", h.listDevices)
	h.mux.HandleFunc("/api/v1/devices/", h.getDevice) // subtree, extracts {id}
	h.mux.HandleFunc("/api/v1/model", h.model)
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// predict dispatches /predict by method: POST ingests, GET lists the fleet.
func (h *Handler) predict(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.ingest.ServeHTTP(w, r)
	case http.MethodGet:
		jsonResp(w, http.StatusOK, BuildFleet(h.reg.Query()))
	default:
		w.Header().Set("Allow", "GET, POST")
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// postPredict validates, scores and stores one reading.
func (h *Handler) postPredict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonErr(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.reject(w, "", quality.ErrMalformedBody)
		return
	}

	reading, err := quality.ParseReading(body)
	if err != nil {
		var fe *quality.FieldError
		field := ""
		if errors.As(err, &fe) {
			field = string(fe.Field)
		}
		h.reject(w, field, err)
		return
	}

	res := h.reg.Ingest(r.Header.Get(h.opts.DeviceHeader), reading)
	slog.Debug("api: reading scored",
		"device", res.DeviceID,
		"score", res.Score,
		"category", res.Category,
		"sensors_connected", res.SensorsConnected,
	)

	jsonResp(w, http.StatusOK, PredictResponse{
		Score:            res.Score,
		Category:         res.Category,
		Advice:           res.Advice,
		ActiveDevices:    res.ActiveDevices,
		TotalSensors:     res.TotalSensors,
		DeviceID:         res.DeviceID,
		SensorsConnected: res.SensorsConnected,
	})
}

func (h *Handler) reject(w http.ResponseWriter, field string, err error) {
	if h.opts.Failures != nil {
		h.opts.Failures.ValidationFailed(field, "http")
	}
	slog.Debug("api: reading rejected", "err", err)
	jsonErr(w, http.StatusBadRequest, err.Error())
}

// health returns GET /api/v1/health: fleet score and per-category counts.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	fleet := h.reg.Query()
	model := h.reg.Model()
	resp := HealthResponse{
		DeviceCount:  fleet.TotalDevices,
		TotalSensors: fleet.TotalSensors,
	}
	if h.opts.Alerts != nil {
		for _, a := range h.opts.Alerts.Active() {
			if a.State == "firing" {
				resp.AlertCount++
			}
		}
	}

	if len(fleet.Devices) == 0 {
		resp.Category = "unknown"
		jsonResp(w, http.StatusOK, resp)
		return
	}

	var total float64
	for _, d := range fleet.Devices {
		total += float64(d.Reading.QualityScore)
		if d.IsActive {
			resp.ActiveCount++
		}
		switch model.Category(d.Reading.QualityScore) {
		case quality.CategoryGood:
			resp.GoodCount++
		case quality.CategoryWarning:
			resp.WarningCount++
		default:
			resp.CriticalCount++
		}
	}
	resp.OverallScore = total / float64(len(fleet.Devices))
	resp.Category = model.Category(int(math.Round(resp.OverallScore)))
	jsonResp(w, http.StatusOK, resp)
}

// listDevices returns GET /api/v1/devices, the same payload as GET /predict.
func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildFleet(h.reg.Query()))
}

// getDevice returns GET /api/v1/devices/{id}; 404 if unknown or stale.
func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
	if id == "" {
		h.listDevices(w, r)
		return
	}

	d, ok := h.reg.Get(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "device not found")
		return
	}

	category := h.reg.Model().Category(d.Reading.QualityScore)
	flags := quality.Flags(d.Reading.Reading)
	sensors := make(map[string]bool, len(types.Features))
	for _, f := range types.Features {
		sensors[string(f)] = flags[f]
	}
	jsonResp(w, http.StatusOK, DeviceDetailResponse{
		DeviceResponse: toDeviceResponse(d),
		Category:       category,
		Sensors:        sensors,
		Diagnostics:    computeDiagnostics(d, category),
	})
}

// model returns GET /api/v1/model: the calibration table and version.
func (h *Handler) model(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.reg.Model())
}

// alerts returns GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := AlertsResponse{Alerts: []*alerts.Alert{}}
	if h.opts.Alerts != nil {
		resp.Alerts = append(resp.Alerts, h.opts.Alerts.Active()...)
	}
	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ----------------------------------------------------------------

// BuildFleet maps a registry query to the GET /predict payload.
func BuildFleet(f registry.Fleet) FleetResponse {
	devices := make([]DeviceResponse, 0, len(f.Devices))
	for _, d := range f.Devices {
		devices = append(devices, toDeviceResponse(d))
	}
	return FleetResponse{
		TotalDevices: f.TotalDevices,
		TotalSensors: f.TotalSensors,
		Devices:      devices,
		Timestamp:    FormatTime(f.Timestamp),
	}
}

// FormatTime renders t as ISO-8601 UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func toDeviceResponse(d registry.DeviceSnapshot) DeviceResponse {
	return DeviceResponse{
		DeviceID:         d.DeviceID,
		PH:               d.Reading.PH,
		TemperatureC:     d.Reading.TemperatureC,
		UltrasonicCM:     d.Reading.UltrasonicCM,
		TurbidityNTU:     d.Reading.TurbidityNTU,
		QualityScore:     d.Reading.QualityScore,
		SensorsConnected: d.Reading.SensorsConnected,
		LastUpdate:       FormatTime(d.LastUpdate),
		IsActive:         d.IsActive,
	}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
