package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const webhookTimeout = 10 * time.Second

// payloadFunc renders the request body for one webhook type.
type payloadFunc func(a *Alert) ([]byte, error)

var payloads = map[string]payloadFunc{
	"slack":     slackPayload,
	"teams":     teamsPayload,
	"http":      httpPayload,
	"pagerduty": httpPayload,
}

// deliver posts a to every configured webhook. Failures are logged and
// never reach the ingest path.
func (e *Engine) deliver(a *Alert) {
	e.mu.Lock()
	hooks := e.webhooks
	e.mu.Unlock()

	for _, wh := range hooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		render, ok := payloads[wh.Type]
		if !ok {
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		body, err := render(a)
		if err == nil {
			err = e.post(url, body)
		}
		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type, "rule", a.RuleName, "device", a.DeviceID, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered",
			"type", wh.Type, "rule", a.RuleName, "device", a.DeviceID, "state", a.State)
	}
}

// fact is one labelled reading value shown in chat notifications.
type fact struct {
	Name  string
	Value string
}

// readingFacts lists the pond reading behind a in display order.
func readingFacts(a *Alert) []fact {
	r := a.Reading
	return []fact{
		{"Pond", a.DeviceID},
		{"Score", fmt.Sprintf("%d (%s)", r.Score, r.Category)},
		{"pH", strconv.FormatFloat(r.PH, 'f', 2, 64)},
		{"Temperature", strconv.FormatFloat(r.TemperatureC, 'f', 1, 64) + " °C"},
		{"Water level", strconv.FormatFloat(r.UltrasonicCM, 'f', 1, 64) + " cm"},
		{"Turbidity", strconv.FormatFloat(r.TurbidityNTU, 'f', 1, 64) + " NTU"},
		{"Sensors", fmt.Sprintf("%d/4 connected", r.SensorsConnected)},
	}
}

func headline(a *Alert) string {
	label := severityLabel(a.Severity)
	if a.State == "resolved" {
		label = "[RESOLVED]"
	}
	return fmt.Sprintf("%s %s on %s", label, a.RuleName, a.DeviceID)
}

// slackPayload uses a legacy attachment so the reading renders as a
// two-column field grid.
func slackPayload(a *Alert) ([]byte, error) {
	type field struct {
		Title string `json:"title"`
		Value string `json:"value"`
		Short bool   `json:"short"`
	}
	facts := readingFacts(a)
	fields := make([]field, 0, len(facts))
	for _, f := range facts {
		fields = append(fields, field{Title: f.Name, Value: f.Value, Short: true})
	}
	return json.Marshal(map[string]any{
		"text": "*" + headline(a) + "*",
		"attachments": []map[string]any{{
			"color":  "#" + stateColor(a),
			"text":   a.Message,
			"fields": fields,
			"ts":     a.FiredAt.Unix(),
		}},
	})
}

// teamsPayload renders an Office 365 connector MessageCard.
func teamsPayload(a *Alert) ([]byte, error) {
	type mcFact struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	facts := readingFacts(a)
	mf := make([]mcFact, 0, len(facts))
	for _, f := range facts {
		mf = append(mf, mcFact{Name: f.Name, Value: f.Value})
	}
	return json.Marshal(map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": stateColor(a),
		"summary":    headline(a),
		"title":      fmt.Sprintf("Biofloc alert: %s (%s)", a.RuleName, a.DeviceID),
		"sections": []map[string]any{{
			"activityTitle": headline(a),
			"text":          a.Message,
			"facts":         mf,
		}},
	})
}

// httpPayload is the machine-readable form: an event name plus the full
// alert, reading included.
func httpPayload(a *Alert) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event": "alert." + a.State,
		"alert": a,
	})
}

func (e *Engine) post(url string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

// stateColor is green for a resolved alert and the severity colour
// otherwise.
func stateColor(a *Alert) string {
	if a.State == "resolved" {
		return "2EB67D"
	}
	switch a.Severity {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
