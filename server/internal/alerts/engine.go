package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartbiofloc/biofloc/server/internal/config"
	"github.com/smartbiofloc/biofloc/server/internal/registry"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	DeviceID   string     `json:"device_id"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	Reading    Sample     `json:"reading"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

// Sample is the reading that fired an alert, or that resolved it.
type Sample struct {
	PH               float64 `json:"ph"`
	TemperatureC     float64 `json:"temperature_c"`
	UltrasonicCM     float64 `json:"ultrasonic_cm"`
	TurbidityNTU     float64 `json:"turbidity_ntu"`
	Score            int     `json:"score"`
	Category         string  `json:"category"`
	SensorsConnected int     `json:"sensors_connected"`
}

func sampleOf(ev registry.Ingested) Sample {
	return Sample{
		PH:               ev.Reading.PH,
		TemperatureC:     ev.Reading.TemperatureC,
		UltrasonicCM:     ev.Reading.UltrasonicCM,
		TurbidityNTU:     ev.Reading.TurbidityNTU,
		Score:            ev.Result.Score,
		Category:         ev.Result.Category,
		SensorsConnected: ev.Reading.SensorsConnected,
	}
}

// Engine evaluates alert rules against every accepted reading and delivers
// webhook notifications when rules fire or resolve. It implements
// registry.Listener.
//
// Engine is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	active   map[string]*Alert    // key: "ruleName:deviceID"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts

	client *http.Client
	now    func() time.Time
	send   func(*Alert) // delivery hook; defaults to async webhook fan-out
}

// New creates an Engine from the server alert configuration.
// An Engine with empty rules is valid; Evaluate becomes a no-op.
func New(cfg config.AlertsConfig) *Engine {
	e := &Engine{
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	e.send = func(a *Alert) { go e.deliver(a) }
	e.Reload(cfg)
	return e
}

// Reload swaps in new rules and webhooks. Rules with unparseable
// conditions are skipped with a warning. Firing alerts whose rule no
// longer exists are dropped without a resolve notification.
func (e *Engine) Reload(cfg config.AlertsConfig) {
	rules := make([]config.AlertRule, 0, len(cfg.Rules))
	names := make(map[string]struct{}, len(cfg.Rules))
	for _, r := range cfg.Rules {
		if !validCondition(r.Condition) {
			slog.Warn("alerts: skipping rule with invalid condition",
				"rule", r.Name, "condition", r.Condition)
			continue
		}
		rules = append(rules, r)
		names[r.Name] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
	e.webhooks = cfg.Webhooks
	for key, a := range e.active {
		if _, ok := names[a.RuleName]; !ok {
			delete(e.active, key)
			delete(e.lastFire, key)
		}
	}
}

// OnIngest evaluates the rules for one accepted reading.
func (e *Engine) OnIngest(ev registry.Ingested) { e.Evaluate(ev) }

// Evaluate tests all configured rules against ev.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
func (e *Engine) Evaluate(ev registry.Ingested) {
	e.mu.Lock()
	rules := e.rules
	e.mu.Unlock()
	if len(rules) == 0 {
		return
	}

	now := e.now()
	for _, rule := range rules {
		key := rule.Name + ":" + ev.DeviceID
		fires, value := evalCondition(rule.Condition, ev)

		e.mu.Lock()

		if fires {
			cooldown := rule.Cooldown
			if cooldown <= 0 {
				cooldown = defaultCooldown
			}
			if _, firing := e.active[key]; !firing && now.Sub(e.lastFire[key]) > cooldown {
				sev := rule.Severity
				if sev == "" {
					sev = "warning"
				}
				a := &Alert{
					ID:       uuid.NewString(),
					RuleName: rule.Name,
					DeviceID: ev.DeviceID,
					Severity: sev,
					Value:    value,
					Reading:  sampleOf(ev),
					Message: fmt.Sprintf("[%s] %s fired on %s: %s (value %.2f)",
						sev, rule.Name, ev.DeviceID, rule.Condition, value),
					FiredAt: now,
					State:   "firing",
				}
				e.active[key] = a
				e.lastFire[key] = now
				alertCopy := *a
				e.mu.Unlock()

				slog.Warn("alert fired",
					"rule", rule.Name,
					"device", ev.DeviceID,
					"value", value,
					"severity", sev,
				)
				e.send(&alertCopy)
			} else {
				e.mu.Unlock()
			}
		} else {
			if a, ok := e.active[key]; ok && a.State == "firing" {
				resolved := now
				a.State = "resolved"
				a.ResolvedAt = &resolved
				a.Reading = sampleOf(ev)
				delete(e.active, key)

				e.history = append(e.history, a)
				if len(e.history) > maxHistoryLen {
					e.history = e.history[len(e.history)-maxHistoryLen:]
				}
				alertCopy := *a
				e.mu.Unlock()

				slog.Info("alert resolved",
					"rule", rule.Name,
					"device", ev.DeviceID,
				)
				e.send(&alertCopy)
			} else {
				e.mu.Unlock()
			}
		}
	}
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}
