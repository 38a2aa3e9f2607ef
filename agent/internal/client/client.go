package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smartbiofloc/biofloc/agent/internal/config"
	"github.com/smartbiofloc/biofloc/pkg/types"
)

const (
	predictPath = "/predict"

	// maxErrorBody caps how much of an error response is kept in APIError.
	maxErrorBody = 4 << 10
)

// Advice mirrors the server's advice block.
type Advice struct {
	Summary string   `json:"summary"`
	Issues  []string `json:"issues"`
	Actions []string `json:"actions"`
}

// Prediction is the decoded POST /predict response.
type Prediction struct {
	Score            int    `json:"score"`
	Category         string `json:"category"`
	Advice           Advice `json:"advice"`
	ActiveDevices    int    `json:"active_devices"`
	TotalSensors     int    `json:"total_sensors"`
	DeviceID         string `json:"device_id"`
	SensorsConnected int    `json:"sensors_connected"`
}

// Device is one entry of the fleet snapshot.
type Device struct {
	DeviceID         string  `json:"device_id"`
	PH               float64 `json:"ph"`
	TemperatureC     float64 `json:"temperature_c"`
	UltrasonicCM     float64 `json:"ultrasonic_cm"`
	TurbidityNTU     float64 `json:"turbidity_ntu"`
	QualityScore     int     `json:"quality_score"`
	SensorsConnected int     `json:"sensors_connected"`
	LastUpdate       string  `json:"last_update"`
	IsActive         bool    `json:"is_active"`
}

// Fleet is the decoded GET /predict response.
type Fleet struct {
	TotalDevices int      `json:"total_devices"`
	TotalSensors int      `json:"total_sensors"`
	Devices      []Device `json:"devices"`
	Timestamp    string   `json:"timestamp"`
}

// APIError is a non-retryable rejection from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Client is safe for concurrent use.
type Client struct {
	base         *url.URL
	http         *http.Client
	deviceHeader string
	deviceID     string
	maxAttempts  int
	retryDelay   time.Duration
}

// New builds a Client from the agent configuration. The API key is resolved
// from the environment once, here.
func New(cfg config.AgentConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.ServerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse server url: %w", err)
	}
	return &Client{
		base:         base,
		http:         newHTTPClient(cfg),
		deviceHeader: cfg.DeviceHeader,
		deviceID:     cfg.DeviceID,
		maxAttempts:  cfg.MaxAttempts,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

// HTTPClient returns the underlying client, which carries the configured
// auth header and TLS settings.
func (c *Client) HTTPClient() *http.Client { return c.http }

// URL resolves path against the server base URL.
func (c *Client) URL(path string) string {
	return c.base.String() + path
}

// Predict submits one reading and returns the server's verdict.
func (c *Client) Predict(ctx context.Context, r types.Reading) (*Prediction, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("client: encode reading: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("client: cancelled before attempt %d: %w", attempt, ctx.Err())
		}
		if attempt > 0 {
			delay := time.Duration(float64(c.retryDelay) * math.Pow(2, float64(attempt-1)))
			slog.Debug("client: retrying predict", "attempt", attempt, "delay", delay.String())
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("client: cancelled during backoff: %w", ctx.Err())
			}
		}

		p, err := c.postOnce(ctx, payload)
		if err == nil {
			return p, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			return nil, err
		}
		lastErr = err
		slog.Warn("client: predict attempt failed", "attempt", attempt, "err", err)
	}
	return nil, fmt.Errorf("client: all %d attempts failed, last error: %w", c.maxAttempts, lastErr)
}

func (c *Client) postOnce(ctx context.Context, payload []byte) (*Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(predictPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.deviceID != "" {
		req.Header.Set(c.deviceHeader, c.deviceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}
	var p Prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	return &p, nil
}

// Fleet fetches the current fleet snapshot. It is not retried.
func (c *Client) Fleet(ctx context.Context) (*Fleet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(predictPath), nil)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("client: fleet: %w", readAPIError(resp))
	}
	var f Fleet
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("client: decode fleet: %w", err)
	}
	return &f, nil
}

// readAPIError turns a non-200 response into an *APIError, preferring the
// server's {"error": "..."} message when present.
func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var e struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// authRoundTripper injects the API key header into every outgoing request.
type authRoundTripper struct {
	base   http.RoundTripper
	header string
	key    string
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set(t.header, t.key)
	return t.base.RoundTrip(req)
}

// newHTTPClient constructs an http.Client for the agent's auth and TLS settings.
func newHTTPClient(cfg config.AgentConfig) *http.Client {
	var transport http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
		},
	}
	if cfg.ServerAuth.Mode == "apikey" {
		if key := cfg.ServerAuth.Key(); key != "" {
			transport = &authRoundTripper{
				base:   transport,
				header: cfg.ServerAuth.EffectiveHeader(),
				key:    key,
			}
		}
	}
	return &http.Client{Transport: transport, Timeout: cfg.Timeout}
}
