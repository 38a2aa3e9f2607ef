// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - HTTPPort: port for the REST API, WebSocket hub and /metrics (default 8080)
//   - LogLevel: slog level (default info)
//   - Auth.Mode: "apikey" or "none"; guards POST /predict only
//   - Auth.KeyEnv: environment variable holding the expected API key
//   - Devices.Header: header carrying the device id (default X-Device-ID)
//   - Devices.DefaultID: id used when the header is absent (default esp32-default)
//   - Devices.EvictAfter: silence after which a device is dropped (default 5m)
//   - Devices.ActiveWithin: recency required for is_active (default 2m)
//   - MQTT.*, Kafka.*: optional transports, disabled by default
//   - Alerts.*: rules and webhooks; hot-reloaded by Watch
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
