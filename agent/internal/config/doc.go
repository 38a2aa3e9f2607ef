// Package config loads the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: the `agent:` section; the server section is ignored
//   - AgentConfig: server_url, device_id, device_header, interval, timeout,
//     max_attempts, retry_delay, server_auth, tls
//   - AuthConfig: mode (apikey|none), header, key_env; Key() resolves the
//     key from the environment
//
// Load(path) reads the YAML file, applies defaults (localhost:8080,
// X-Device-ID, 10s timeout, 5 attempts), then validates. Command-line
// flags of the agent binary override file values.
package config
