// Package auth provides the API key gate for ingestion endpoints.
//
// APIKey(mode, header, key) wraps an http.Handler. When mode != "apikey" or
// key == "", every request passes through, which keeps local setups and
// stock ESP32 firmware working. Otherwise a missing or wrong key is answered
// with 401 and a JSON error body before the wrapped handler runs.
package auth
