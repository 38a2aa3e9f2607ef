// Package api implements the HTTP surface of the biofloc server.
//
// New(registry, opts) returns an http.Handler that serves:
//
//	POST /predict               score a reading, store it under X-Device-ID
//	GET  /predict               fleet view: every tracked device plus totals
//	GET  /api/v1/health         fleet score and per-category device counts
//	GET  /api/v1/devices        same payload as GET /predict
//	GET  /api/v1/devices/{id}   one device with sensor flags and diagnostics; 404 if unknown or stale
//	GET  /api/v1/model          calibration table and model version
//	GET  /api/v1/alerts         firing and recently resolved alerts
//
// All endpoints answer with Content-Type: application/json and return 405
// for unsupported methods. Validation failures return 400 {"error": "..."}
// naming the first offending field. Timestamps are ISO-8601 UTC with
// millisecond precision.
package api
