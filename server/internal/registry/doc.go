// Package registry keeps the in-memory, process-lifetime state of every pond
// device that has reported a reading.
//
// Ingest scores a reading with quality.Model, upserts the device record and
// sweeps records silent for longer than EvictAfter (default 5m). The sweep
// runs on every ingest; nothing runs in the background.
//
// Query reports each tracked device with an IsActive flag computed against
// the shorter ActiveWithin window (default 2m), so a device can be tracked
// but inactive for up to three minutes before it disappears.
//
// Listeners registered with WithListener observe every accepted reading;
// the server wires alerts, metrics and the Kafka shipper this way.
package registry
