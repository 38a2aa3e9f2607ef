// Package shipper streams scored readings to Kafka for downstream
// analytics. Each accepted reading becomes one JSON "reading.scored" event
// with a UUID, keyed by device id. Publishing is decoupled from ingestion
// by a bounded in-memory buffer; losing the oldest events during a broker
// outage is preferred over slowing down POST /predict.
package shipper
