// Package metrics exposes ingestion counters, fleet gauges and the score
// distribution on /metrics. A *Metrics is registered as a registry
// listener; transports report rejected and dropped messages directly.
package metrics
