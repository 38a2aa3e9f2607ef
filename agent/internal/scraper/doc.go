// Package scraper reads biofloc-server's own /metrics endpoint so the agent
// can confirm a replay landed. Scrape parses the Prometheus text exposition
// with expfmt and folds the biofloc_* families into a Snapshot.
//
// Counters are raw totals. The agent scrapes before and after a replay and
// reports Snapshot.Delta.
package scraper
