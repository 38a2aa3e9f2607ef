// Package compute turns the per-row results of a log replay into a score
// series and its summary.
//
// Series collects one Point per scored row ({t, score, category}, the same
// shape the dashboard charts), plus counts of rows the server rejected and
// rows the agent could not parse. Summary reports min/max/mean, per-category
// counts, the worst row, the share of sent rows that were scored, and a
// trend that compares the mean of the first and last five points
// (improving or declining when they differ by at least five points).
package compute
