// Package types defines shared Go types used by both the agent and server.
// Reading is the canonical in-memory representation of one sensor sample
// and doubles as the JSON wire body of POST /predict.
package types
