// Package security inspects the TLS certificate of an https server URL
// before the agent starts a replay, so an expired or soon-expiring gateway
// certificate shows up in the agent log.
package security
