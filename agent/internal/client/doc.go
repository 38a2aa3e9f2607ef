// Package client talks to biofloc-server over HTTP on behalf of the agent.
//
// Predict POSTs one reading to /predict with the device id header and, when
// configured, the API key header. Network errors and 5xx responses are
// retried with exponential backoff (RetryDelay, doubling) up to MaxAttempts;
// 4xx responses fail immediately with an *APIError. Fleet fetches the
// GET /predict snapshot.
package client
