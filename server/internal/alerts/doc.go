// Package alerts evaluates threshold rules against every accepted water
// reading and notifies Slack, Teams or generic HTTP webhooks when a rule
// starts or stops firing for a device. Rules are keyed per device, so one
// pond going critical does not mask another.
package alerts
