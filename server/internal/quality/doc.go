// Package quality turns raw pond sensor readings into a water-quality score.
//
// model.go provides the pure Model.Predict(Reading) function: a logistic
// model over z-scored features, scaled to an integer score 0–100 and
// bucketed into good (≥70), warning (≥45) or critical.
//
// advice.go provides Recommend, a fixed rule table that turns out-of-band
// channels into issues and deduplicated corrective actions.
//
// sensors.go holds the plausibility table used to count connected sensors.
// parse.go is the ingestion gate shared by the HTTP and MQTT transports.
package quality
