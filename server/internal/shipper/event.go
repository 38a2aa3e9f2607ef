package shipper

import (
	"time"

	"github.com/google/uuid"

	"github.com/smartbiofloc/biofloc/pkg/types"
	"github.com/smartbiofloc/biofloc/server/internal/registry"
)

// EventReadingScored is the type tag of every event published by the shipper.
const EventReadingScored = "reading.scored"

// Event is the Kafka message value for one accepted reading.
type Event struct {
	ID               string        `json:"id"`
	Type             string        `json:"type"`
	DeviceID         string        `json:"device_id"`
	Reading          types.Reading `json:"reading"`
	Score            int           `json:"score"`
	Category         string        `json:"category"`
	SensorsConnected int           `json:"sensors_connected"`
	OccurredAt       time.Time     `json:"occurred_at"`
}

// toEvent converts a registry notification into a publishable event.
func toEvent(ev registry.Ingested) Event {
	return Event{
		ID:               uuid.NewString(),
		Type:             EventReadingScored,
		DeviceID:         ev.DeviceID,
		Reading:          ev.Reading.Reading,
		Score:            ev.Result.Score,
		Category:         ev.Result.Category,
		SensorsConnected: ev.Reading.SensorsConnected,
		OccurredAt:       ev.ReceivedAt.UTC(),
	}
}
