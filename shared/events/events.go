package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

const (
	TopicTripCompleted  = "trip.completed"
	TopicDrivingScores  = "driving.scores"
	TopicGeofenceEvents = "geofence.events"
	TopicVehicleAlarms  = "vehicle.alarms"
)

const (
	AggregateDevice  = "device"
	AggregateTrip    = "trip"
	AggregateMonitor = "geofence_monitor"
)

func New(aggregateType string, aggregateID string, eventType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.New(),
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}
