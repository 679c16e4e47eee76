package driving

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fleet-telemetry-pipeline/pipeline/internal/geo"
	"fleet-telemetry-pipeline/pipeline/internal/models"
	"fleet-telemetry-pipeline/shared/clients/narrative"
	"fleet-telemetry-pipeline/shared/config"
	"fleet-telemetry-pipeline/shared/logx"
	"fleet-telemetry-pipeline/shared/metricsx"
)

const (
	EventBraking      = "harsh_braking"
	EventAcceleration = "harsh_acceleration"
	EventCornering    = "harsh_cornering"
)

const (
	accelThresholdKPHPerSec   = 10.0
	corneringThresholdDegSec  = 45.0
	corneringMinSpeedKPH      = 20.0
	maxPairGap                = 60 * time.Second
	cleanTripBonusMinDuration = 30 * time.Minute
)

// Analyzer detects harsh driving events on a trip's samples and scores
// the trip. The narrative service is optional; when it is disabled or
// failing, the summary falls back to a fixed template.
type Analyzer struct {
	narrative *narrative.Client
	enabled   bool
	log       logx.Logger
}

func NewAnalyzer(cfg config.Config, client *narrative.Client, log logx.Logger) *Analyzer {
	return &Analyzer{
		narrative: client,
		enabled:   cfg.NarrativeEnabled && client != nil,
		log:       log,
	}
}

// DetectEvents scans consecutive sample pairs no more than 60 seconds
// apart. Braking and acceleration use strict thresholds: a change of
// exactly 10 km/h per second is normal driving, not an event.
func DetectEvents(trip models.TripSegment, samples []models.PositionSample) []models.HarshEvent {
	var events []models.HarshEvent
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		dt := cur.RecordedAt.Sub(prev.RecordedAt)
		if dt <= 0 || dt > maxPairGap {
			continue
		}
		secs := dt.Seconds()

		accel := (cur.SpeedKPH - prev.SpeedKPH) / secs
		switch {
		case accel < -accelThresholdKPHPerSec:
			events = append(events, newEvent(trip, cur, EventBraking, -accel))
		case accel > accelThresholdKPHPerSec:
			events = append(events, newEvent(trip, cur, EventAcceleration, accel))
		}

		headingRate := geo.HeadingDelta(prev.Heading, cur.Heading) / secs
		if headingRate > corneringThresholdDegSec && cur.SpeedKPH > corneringMinSpeedKPH {
			events = append(events, newEvent(trip, cur, EventCornering, headingRate))
		}
	}
	return events
}

func newEvent(trip models.TripSegment, s models.PositionSample, kind string, magnitude float64) models.HarshEvent {
	return models.HarshEvent{
		EventID:    uuid.New(),
		TripID:     trip.TripID,
		DeviceID:   trip.DeviceID,
		Type:       kind,
		OccurredAt: s.RecordedAt,
		Magnitude:  magnitude,
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
	}
}

// Score starts at 100 and deducts 3 per braking, 2 per acceleration and
// 2 per cornering event. A clean trip longer than 30 minutes earns a 5
// point bonus. The result is clamped to [0, 100].
func Score(braking, accel, cornering int, duration time.Duration) int {
	score := 100 - 3*braking - 2*accel - 2*cornering
	if braking+accel+cornering == 0 && duration > cleanTripBonusMinDuration {
		score += 5
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Analyze runs detection and scoring for one trip and produces the
// stored summary row.
func (a *Analyzer) Analyze(ctx context.Context, trip models.TripSegment, samples []models.PositionSample) ([]models.HarshEvent, models.DriverScoreSummary) {
	events := DetectEvents(trip, samples)

	var braking, accel, cornering int
	for _, e := range events {
		switch e.Type {
		case EventBraking:
			braking++
		case EventAcceleration:
			accel++
		case EventCornering:
			cornering++
		}
	}

	score := Score(braking, accel, cornering, time.Duration(trip.DurationSec)*time.Second)
	summary := models.DriverScoreSummary{
		TripID:         trip.TripID,
		DeviceID:       trip.DeviceID,
		BrakingCount:   braking,
		AccelCount:     accel,
		CorneringCount: cornering,
		Score:          score,
		Summary:        a.summarize(ctx, trip, braking, accel, cornering, score),
		CreatedAt:      time.Now().UTC(),
	}
	return events, summary
}

func (a *Analyzer) summarize(ctx context.Context, trip models.TripSegment, braking, accel, cornering, score int) string {
	if a.enabled {
		text, err := a.narrative.Summarize(ctx, narrative.SummaryRequest{
			DeviceID:        trip.DeviceID,
			DurationMinutes: float64(trip.DurationSec) / 60,
			DistanceKM:      trip.DistanceKM,
			HarshBraking:    braking,
			HarshAccel:      accel,
			HarshCornering:  cornering,
			Score:           score,
		})
		if err == nil && text != "" {
			return text
		}
		if err != nil {
			a.log.Warn(ctx, "narrative_fallback", "narrative service unavailable, using template",
				slog.String("device_id", trip.DeviceID),
				slog.String("error", err.Error()))
		}
		metricsx.IncNarrativeFallback()
	}
	return templateSummary(trip, braking, accel, cornering, score)
}

func templateSummary(trip models.TripSegment, braking, accel, cornering, score int) string {
	return fmt.Sprintf(
		"Trip of %.1f km over %d min: %d harsh braking, %d harsh acceleration, %d harsh cornering. Score %d/100.",
		trip.DistanceKM, trip.DurationSec/60, braking, accel, cornering, score,
	)
}
