package trips

import (
	"time"

	"github.com/google/uuid"

	"fleet-telemetry-pipeline/pipeline/internal/geo"
	"fleet-telemetry-pipeline/pipeline/internal/models"
	"fleet-telemetry-pipeline/shared/config"
)

// Segmenter splits an ordered stream of position samples into trips. A
// trip opens on the first moving sample and closes once the device has
// been stationary for at least the stop gap, with the trip end pinned to
// the last moving sample rather than the end of the stop. Trip distance
// is the great-circle distance between the start and the last moving
// sample; trips whose distance falls under the minimum are treated as
// GPS noise and dropped.
//
// The same input always yields the same segmentation.
type Segmenter struct {
	stopGap time.Duration
	minKM   float64
}

func NewSegmenter(cfg config.Config) *Segmenter {
	return &Segmenter{
		stopGap: time.Duration(cfg.TripStopGapSec) * time.Second,
		minKM:   cfg.TripMinDistanceKM,
	}
}

func moving(s models.PositionSample) bool {
	return s.SpeedKPH > 0 || s.Ignition
}

// Segment consumes samples for one device, ordered by RecordedAt, and
// returns the closed trips. The stream end flushes any open trip.
func (sg *Segmenter) Segment(samples []models.PositionSample) []models.TripSegment {
	var (
		out        []models.TripSegment
		inTrip     bool
		start      models.PositionSample
		lastMoving models.PositionSample
		maxSpeed   float64
	)

	open := func(s models.PositionSample) {
		inTrip = true
		start = s
		lastMoving = s
		maxSpeed = s.SpeedKPH
	}
	finish := func() {
		inTrip = false
		distanceKM := geo.HaversineKM(start.Latitude, start.Longitude, lastMoving.Latitude, lastMoving.Longitude)
		if distanceKM < sg.minKM {
			return
		}
		seg := models.TripSegment{
			TripID:      uuid.New(),
			DeviceID:    start.DeviceID,
			StartTime:   start.RecordedAt,
			EndTime:     lastMoving.RecordedAt,
			StartLat:    start.Latitude,
			StartLon:    start.Longitude,
			EndLat:      lastMoving.Latitude,
			EndLon:      lastMoving.Longitude,
			DistanceKM:  distanceKM,
			MaxSpeedKPH: maxSpeed,
		}
		seg.DurationSec = int64(seg.EndTime.Sub(seg.StartTime) / time.Second)
		if seg.DurationSec > 0 {
			seg.AvgSpeedKPH = distanceKM / (float64(seg.DurationSec) / 3600)
		}
		out = append(out, seg)
	}

	for _, s := range samples {
		if !inTrip {
			if moving(s) {
				open(s)
			}
			continue
		}

		if s.RecordedAt.Sub(lastMoving.RecordedAt) >= sg.stopGap {
			finish()
			if moving(s) {
				open(s)
			}
			continue
		}

		if moving(s) {
			lastMoving = s
			if s.SpeedKPH > maxSpeed {
				maxSpeed = s.SpeedKPH
			}
		}
	}
	if inTrip {
		finish()
	}
	return out
}
