package trips

import (
	"testing"
	"time"

	"fleet-telemetry-pipeline/pipeline/internal/models"
	"fleet-telemetry-pipeline/shared/config"
)

func testSegmenter() *Segmenter {
	return NewSegmenter(config.Config{TripStopGapSec: 300, TripMinDistanceKM: 0.1})
}

func sample(dev string, at time.Time, lat, lon, speed float64) models.PositionSample {
	return models.PositionSample{
		DeviceID:   dev,
		Latitude:   lat,
		Longitude:  lon,
		SpeedKPH:   speed,
		RecordedAt: at,
	}
}

func TestSegmentClosesAtLastMovingSample(t *testing.T) {
	t0 := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	samples := []models.PositionSample{
		sample("dev-1", t0, 6.5000, 3.3000, 40),
		sample("dev-1", t0.Add(60*time.Second), 6.5100, 3.3000, 35),
	}
	// Stationary pings from t0+70s through t0+500s.
	for off := 70; off <= 500; off += 30 {
		samples = append(samples, sample("dev-1", t0.Add(time.Duration(off)*time.Second), 6.5100, 3.3000, 0))
	}

	trips := testSegmenter().Segment(samples)
	if len(trips) != 1 {
		t.Fatalf("expected 1 trip, got %d", len(trips))
	}
	trip := trips[0]
	if !trip.StartTime.Equal(t0) {
		t.Fatalf("start = %v", trip.StartTime)
	}
	if !trip.EndTime.Equal(t0.Add(60 * time.Second)) {
		t.Fatalf("trip must end at the last moving sample, got %v", trip.EndTime)
	}
	if trip.DurationSec != 60 {
		t.Fatalf("duration = %d", trip.DurationSec)
	}
	if trip.DistanceKM < 1 || trip.DistanceKM > 1.3 {
		t.Fatalf("distance = %v", trip.DistanceKM)
	}
	if trip.MaxSpeedKPH != 40 {
		t.Fatalf("max speed = %v", trip.MaxSpeedKPH)
	}
}

func TestSegmentDiscardsNoiseTrips(t *testing.T) {
	t0 := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	// Two moving samples a few meters apart, then silence.
	samples := []models.PositionSample{
		sample("dev-1", t0, 6.50000, 3.30000, 3),
		sample("dev-1", t0.Add(20*time.Second), 6.50005, 3.30000, 2),
	}
	if trips := testSegmenter().Segment(samples); len(trips) != 0 {
		t.Fatalf("expected noise trip to be dropped, got %d trips", len(trips))
	}
}

func TestSegmentDiscardsLoopTrips(t *testing.T) {
	t0 := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	// Out and back: the last moving sample sits on the start point, so
	// the start-to-end distance is zero no matter how long the path was.
	samples := []models.PositionSample{
		sample("dev-1", t0, 6.5000, 3.3000, 40),
		sample("dev-1", t0.Add(60*time.Second), 6.5100, 3.3000, 35),
		sample("dev-1", t0.Add(120*time.Second), 6.5000, 3.3000, 30),
	}
	for off := 130; off <= 500; off += 30 {
		samples = append(samples, sample("dev-1", t0.Add(time.Duration(off)*time.Second), 6.5000, 3.3000, 0))
	}

	if trips := testSegmenter().Segment(samples); len(trips) != 0 {
		t.Fatalf("expected loop trip to be dropped, got %d trips (distance %v)", len(trips), trips[0].DistanceKM)
	}
}

func TestSegmentSplitsOnStopGap(t *testing.T) {
	t0 := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	samples := []models.PositionSample{
		sample("dev-1", t0, 6.5000, 3.3000, 40),
		sample("dev-1", t0.Add(120*time.Second), 6.5200, 3.3000, 40),
		// Next moving sample arrives 10 minutes after the last one.
		sample("dev-1", t0.Add(720*time.Second), 6.5200, 3.3000, 30),
		sample("dev-1", t0.Add(840*time.Second), 6.5400, 3.3000, 30),
	}

	trips := testSegmenter().Segment(samples)
	if len(trips) != 2 {
		t.Fatalf("expected 2 trips, got %d", len(trips))
	}
	if !trips[0].EndTime.Equal(t0.Add(120 * time.Second)) {
		t.Fatalf("first trip end = %v", trips[0].EndTime)
	}
	if !trips[1].StartTime.Equal(t0.Add(720 * time.Second)) {
		t.Fatalf("second trip start = %v", trips[1].StartTime)
	}
}

func TestSegmentFlushesOpenTripAtStreamEnd(t *testing.T) {
	t0 := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	samples := []models.PositionSample{
		sample("dev-1", t0, 6.5000, 3.3000, 50),
		sample("dev-1", t0.Add(60*time.Second), 6.5150, 3.3000, 45),
	}

	trips := testSegmenter().Segment(samples)
	if len(trips) != 1 {
		t.Fatalf("expected flushed trip, got %d", len(trips))
	}
	if !trips[0].EndTime.Equal(t0.Add(60 * time.Second)) {
		t.Fatalf("flushed trip end = %v", trips[0].EndTime)
	}
}

func TestSegmentIgnitionOnlyStartsTrip(t *testing.T) {
	t0 := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	first := sample("dev-1", t0, 6.5000, 3.3000, 0)
	first.Ignition = true
	second := sample("dev-1", t0.Add(90*time.Second), 6.5200, 3.3000, 40)

	trips := testSegmenter().Segment([]models.PositionSample{first, second})
	if len(trips) != 1 {
		t.Fatalf("expected 1 trip, got %d", len(trips))
	}
	if !trips[0].StartTime.Equal(t0) {
		t.Fatalf("ignition sample must open the trip, start = %v", trips[0].StartTime)
	}
}

func TestSegmentDeterministic(t *testing.T) {
	t0 := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	samples := []models.PositionSample{
		sample("dev-1", t0, 6.5000, 3.3000, 40),
		sample("dev-1", t0.Add(60*time.Second), 6.5100, 3.3000, 35),
		sample("dev-1", t0.Add(600*time.Second), 6.5100, 3.3000, 0),
	}

	a := testSegmenter().Segment(samples)
	b := testSegmenter().Segment(samples)
	if len(a) != len(b) {
		t.Fatalf("run lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !a[i].StartTime.Equal(b[i].StartTime) || !a[i].EndTime.Equal(b[i].EndTime) ||
			a[i].DistanceKM != b[i].DistanceKM {
			t.Fatalf("run %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}
