package driving

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"fleet-telemetry-pipeline/pipeline/internal/models"
	"fleet-telemetry-pipeline/shared/config"
	"fleet-telemetry-pipeline/shared/logx"
)

func testConfig() config.Config { return config.Config{} }

func testLogger() logx.Logger { return logx.New("test", "test", "", "error") }

func testCtx() context.Context { return context.Background() }

func testTrip(durationSec int64) models.TripSegment {
	return models.TripSegment{
		TripID:      uuid.New(),
		DeviceID:    "dev-1",
		DistanceKM:  12.5,
		DurationSec: durationSec,
	}
}

func pair(t0 time.Time, dt time.Duration, speed0, speed1, heading0, heading1 float64) []models.PositionSample {
	return []models.PositionSample{
		{DeviceID: "dev-1", SpeedKPH: speed0, Heading: heading0, RecordedAt: t0},
		{DeviceID: "dev-1", SpeedKPH: speed1, Heading: heading1, RecordedAt: t0.Add(dt)},
	}
}

func TestDetectEventsThresholdIsStrict(t *testing.T) {
	t0 := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	trip := testTrip(600)

	// A drop of exactly 10 km/h over one second is not harsh.
	if got := DetectEvents(trip, pair(t0, time.Second, 60, 50, 0, 0)); len(got) != 0 {
		t.Fatalf("exact threshold must not flag, got %d events", len(got))
	}
	got := DetectEvents(trip, pair(t0, time.Second, 60, 49.99, 0, 0))
	if len(got) != 1 || got[0].Type != EventBraking {
		t.Fatalf("expected one braking event, got %+v", got)
	}

	if got := DetectEvents(trip, pair(t0, time.Second, 50, 60, 0, 0)); len(got) != 0 {
		t.Fatalf("exact acceleration threshold must not flag, got %d", len(got))
	}
	got = DetectEvents(trip, pair(t0, time.Second, 50, 60.01, 0, 0))
	if len(got) != 1 || got[0].Type != EventAcceleration {
		t.Fatalf("expected one acceleration event, got %+v", got)
	}
}

func TestDetectEventsCorneringNeedsSpeed(t *testing.T) {
	t0 := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	trip := testTrip(600)

	got := DetectEvents(trip, pair(t0, time.Second, 40, 40, 0, 50))
	if len(got) != 1 || got[0].Type != EventCornering {
		t.Fatalf("expected cornering event, got %+v", got)
	}

	// Same swing at walking speed is a stationary heading jitter.
	if got := DetectEvents(trip, pair(t0, time.Second, 15, 15, 0, 50)); len(got) != 0 {
		t.Fatalf("slow cornering must not flag, got %d", len(got))
	}

	// Heading wrap across north still measures the short way round.
	got = DetectEvents(trip, pair(t0, time.Second, 40, 40, 350, 40))
	if len(got) != 1 || got[0].Type != EventCornering {
		t.Fatalf("wrapped heading swing must flag, got %+v", got)
	}
}

func TestDetectEventsSkipsWidePairs(t *testing.T) {
	t0 := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	// 80 km/h lost across 90 seconds: samples too far apart to judge.
	if got := DetectEvents(testTrip(600), pair(t0, 90*time.Second, 80, 0, 0, 0)); len(got) != 0 {
		t.Fatalf("pairs beyond 60s must be skipped, got %d", len(got))
	}
}

func TestScore(t *testing.T) {
	cases := []struct {
		name                      string
		braking, accel, cornering int
		duration                  time.Duration
		want                      int
	}{
		{"clean long trip earns bonus", 0, 0, 0, 45 * time.Minute, 100},
		{"clean short trip no bonus", 0, 0, 0, 20 * time.Minute, 100},
		{"two braking one cornering", 2, 0, 1, 45 * time.Minute, 92},
		{"events forfeit the bonus", 1, 0, 0, 45 * time.Minute, 97},
		{"floor at zero", 40, 0, 0, 45 * time.Minute, 0},
	}
	for _, c := range cases {
		if got := Score(c.braking, c.accel, c.cornering, c.duration); got != c.want {
			t.Fatalf("%s: Score = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestAnalyzeFallsBackToTemplate(t *testing.T) {
	a := NewAnalyzer(testConfig(), nil, testLogger())
	t0 := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	trip := testTrip(2700)

	samples := pair(t0, time.Second, 60, 45, 0, 0)
	events, summary := a.Analyze(testCtx(), trip, samples)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if summary.Score != 97 {
		t.Fatalf("score = %d", summary.Score)
	}
	if !strings.Contains(summary.Summary, "1 harsh braking") {
		t.Fatalf("template summary = %q", summary.Summary)
	}
	if !strings.Contains(summary.Summary, "97/100") {
		t.Fatalf("template summary = %q", summary.Summary)
	}
}
