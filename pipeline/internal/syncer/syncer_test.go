package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleet-telemetry-pipeline/pipeline/internal/models"
	"fleet-telemetry-pipeline/shared/events"
)

func TestPassesRequireDeviceID(t *testing.T) {
	s := &Syncer{}
	if _, err := s.SyncTrips(context.Background(), "", time.Time{}, time.Time{}); !errors.Is(err, ErrDeviceRequired) {
		t.Fatalf("SyncTrips: %v", err)
	}
	if _, err := s.SyncAlarms(context.Background(), ""); !errors.Is(err, ErrDeviceRequired) {
		t.Fatalf("SyncAlarms: %v", err)
	}
	if _, err := s.SyncMileage(context.Background(), "", 0); !errors.Is(err, ErrDeviceRequired) {
		t.Fatalf("SyncMileage: %v", err)
	}
}

func TestProviderTimeRendersProviderZone(t *testing.T) {
	// 06:30 UTC is 14:30 in GMT+8.
	utc := time.Date(2024, 3, 15, 6, 30, 0, 0, time.UTC)
	if got := providerTime(utc); got != "2024-03-15 14:30:00" {
		t.Fatalf("providerTime = %q", got)
	}
}

func TestSamplesWithinIsInclusive(t *testing.T) {
	t0 := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	samples := []models.PositionSample{
		{RecordedAt: t0.Add(-time.Second)},
		{RecordedAt: t0},
		{RecordedAt: t0.Add(30 * time.Second)},
		{RecordedAt: t0.Add(60 * time.Second)},
		{RecordedAt: t0.Add(61 * time.Second)},
	}
	got := samplesWithin(samples, t0, t0.Add(60*time.Second))
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	if !got[0].RecordedAt.Equal(t0) || !got[2].RecordedAt.Equal(t0.Add(60*time.Second)) {
		t.Fatal("bounds must be inclusive")
	}
}

func TestToOutboxCarriesEnvelope(t *testing.T) {
	envelope, err := events.New(events.AggregateTrip, "trip-1", "trip.completed", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("events.New: %v", err)
	}
	out, err := toOutbox(map[string]events.Envelope{events.TopicTripCompleted: envelope})
	if err != nil {
		t.Fatalf("toOutbox: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 event, got %d", len(out))
	}
	if out[0].Topic != events.TopicTripCompleted {
		t.Fatalf("topic = %q", out[0].Topic)
	}
	if out[0].EventID != envelope.EventID {
		t.Fatal("outbox event must reuse the envelope id")
	}
	if len(out[0].Payload) == 0 {
		t.Fatal("payload must be the marshaled envelope")
	}
}

func TestSummaryRecordsFirstError(t *testing.T) {
	var s Summary
	s.recordError(errors.New("first"))
	s.recordError(errors.New("second"))
	if s.Failed != 2 {
		t.Fatalf("failed = %d", s.Failed)
	}
	if s.FirstError != "first" {
		t.Fatalf("first error = %q", s.FirstError)
	}
}

func TestSummaryErrSurfacesPartialFailure(t *testing.T) {
	var clean Summary
	clean.Inserted = 3
	if err := clean.err(); err != nil {
		t.Fatalf("clean pass must report nil, got %v", err)
	}

	var partial Summary
	partial.Inserted = 2
	partial.recordError(errors.New("insert failed: duplicate key"))
	err := partial.err()
	if err == nil {
		t.Fatal("a pass with failed records must not report a clean status")
	}
	if err.Error() != "insert failed: duplicate key" {
		t.Fatalf("status error = %q", err.Error())
	}
}
