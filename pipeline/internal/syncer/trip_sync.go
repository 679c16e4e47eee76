package syncer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"fleet-telemetry-pipeline/pipeline/internal/models"
	"fleet-telemetry-pipeline/pipeline/internal/provider"
	"fleet-telemetry-pipeline/shared/events"
	"fleet-telemetry-pipeline/shared/logx"
	"fleet-telemetry-pipeline/shared/metricsx"
	"fleet-telemetry-pipeline/shared/timex"
)

// SyncTrips mirrors the provider's trip rows for the window, re-ingests
// the track samples, segments them into trips and runs driving analysis
// on each. A zero from/to defaults to the trailing trip-sync window.
func (s *Syncer) SyncTrips(ctx context.Context, deviceID string, from, to time.Time) (Summary, error) {
	if deviceID == "" {
		return Summary{}, ErrDeviceRequired
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -s.tripSyncDays)
	}

	summary := Summary{Pass: PassTrips, DeviceID: deviceID}
	finish := s.beginPass(ctx, deviceID, PassTrips)
	log := s.log.With(slog.String("device_id", deviceID), slog.String("pass", PassTrips))

	var records []provider.TripRecord
	err := s.session.Call(ctx, provider.ActionQueryTrips, map[string]string{
		"deviceid":  deviceID,
		"begintime": providerTime(from),
		"endtime":   providerTime(to),
	}, &records)
	if err != nil {
		finish(err)
		return summary, err
	}
	summary.RecordsReceived = len(records)

	for _, rec := range records {
		beginAt, err := timex.Normalize(rec.BeginTime)
		if err != nil {
			log.Warn(ctx, "trip_timestamp_dropped", "unparseable provider timestamp")
			metricsx.IncDroppedTimestamp()
			summary.Dropped++
			continue
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			summary.recordError(err)
			continue
		}
		if err := s.trips.UpsertRaw(ctx, deviceID, beginAt, payload); err != nil {
			summary.recordError(err)
			metricsx.IncSyncRecord(PassTrips, "failed")
			continue
		}
	}

	samples, dropped, err := s.fetchTrack(ctx, deviceID, from, to)
	if err != nil {
		finish(err)
		return summary, err
	}
	summary.Dropped += dropped
	s.ingestSamples(ctx, log, deviceID, samples, &summary)

	for _, trip := range s.segmenter.Segment(samples) {
		if err := s.saveTrip(ctx, trip, samples, &summary); err != nil {
			summary.recordError(err)
			metricsx.IncSyncRecord(PassTrips, "failed")
			continue
		}
		summary.TripsStored++
	}

	log.Info(ctx, "trip_sync_done", "trip pass finished",
		slog.Int("received", summary.RecordsReceived),
		slog.Int("trips_stored", summary.TripsStored),
		slog.Int("harsh_events", summary.HarshEvents),
		slog.Int("failed", summary.Failed),
		slog.Int("dropped", summary.Dropped))
	finish(summary.err())
	return summary, nil
}

func (s *Syncer) fetchTrack(ctx context.Context, deviceID string, from, to time.Time) ([]models.PositionSample, int, error) {
	var records []provider.PositionRecord
	err := s.session.Call(ctx, provider.ActionQueryTrack, map[string]string{
		"deviceid":  deviceID,
		"begintime": providerTime(from),
		"endtime":   providerTime(to),
	}, &records)
	if err != nil {
		return nil, 0, err
	}

	samples := make([]models.PositionSample, 0, len(records))
	dropped := 0
	for _, rec := range records {
		at, err := timex.Normalize(rec.GPSTime)
		if err != nil {
			metricsx.IncDroppedTimestamp()
			dropped++
			continue
		}
		samples = append(samples, models.PositionSample{
			DeviceID:     deviceID,
			Latitude:     rec.Latitude,
			Longitude:    rec.Longitude,
			SpeedKPH:     rec.Speed,
			Heading:      rec.Course,
			Ignition:     rec.ACCStatus == 1,
			BatteryLevel: rec.Battery,
			RecordedAt:   at,
		})
	}
	return samples, dropped, nil
}

// ingestSamples appends every sample to the influx raw log and advances
// the postgres latest-position row. Influx failures are soft.
func (s *Syncer) ingestSamples(ctx context.Context, log logx.Logger, deviceID string, samples []models.PositionSample, summary *Summary) {
	var latest *models.PositionSample
	for i := range samples {
		sample := samples[i]
		err := s.influx.WritePoint(ctx, "position",
			map[string]string{"device_id": deviceID},
			map[string]any{
				"latitude":  sample.Latitude,
				"longitude": sample.Longitude,
				"speed_kph": sample.SpeedKPH,
				"heading":   sample.Heading,
				"ignition":  sample.Ignition,
				"battery":   sample.BatteryLevel,
			}, sample.RecordedAt)
		if err != nil {
			metricsx.IncInfluxWriteFailure()
			log.Warn(ctx, "influx_write_failed", "raw position not logged",
				slog.String("error", err.Error()))
		}
		if latest == nil || sample.RecordedAt.After(latest.RecordedAt) {
			latest = &samples[i]
		}
	}
	if latest != nil {
		if err := s.positions.UpsertLatest(ctx, *latest); err != nil {
			summary.recordError(err)
		}
	}
}

func (s *Syncer) saveTrip(ctx context.Context, trip models.TripSegment, all []models.PositionSample, summary *Summary) error {
	tripSamples := samplesWithin(all, trip.StartTime, trip.EndTime)
	harsh, score := s.analyzer.Analyze(ctx, trip, tripSamples)

	tripEnvelope, err := events.New(events.AggregateTrip, trip.TripID.String(), "trip.completed", trip)
	if err != nil {
		return err
	}
	scoreEnvelope, err := events.New(events.AggregateTrip, trip.TripID.String(), "driving.scored", score)
	if err != nil {
		return err
	}
	outboxEvents, err := toOutbox(map[string]events.Envelope{
		events.TopicTripCompleted: tripEnvelope,
		events.TopicDrivingScores: scoreEnvelope,
	})
	if err != nil {
		return err
	}

	_, inserted, err := s.trips.SaveAnalyzedTrip(ctx, trip, harsh, score, s.outbox, outboxEvents)
	if err != nil {
		return err
	}
	if inserted {
		summary.Inserted++
		metricsx.IncSyncRecord(PassTrips, "inserted")
	} else {
		summary.Updated++
		metricsx.IncSyncRecord(PassTrips, "updated")
	}
	summary.HarshEvents += len(harsh)
	return nil
}

func samplesWithin(samples []models.PositionSample, from, to time.Time) []models.PositionSample {
	out := make([]models.PositionSample, 0, len(samples))
	for _, s := range samples {
		if !s.RecordedAt.Before(from) && !s.RecordedAt.After(to) {
			out = append(out, s)
		}
	}
	return out
}

func toOutbox(byTopic map[string]events.Envelope) ([]models.OutboxEvent, error) {
	out := make([]models.OutboxEvent, 0, len(byTopic))
	for topic, envelope := range byTopic {
		payload, err := json.Marshal(envelope)
		if err != nil {
			return nil, err
		}
		out = append(out, models.OutboxEvent{
			EventID:       envelope.EventID,
			AggregateType: envelope.AggregateType,
			AggregateID:   envelope.AggregateID,
			Topic:         topic,
			Payload:       payload,
		})
	}
	return out, nil
}
