package syncer

import (
	"context"
	"encoding/json"
	"log/slog"

	"fleet-telemetry-pipeline/pipeline/internal/alarms"
	"fleet-telemetry-pipeline/pipeline/internal/models"
	"fleet-telemetry-pipeline/pipeline/internal/provider"
	"fleet-telemetry-pipeline/shared/events"
	"fleet-telemetry-pipeline/shared/metricsx"
	"fleet-telemetry-pipeline/shared/timex"
)

// SyncAlarms pulls the device's last position, ingests it, and extracts
// any alarm it carries. The provider folds alarms into position pings;
// code 0 means the ping is alarm-free.
func (s *Syncer) SyncAlarms(ctx context.Context, deviceID string) (Summary, error) {
	if deviceID == "" {
		return Summary{}, ErrDeviceRequired
	}

	summary := Summary{Pass: PassAlarms, DeviceID: deviceID}
	finish := s.beginPass(ctx, deviceID, PassAlarms)
	log := s.log.With(slog.String("device_id", deviceID), slog.String("pass", PassAlarms))

	var rec provider.PositionRecord
	err := s.session.Call(ctx, provider.ActionLastPosition, map[string]string{
		"deviceid": deviceID,
	}, &rec)
	if err != nil {
		finish(err)
		return summary, err
	}
	summary.RecordsReceived = 1

	at, err := timex.Normalize(rec.GPSTime)
	if err != nil {
		log.Warn(ctx, "alarm_timestamp_dropped", "unparseable provider timestamp")
		metricsx.IncDroppedTimestamp()
		summary.Dropped++
		finish(summary.err())
		return summary, nil
	}

	sample := models.PositionSample{
		DeviceID:     deviceID,
		Latitude:     rec.Latitude,
		Longitude:    rec.Longitude,
		SpeedKPH:     rec.Speed,
		Heading:      rec.Course,
		Ignition:     rec.ACCStatus == 1,
		BatteryLevel: rec.Battery,
		RecordedAt:   at,
	}
	s.ingestSamples(ctx, log, deviceID, []models.PositionSample{sample}, &summary)

	description := rec.AlarmDesc
	if description == "" {
		description = rec.AlarmDescCN
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		summary.recordError(err)
		finish(summary.err())
		return summary, nil
	}
	alarm, ok := alarms.Extract(deviceID, rec.AlarmCode, description, rec.Latitude, rec.Longitude, at, raw)
	if !ok {
		finish(summary.err())
		return summary, nil
	}

	inserted, err := s.alarms.Insert(ctx, alarm)
	if err != nil {
		summary.recordError(err)
		metricsx.IncSyncRecord(PassAlarms, "failed")
		finish(err)
		return summary, err
	}
	if !inserted {
		summary.Updated++
		metricsx.IncSyncRecord(PassAlarms, "duplicate")
		finish(summary.err())
		return summary, nil
	}
	summary.Inserted++
	summary.Alarms++
	metricsx.IncSyncRecord(PassAlarms, "inserted")

	envelope, err := events.New(events.AggregateDevice, deviceID, "alarm.raised", alarm)
	if err != nil {
		summary.recordError(err)
		finish(summary.err())
		return summary, nil
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		summary.recordError(err)
		finish(summary.err())
		return summary, nil
	}
	_, err = s.outbox.InsertOne(ctx, models.OutboxEvent{
		EventID:       envelope.EventID,
		AggregateType: envelope.AggregateType,
		AggregateID:   envelope.AggregateID,
		Topic:         events.TopicVehicleAlarms,
		Payload:       payload,
	})
	if err != nil {
		summary.recordError(err)
	}

	log.Info(ctx, "alarm_sync_done", "alarm pass finished",
		slog.Int("alarms", summary.Alarms),
		slog.String("severity", alarm.Severity))
	finish(summary.err())
	return summary, nil
}

// SyncAllAlarms runs the alarm pass for every active device.
func (s *Syncer) SyncAllAlarms(ctx context.Context) ([]Summary, error) {
	devices, err := s.devices.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, 0, len(devices))
	for _, d := range devices {
		summary, err := s.SyncAlarms(ctx, d.DeviceID)
		if err != nil {
			s.log.Error(ctx, "alarm_sync_failed", "device alarm pass failed",
				slog.String("device_id", d.DeviceID),
				slog.String("error", err.Error()))
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}
