package syncer

import (
	"context"
	"log/slog"
	"time"

	"fleet-telemetry-pipeline/pipeline/internal/models"
	"fleet-telemetry-pipeline/pipeline/internal/provider"
	"fleet-telemetry-pipeline/shared/metricsx"
	"fleet-telemetry-pipeline/shared/timex"
)

// SyncMileage reconciles the provider's daily mileage report. days <= 0
// uses the configured trailing window.
func (s *Syncer) SyncMileage(ctx context.Context, deviceID string, days int) (Summary, error) {
	if deviceID == "" {
		return Summary{}, ErrDeviceRequired
	}
	if days <= 0 {
		days = s.mileageSyncDays
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)

	summary := Summary{Pass: PassMileage, DeviceID: deviceID}
	finish := s.beginPass(ctx, deviceID, PassMileage)
	log := s.log.With(slog.String("device_id", deviceID), slog.String("pass", PassMileage))

	var records []provider.MileageRecord
	err := s.session.Call(ctx, provider.ActionMileageDetail, map[string]string{
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
		day, err := timex.Normalize(rec.Day)
		if err != nil {
			log.Warn(ctx, "mileage_timestamp_dropped", "unparseable provider day")
			metricsx.IncDroppedTimestamp()
			summary.Dropped++
			continue
		}
		inserted, err := s.mileage.UpsertDaily(ctx, models.MileageDay{
			DeviceID:  deviceID,
			Day:       day,
			MileageKM: rec.MileageKM,
			FuelL:     rec.FuelL,
		})
		if err != nil {
			summary.recordError(err)
			metricsx.IncSyncRecord(PassMileage, "failed")
			continue
		}
		if inserted {
			summary.Inserted++
			metricsx.IncSyncRecord(PassMileage, "inserted")
		} else {
			summary.Updated++
			metricsx.IncSyncRecord(PassMileage, "updated")
		}
	}

	log.Info(ctx, "mileage_sync_done", "mileage pass finished",
		slog.Int("received", summary.RecordsReceived),
		slog.Int("inserted", summary.Inserted),
		slog.Int("updated", summary.Updated),
		slog.Int("failed", summary.Failed))
	finish(summary.err())
	return summary, nil
}

// SyncAllTrips runs the trip pass for every active device with the
// default window.
func (s *Syncer) SyncAllTrips(ctx context.Context) ([]Summary, error) {
	devices, err := s.devices.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, 0, len(devices))
	for _, d := range devices {
		summary, err := s.SyncTrips(ctx, d.DeviceID, time.Time{}, time.Time{})
		if err != nil {
			s.log.Error(ctx, "trip_sync_failed", "device trip pass failed",
				slog.String("device_id", d.DeviceID),
				slog.String("error", err.Error()))
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// SyncAllMileage runs the mileage pass for every active device.
func (s *Syncer) SyncAllMileage(ctx context.Context) ([]Summary, error) {
	devices, err := s.devices.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, 0, len(devices))
	for _, d := range devices {
		summary, err := s.SyncMileage(ctx, d.DeviceID, 0)
		if err != nil {
			s.log.Error(ctx, "mileage_sync_failed", "device mileage pass failed",
				slog.String("device_id", d.DeviceID),
				slog.String("error", err.Error()))
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}
