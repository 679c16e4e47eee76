package syncer

import (
	"context"
	"errors"
	"time"

	"fleet-telemetry-pipeline/pipeline/internal/driving"
	"fleet-telemetry-pipeline/pipeline/internal/models"
	"fleet-telemetry-pipeline/pipeline/internal/provider"
	"fleet-telemetry-pipeline/pipeline/internal/repos"
	"fleet-telemetry-pipeline/pipeline/internal/trips"
	"fleet-telemetry-pipeline/shared/config"
	"fleet-telemetry-pipeline/shared/influxx"
	"fleet-telemetry-pipeline/shared/logx"
	"fleet-telemetry-pipeline/shared/timex"
)

const (
	PassTrips   = "trips"
	PassAlarms  = "alarms"
	PassMileage = "mileage"
)

var ErrDeviceRequired = errors.New("device id is required")

// Summary is the per-pass, per-device outcome report. A pass that ran to
// completion returns a Summary even when individual records failed.
type Summary struct {
	Pass            string `json:"pass"`
	DeviceID        string `json:"device_id"`
	RecordsReceived int    `json:"records_received"`
	Inserted        int    `json:"inserted"`
	Updated         int    `json:"updated"`
	Failed          int    `json:"failed"`
	Dropped         int    `json:"dropped"`
	FirstError      string `json:"first_error,omitempty"`

	TripsStored int `json:"trips_stored,omitempty"`
	HarshEvents int `json:"harsh_events,omitempty"`
	Alarms      int `json:"alarms,omitempty"`
}

func (s *Summary) recordError(err error) {
	s.Failed++
	if s.FirstError == "" {
		s.FirstError = err.Error()
	}
}

// err reports the outcome the status row should carry: nil only when
// every record landed. A pass that finished with partial failures still
// returns its Summary to the caller, but the status row reads error.
func (s *Summary) err() error {
	if s.Failed == 0 {
		return nil
	}
	return errors.New(s.FirstError)
}

// Syncer pulls from the provider and reconciles into storage. One Syncer
// serves all passes; each pass method is safe to run concurrently with
// the others for different devices.
type Syncer struct {
	session   *provider.Session
	segmenter *trips.Segmenter
	analyzer  *driving.Analyzer

	devices    *repos.DevicesRepo
	positions  *repos.PositionsRepo
	trips      *repos.TripsRepo
	mileage    *repos.MileageRepo
	alarms     *repos.AlarmsRepo
	syncStatus *repos.SyncStatusRepo
	outbox     *repos.OutboxRepo
	influx     *influxx.Client

	tripSyncDays    int
	mileageSyncDays int
	log             logx.Logger
}

func New(
	cfg config.Config,
	session *provider.Session,
	segmenter *trips.Segmenter,
	analyzer *driving.Analyzer,
	devices *repos.DevicesRepo,
	positions *repos.PositionsRepo,
	tripsRepo *repos.TripsRepo,
	mileage *repos.MileageRepo,
	alarms *repos.AlarmsRepo,
	syncStatus *repos.SyncStatusRepo,
	outbox *repos.OutboxRepo,
	influx *influxx.Client,
	log logx.Logger,
) *Syncer {
	return &Syncer{
		session:         session,
		segmenter:       segmenter,
		analyzer:        analyzer,
		devices:         devices,
		positions:       positions,
		trips:           tripsRepo,
		mileage:         mileage,
		alarms:          alarms,
		syncStatus:      syncStatus,
		outbox:          outbox,
		influx:          influx,
		tripSyncDays:    cfg.TripSyncDays,
		mileageSyncDays: cfg.MileageSyncDays,
		log:             log,
	}
}

// beginPass marks the device syncing and returns a closer that records
// the final status. The status row is best-effort: a failure to write it
// never fails the pass itself.
func (s *Syncer) beginPass(ctx context.Context, deviceID string, pass string) func(error) {
	s.writeStatus(ctx, deviceID, pass, models.SyncStatusSyncing, nil, "")
	return func(passErr error) {
		now := time.Now().UTC()
		if passErr != nil {
			s.writeStatus(ctx, deviceID, pass, models.SyncStatusError, nil, passErr.Error())
			return
		}
		s.writeStatus(ctx, deviceID, pass, models.SyncStatusCompleted, &now, "")
	}
}

func (s *Syncer) writeStatus(ctx context.Context, deviceID string, pass string, status string, syncedAt *time.Time, lastErr string) {
	err := s.syncStatus.Upsert(ctx, models.SyncStatus{
		DeviceID:     deviceID,
		Pass:         pass,
		Status:       status,
		LastSyncedAt: syncedAt,
		LastError:    lastErr,
	})
	if err != nil {
		s.log.Warn(ctx, "sync_status_write_failed", "could not persist sync status")
	}
}

// providerTime renders t the way the provider expects query bounds:
// naive local time in the provider's zone.
func providerTime(t time.Time) string {
	return t.In(timex.ProviderZone).Format("2006-01-02 15:04:05")
}
