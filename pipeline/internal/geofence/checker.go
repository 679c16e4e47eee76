package geofence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-telemetry-pipeline/pipeline/internal/models"
	"fleet-telemetry-pipeline/pipeline/internal/repos"
	"fleet-telemetry-pipeline/shared/config"
	"fleet-telemetry-pipeline/shared/events"
	"fleet-telemetry-pipeline/shared/lockx"
	"fleet-telemetry-pipeline/shared/logx"
	"fleet-telemetry-pipeline/shared/metricsx"
)

const checkLockKey = "lock:geofence:check"

type CheckSummary struct {
	MonitorsChecked int    `json:"monitors_checked"`
	Triggered       int    `json:"triggered"`
	Skipped         int    `json:"skipped"`
	Failed          int    `json:"failed"`
	FirstError      string `json:"first_error,omitempty"`
}

// Checker runs one geofence pass over every active monitor. A redis lock
// keeps passes from overlapping; a second checker finding the lock held
// returns an empty summary instead of racing the first.
type Checker struct {
	geofences *repos.GeofencesRepo
	positions *repos.PositionsRepo
	outbox    *repos.OutboxRepo
	redis     *redis.Client
	cooldown  time.Duration
	lockTTL   time.Duration
	log       logx.Logger
}

func NewChecker(
	cfg config.Config,
	geofences *repos.GeofencesRepo,
	positions *repos.PositionsRepo,
	outbox *repos.OutboxRepo,
	rdb *redis.Client,
	log logx.Logger,
) *Checker {
	return &Checker{
		geofences: geofences,
		positions: positions,
		outbox:    outbox,
		redis:     rdb,
		cooldown:  time.Duration(cfg.GeofenceCooldownSec) * time.Second,
		lockTTL:   2 * time.Duration(cfg.GeofenceCheckIntervalSec) * time.Second,
		log:       log,
	}
}

func (c *Checker) Run(ctx context.Context) (CheckSummary, error) {
	lock, ok, err := lockx.Acquire(ctx, c.redis, checkLockKey, c.lockTTL)
	if err != nil {
		return CheckSummary{}, err
	}
	if !ok {
		c.log.Debug(ctx, "geofence_check_skipped", "another checker holds the lock")
		return CheckSummary{}, nil
	}
	defer func() {
		if err := lockx.Release(context.WithoutCancel(ctx), c.redis, lock); err != nil {
			c.log.Warn(ctx, "geofence_lock_release_failed", "could not release check lock",
				slog.String("error", err.Error()))
		}
	}()

	monitors, err := c.geofences.ListActiveMonitors(ctx)
	if err != nil {
		return CheckSummary{}, err
	}
	deviceIDs := make([]string, 0, len(monitors))
	seen := make(map[string]bool, len(monitors))
	for _, mw := range monitors {
		if !seen[mw.Monitor.DeviceID] {
			seen[mw.Monitor.DeviceID] = true
			deviceIDs = append(deviceIDs, mw.Monitor.DeviceID)
		}
	}
	positions, err := c.positions.ListLatest(ctx, deviceIDs)
	if err != nil {
		return CheckSummary{}, err
	}

	now := time.Now().UTC()
	summary := CheckSummary{MonitorsChecked: len(monitors)}
	for _, mw := range monitors {
		pos, ok := positions[mw.Monitor.DeviceID]
		if !ok {
			summary.Skipped++
			continue
		}
		if err := c.checkOne(ctx, mw, pos, now, &summary); err != nil {
			summary.Failed++
			if summary.FirstError == "" {
				summary.FirstError = err.Error()
			}
			c.log.Error(ctx, "geofence_check_failed", "monitor check failed",
				slog.String("monitor_id", mw.Monitor.MonitorID.String()),
				slog.String("error", err.Error()))
		}
	}
	c.log.Info(ctx, "geofence_check_done", "geofence pass finished",
		slog.Int("checked", summary.MonitorsChecked),
		slog.Int("triggered", summary.Triggered),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed))
	return summary, nil
}

func (c *Checker) checkOne(ctx context.Context, mw repos.MonitorWithZone, pos models.PositionSample, now time.Time, summary *CheckSummary) error {
	m := mw.Monitor
	decision := Evaluate(m, mw.Zone, pos, now, c.cooldown)

	m.VehicleInside = decision.Inside
	m.LastCheckedAt = &now
	if !decision.Triggered {
		return c.geofences.SaveCheckedState(ctx, m)
	}

	m.LastTriggeredAt = &now
	m.TriggerCount++
	if m.OneTime {
		m.Active = false
	}

	event := models.GeofenceEvent{
		MonitorID:  m.MonitorID,
		DeviceID:   m.DeviceID,
		ZoneID:     mw.Zone.ZoneID,
		Direction:  decision.Direction,
		Latitude:   pos.Latitude,
		Longitude:  pos.Longitude,
		DistanceKM: decision.DistanceKM,
		OccurredAt: now,
	}
	notification := models.Notification{
		DeviceID:  m.DeviceID,
		Kind:      "geofence_" + decision.Direction,
		Message:   fmt.Sprintf("Vehicle %s %sed zone %s", m.DeviceID, decision.Direction, mw.Zone.Name),
		CreatedAt: now,
	}
	envelope, err := events.New(events.AggregateMonitor, m.MonitorID.String(), "geofence."+decision.Direction, event)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	outboxEvent := models.OutboxEvent{
		EventID:       envelope.EventID,
		AggregateType: envelope.AggregateType,
		AggregateID:   envelope.AggregateID,
		Topic:         events.TopicGeofenceEvents,
		Payload:       payload,
	}

	if err := c.geofences.RecordTrigger(ctx, m, event, notification, c.outbox, outboxEvent); err != nil {
		return err
	}
	metricsx.IncGeofenceTrigger(decision.Direction)
	summary.Triggered++
	c.log.Info(ctx, "geofence_triggered", "monitor fired",
		slog.String("device_id", m.DeviceID),
		slog.String("zone", mw.Zone.Name),
		slog.String("direction", decision.Direction))
	return nil
}
