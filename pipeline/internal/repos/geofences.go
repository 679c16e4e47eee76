package repos

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-telemetry-pipeline/pipeline/internal/models"
)

type MonitorWithZone struct {
	Monitor models.GeofenceMonitor
	Zone    models.GeofenceZone
}

type GeofencesRepo struct {
	pool *pgxpool.Pool
}

func NewGeofencesRepo(pool *pgxpool.Pool) *GeofencesRepo {
	return &GeofencesRepo{pool: pool}
}

// ListActiveMonitors returns every monitor still eligible to fire, with
// its zone. Expired monitors are skipped, not deleted.
func (r *GeofencesRepo) ListActiveMonitors(ctx context.Context) ([]MonitorWithZone, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT m.monitor_id, m.device_id, m.zone_id, m.trigger_on, m.active_days, m.active_from, m.active_until,
			m.one_time, m.active, m.expires_at, m.vehicle_inside, m.last_triggered_at, m.trigger_count, m.last_checked_at,
			z.zone_id, z.owner_id, z.name, z.center_lat, z.center_lon, z.radius_km, z.location_ref, z.provider_fence_id
		FROM geofence_monitors m
		JOIN geofence_zones z ON z.zone_id = m.zone_id
		WHERE m.active AND (m.expires_at IS NULL OR m.expires_at > now())
		ORDER BY m.monitor_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MonitorWithZone
	for rows.Next() {
		var mw MonitorWithZone
		if err := rows.Scan(
			&mw.Monitor.MonitorID, &mw.Monitor.DeviceID, &mw.Monitor.ZoneID, &mw.Monitor.TriggerOn,
			&mw.Monitor.ActiveDays, &mw.Monitor.ActiveFrom, &mw.Monitor.ActiveUntil,
			&mw.Monitor.OneTime, &mw.Monitor.Active, &mw.Monitor.ExpiresAt, &mw.Monitor.VehicleInside,
			&mw.Monitor.LastTriggeredAt, &mw.Monitor.TriggerCount, &mw.Monitor.LastCheckedAt,
			&mw.Zone.ZoneID, &mw.Zone.OwnerID, &mw.Zone.Name, &mw.Zone.CenterLat, &mw.Zone.CenterLon,
			&mw.Zone.RadiusKM, &mw.Zone.LocationRef, &mw.Zone.ProviderFenceID,
		); err != nil {
			return nil, err
		}
		out = append(out, mw)
	}
	return out, rows.Err()
}

// UpdateMonitorState persists the mutable fields after a check pass,
// whether or not the monitor fired.
func (r *GeofencesRepo) UpdateMonitorState(ctx context.Context, db DBTX, m models.GeofenceMonitor) error {
	_, err := db.Exec(ctx, `
		UPDATE geofence_monitors
		SET vehicle_inside = $2, last_triggered_at = $3, trigger_count = $4, active = $5, last_checked_at = $6
		WHERE monitor_id = $1
	`, m.MonitorID, m.VehicleInside, m.LastTriggeredAt, m.TriggerCount, m.Active, m.LastCheckedAt)
	return err
}

func (r *GeofencesRepo) InsertEvent(ctx context.Context, db DBTX, e models.GeofenceEvent) error {
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	_, err := db.Exec(ctx, `
		INSERT INTO geofence_events (event_id, monitor_id, device_id, zone_id, direction, latitude, longitude, distance_km, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.EventID, e.MonitorID, e.DeviceID, e.ZoneID, e.Direction, e.Latitude, e.Longitude, e.DistanceKM, e.OccurredAt)
	return err
}

func (r *GeofencesRepo) InsertNotification(ctx context.Context, db DBTX, n models.Notification) error {
	if n.NotificationID == uuid.Nil {
		n.NotificationID = uuid.New()
	}
	_, err := db.Exec(ctx, `
		INSERT INTO notifications (notification_id, device_id, kind, message, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, n.NotificationID, n.DeviceID, n.Kind, n.Message, n.CreatedAt)
	return err
}

// RecordTrigger writes the event, the notification, the updated monitor
// state and the outbox event in one transaction so a crash never leaves a
// fired monitor without its event row.
func (r *GeofencesRepo) RecordTrigger(
	ctx context.Context,
	m models.GeofenceMonitor,
	e models.GeofenceEvent,
	n models.Notification,
	outbox *OutboxRepo,
	outboxEvent models.OutboxEvent,
) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = r.InsertEvent(ctx, tx, e); err != nil {
		return err
	}
	if err = r.InsertNotification(ctx, tx, n); err != nil {
		return err
	}
	if err = r.UpdateMonitorState(ctx, tx, m); err != nil {
		return err
	}
	if outbox != nil {
		if _, err = outbox.Insert(ctx, tx, outboxEvent); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *GeofencesRepo) SaveCheckedState(ctx context.Context, m models.GeofenceMonitor) error {
	return r.UpdateMonitorState(ctx, r.pool, m)
}

func (r *GeofencesRepo) ListZones(ctx context.Context) ([]models.GeofenceZone, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT zone_id, owner_id, name, center_lat, center_lon, radius_km, location_ref, provider_fence_id
		FROM geofence_zones
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []models.GeofenceZone
	for rows.Next() {
		var z models.GeofenceZone
		if err := rows.Scan(&z.ZoneID, &z.OwnerID, &z.Name, &z.CenterLat, &z.CenterLon, &z.RadiusKM, &z.LocationRef, &z.ProviderFenceID); err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

func (r *GeofencesRepo) SetZoneProviderRef(ctx context.Context, zoneID uuid.UUID, providerFenceID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE geofence_zones SET provider_fence_id = $2 WHERE zone_id = $1
	`, zoneID, providerFenceID)
	return err
}
