package repos

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-telemetry-pipeline/pipeline/internal/models"
)

// PositionsRepo keeps the latest known position per device. The full
// position history lives in influx; postgres only holds the head row the
// geofence checker reads.
type PositionsRepo struct {
	pool *pgxpool.Pool
}

func NewPositionsRepo(pool *pgxpool.Pool) *PositionsRepo {
	return &PositionsRepo{pool: pool}
}

func (r *PositionsRepo) UpsertLatest(ctx context.Context, s models.PositionSample) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO latest_positions (device_id, latitude, longitude, speed_kph, heading, ignition, battery_level, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (device_id) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			speed_kph = EXCLUDED.speed_kph,
			heading = EXCLUDED.heading,
			ignition = EXCLUDED.ignition,
			battery_level = EXCLUDED.battery_level,
			recorded_at = EXCLUDED.recorded_at
		WHERE latest_positions.recorded_at <= EXCLUDED.recorded_at
	`, s.DeviceID, s.Latitude, s.Longitude, s.SpeedKPH, s.Heading, s.Ignition, s.BatteryLevel, s.RecordedAt)
	return err
}

func (r *PositionsRepo) GetLatest(ctx context.Context, deviceID string) (models.PositionSample, error) {
	var s models.PositionSample
	err := r.pool.QueryRow(ctx, `
		SELECT device_id, latitude, longitude, speed_kph, heading, ignition, battery_level, recorded_at
		FROM latest_positions
		WHERE device_id = $1
	`, deviceID).Scan(&s.DeviceID, &s.Latitude, &s.Longitude, &s.SpeedKPH, &s.Heading, &s.Ignition, &s.BatteryLevel, &s.RecordedAt)
	return s, err
}

func (r *PositionsRepo) ListLatest(ctx context.Context, deviceIDs []string) (map[string]models.PositionSample, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT device_id, latitude, longitude, speed_kph, heading, ignition, battery_level, recorded_at
		FROM latest_positions
		WHERE device_id = ANY($1)
	`, deviceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]models.PositionSample, len(deviceIDs))
	for rows.Next() {
		var s models.PositionSample
		if err := rows.Scan(&s.DeviceID, &s.Latitude, &s.Longitude, &s.SpeedKPH, &s.Heading, &s.Ignition, &s.BatteryLevel, &s.RecordedAt); err != nil {
			return nil, err
		}
		out[s.DeviceID] = s
	}
	return out, rows.Err()
}
