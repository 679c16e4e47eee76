package repos

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-telemetry-pipeline/pipeline/internal/models"
)

type AlarmsRepo struct {
	pool *pgxpool.Pool
}

func NewAlarmsRepo(pool *pgxpool.Pool) *AlarmsRepo {
	return &AlarmsRepo{pool: pool}
}

// Insert dedupes on (device_id, alarm_time, alarm_code); a replayed alarm
// is silently skipped and reported as not inserted.
func (r *AlarmsRepo) Insert(ctx context.Context, a models.AlarmRecord) (bool, error) {
	if a.AlarmID == uuid.Nil {
		a.AlarmID = uuid.New()
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO alarms (alarm_id, device_id, alarm_code, description, severity, latitude, longitude, alarm_time, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (device_id, alarm_time, alarm_code) DO NOTHING
	`, a.AlarmID, a.DeviceID, a.AlarmCode, a.Description, a.Severity, a.Latitude, a.Longitude, a.AlarmTime, a.RawPayload)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *AlarmsRepo) ListRecent(ctx context.Context, deviceID string, limit int) ([]models.AlarmRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT alarm_id, device_id, alarm_code, description, severity, latitude, longitude, alarm_time, raw_payload
		FROM alarms
		WHERE device_id = $1
		ORDER BY alarm_time DESC
		LIMIT $2
	`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alarms []models.AlarmRecord
	for rows.Next() {
		var a models.AlarmRecord
		if err := rows.Scan(&a.AlarmID, &a.DeviceID, &a.AlarmCode, &a.Description, &a.Severity, &a.Latitude, &a.Longitude, &a.AlarmTime, &a.RawPayload); err != nil {
			return nil, err
		}
		alarms = append(alarms, a)
	}
	return alarms, rows.Err()
}
