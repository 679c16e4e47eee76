package repos

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-telemetry-pipeline/pipeline/internal/models"
)

type DevicesRepo struct {
	pool *pgxpool.Pool
}

func NewDevicesRepo(pool *pgxpool.Pool) *DevicesRepo {
	return &DevicesRepo{pool: pool}
}

func (r *DevicesRepo) Get(ctx context.Context, deviceID string) (models.Device, error) {
	var d models.Device
	err := r.pool.QueryRow(ctx, `
		SELECT device_id, name, plate_number, remote_capable, active, created_at
		FROM devices
		WHERE device_id = $1
	`, deviceID).Scan(&d.DeviceID, &d.Name, &d.PlateNumber, &d.RemoteCapable, &d.Active, &d.CreatedAt)
	return d, err
}

func (r *DevicesRepo) ListActive(ctx context.Context) ([]models.Device, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT device_id, name, plate_number, remote_capable, active, created_at
		FROM devices
		WHERE active
		ORDER BY device_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(&d.DeviceID, &d.Name, &d.PlateNumber, &d.RemoteCapable, &d.Active, &d.CreatedAt); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
