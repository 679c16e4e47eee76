package repos

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-telemetry-pipeline/pipeline/internal/models"
)

type MileageRepo struct {
	pool *pgxpool.Pool
}

func NewMileageRepo(pool *pgxpool.Pool) *MileageRepo {
	return &MileageRepo{pool: pool}
}

func (r *MileageRepo) UpsertDaily(ctx context.Context, m models.MileageDay) (bool, error) {
	var inserted bool
	err := r.pool.QueryRow(ctx, `
		INSERT INTO daily_mileage (device_id, day, mileage_km, fuel_l)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id, day) DO UPDATE SET
			mileage_km = EXCLUDED.mileage_km,
			fuel_l = EXCLUDED.fuel_l
		RETURNING (xmax = 0)
	`, m.DeviceID, m.Day, m.MileageKM, m.FuelL).Scan(&inserted)
	return inserted, err
}
