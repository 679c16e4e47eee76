package repos

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-telemetry-pipeline/pipeline/internal/models"
)

type SyncStatusRepo struct {
	pool *pgxpool.Pool
}

func NewSyncStatusRepo(pool *pgxpool.Pool) *SyncStatusRepo {
	return &SyncStatusRepo{pool: pool}
}

func (r *SyncStatusRepo) Upsert(ctx context.Context, s models.SyncStatus) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sync_status (device_id, pass, status, last_synced_at, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (device_id, pass) DO UPDATE SET
			status = EXCLUDED.status,
			last_synced_at = COALESCE(EXCLUDED.last_synced_at, sync_status.last_synced_at),
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`, s.DeviceID, s.Pass, s.Status, s.LastSyncedAt, s.LastError, s.UpdatedAt)
	return err
}

func (r *SyncStatusRepo) Get(ctx context.Context, deviceID string, pass string) (models.SyncStatus, error) {
	var s models.SyncStatus
	err := r.pool.QueryRow(ctx, `
		SELECT device_id, pass, status, last_synced_at, last_error, updated_at
		FROM sync_status
		WHERE device_id = $1 AND pass = $2
	`, deviceID, pass).Scan(&s.DeviceID, &s.Pass, &s.Status, &s.LastSyncedAt, &s.LastError, &s.UpdatedAt)
	return s, err
}
