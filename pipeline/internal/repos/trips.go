package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-telemetry-pipeline/pipeline/internal/models"
)

// TripsRepo writes trips twice: provider_trips mirrors the provider's
// rows untouched, trips holds the normalized application view. The
// mirror keys on what the provider sent; the normalized table keys on
// (device_id, start_time) so a re-sync updates instead of duplicating.
type TripsRepo struct {
	pool *pgxpool.Pool
}

func NewTripsRepo(pool *pgxpool.Pool) *TripsRepo {
	return &TripsRepo{pool: pool}
}

func (r *TripsRepo) UpsertRaw(ctx context.Context, deviceID string, beginTime time.Time, payload []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO provider_trips (device_id, begin_time, payload, synced_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (device_id, begin_time) DO UPDATE SET
			payload = EXCLUDED.payload,
			synced_at = now()
	`, deviceID, beginTime, payload)
	return err
}

func (r *TripsRepo) UpsertTrip(ctx context.Context, db DBTX, trip models.TripSegment) (models.TripSegment, bool, error) {
	if trip.TripID == uuid.Nil {
		trip.TripID = uuid.New()
	}
	var inserted bool
	err := db.QueryRow(ctx, `
		INSERT INTO trips (
			trip_id, device_id, start_time, end_time, start_lat, start_lon, end_lat, end_lon,
			distance_km, avg_speed_kph, max_speed_kph, duration_sec
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (device_id, start_time) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			end_lat = EXCLUDED.end_lat,
			end_lon = EXCLUDED.end_lon,
			distance_km = EXCLUDED.distance_km,
			avg_speed_kph = EXCLUDED.avg_speed_kph,
			max_speed_kph = EXCLUDED.max_speed_kph,
			duration_sec = EXCLUDED.duration_sec
		RETURNING trip_id, (xmax = 0)
	`, trip.TripID, trip.DeviceID, trip.StartTime, trip.EndTime, trip.StartLat, trip.StartLon,
		trip.EndLat, trip.EndLon, trip.DistanceKM, trip.AvgSpeedKPH, trip.MaxSpeedKPH, trip.DurationSec).
		Scan(&trip.TripID, &inserted)
	return trip, inserted, err
}

func (r *TripsRepo) ReplaceEvents(ctx context.Context, db DBTX, tripID uuid.UUID, events []models.HarshEvent) error {
	if _, err := db.Exec(ctx, `DELETE FROM harsh_events WHERE trip_id = $1`, tripID); err != nil {
		return err
	}
	for _, e := range events {
		if e.EventID == uuid.Nil {
			e.EventID = uuid.New()
		}
		_, err := db.Exec(ctx, `
			INSERT INTO harsh_events (event_id, trip_id, device_id, event_type, occurred_at, magnitude, latitude, longitude)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, e.EventID, tripID, e.DeviceID, e.Type, e.OccurredAt, e.Magnitude, e.Latitude, e.Longitude)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *TripsRepo) UpsertScore(ctx context.Context, db DBTX, s models.DriverScoreSummary) error {
	_, err := db.Exec(ctx, `
		INSERT INTO driver_scores (trip_id, device_id, braking_count, accel_count, cornering_count, score, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (trip_id) DO UPDATE SET
			braking_count = EXCLUDED.braking_count,
			accel_count = EXCLUDED.accel_count,
			cornering_count = EXCLUDED.cornering_count,
			score = EXCLUDED.score,
			summary = EXCLUDED.summary
	`, s.TripID, s.DeviceID, s.BrakingCount, s.AccelCount, s.CorneringCount, s.Score, s.Summary, s.CreatedAt)
	return err
}

// SaveAnalyzedTrip writes the trip, its harsh events, its score and the
// derived outbox events in one transaction.
func (r *TripsRepo) SaveAnalyzedTrip(
	ctx context.Context,
	trip models.TripSegment,
	events []models.HarshEvent,
	score models.DriverScoreSummary,
	outbox *OutboxRepo,
	outboxEvents []models.OutboxEvent,
) (models.TripSegment, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.TripSegment{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	trip, inserted, err := r.UpsertTrip(ctx, tx, trip)
	if err != nil {
		return models.TripSegment{}, false, err
	}
	for i := range events {
		events[i].TripID = trip.TripID
	}
	if err = r.ReplaceEvents(ctx, tx, trip.TripID, events); err != nil {
		return models.TripSegment{}, false, err
	}
	score.TripID = trip.TripID
	if err = r.UpsertScore(ctx, tx, score); err != nil {
		return models.TripSegment{}, false, err
	}
	if outbox != nil {
		for _, ev := range outboxEvents {
			if _, err = outbox.Insert(ctx, tx, ev); err != nil {
				return models.TripSegment{}, false, err
			}
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return models.TripSegment{}, false, err
	}
	return trip, inserted, nil
}
