package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"fleet-telemetry-pipeline/pipeline/internal/driving"
	"fleet-telemetry-pipeline/pipeline/internal/geofence"
	"fleet-telemetry-pipeline/pipeline/internal/provider"
	"fleet-telemetry-pipeline/pipeline/internal/repos"
	"fleet-telemetry-pipeline/pipeline/internal/syncer"
	"fleet-telemetry-pipeline/pipeline/internal/trips"
	"fleet-telemetry-pipeline/shared/cachex"
	"fleet-telemetry-pipeline/shared/clients/narrative"
	"fleet-telemetry-pipeline/shared/config"
	"fleet-telemetry-pipeline/shared/dbx"
	"fleet-telemetry-pipeline/shared/influxx"
	"fleet-telemetry-pipeline/shared/logx"
	"fleet-telemetry-pipeline/shared/metricsx"
	"fleet-telemetry-pipeline/shared/mqx"
	"fleet-telemetry-pipeline/shared/observability"
)

const (
	taskSyncTrips      = "sync.trips"
	taskSyncAlarms     = "sync.alarms"
	taskSyncMileage    = "sync.mileage"
	taskGeofenceCheck  = "geofence.check"
	taskFenceMirror    = "geofence.mirror"
	taskOutboxScan     = "outbox.scan"
	taskOutboxDispatch = "outbox.dispatch"
)

type dispatchPayload struct {
	EventID string `json:"event_id"`
}

func main() {
	cfg, problems := config.Load("pipeline-worker", 8084)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.RedisAddr == "" {
		problems = append(problems, config.Problem{Field: "REDIS_ADDR", Message: "REDIS_ADDR is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.ProviderAPIURL == "" {
		problems = append(problems, config.Problem{Field: "PROVIDER_API_URL", Message: "PROVIDER_API_URL is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}
	metricsx.Register()

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	cache, err := cachex.New(cfg)
	if err != nil {
		logger.Error(context.Background(), "redis_init_failed", "redis init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer cache.Close()

	influx, err := influxx.New(cfg)
	if err != nil {
		logger.Error(context.Background(), "influx_init_failed", "influx init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer influx.Close()

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka producer init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer producer.Close()

	gateway, err := provider.NewGateway(cfg, logger)
	if err != nil {
		logger.Error(context.Background(), "provider_init_failed", "provider gateway init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	session := provider.NewSession(cfg, gateway, cache, logger)

	var narrativeClient *narrative.Client
	if cfg.NarrativeEnabled {
		narrativeClient, err = narrative.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "narrative_disabled", "narrative client init failed, using templates",
				slog.String("error", err.Error()),
			)
		}
	}

	devicesRepo := repos.NewDevicesRepo(dbPool)
	positionsRepo := repos.NewPositionsRepo(dbPool)
	tripsRepo := repos.NewTripsRepo(dbPool)
	mileageRepo := repos.NewMileageRepo(dbPool)
	alarmsRepo := repos.NewAlarmsRepo(dbPool)
	syncStatusRepo := repos.NewSyncStatusRepo(dbPool)
	geofencesRepo := repos.NewGeofencesRepo(dbPool)
	outboxRepo := repos.NewOutboxRepo(dbPool)

	segmenter := trips.NewSegmenter(cfg)
	analyzer := driving.NewAnalyzer(cfg, narrativeClient, logger)
	syncSvc := syncer.New(cfg, session, segmenter, analyzer,
		devicesRepo, positionsRepo, tripsRepo, mileageRepo, alarmsRepo, syncStatusRepo, outboxRepo,
		influx, logger)
	checker := geofence.NewChecker(cfg, geofencesRepo, positionsRepo, outboxRepo, cache.Client(), logger)
	mirror := geofence.NewFenceMirror(session, geofencesRepo, logger)

	if released, err := outboxRepo.ReleaseStale(context.Background(), 10*time.Minute); err == nil && released > 0 {
		logger.Info(context.Background(), "outbox_stale_released", "reclaimed stuck outbox events",
			slog.Int64("count", released),
		)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues: map[string]int{
			cfg.AsynqQueue: 1,
		},
	})
	defer server.Shutdown()

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskSyncTrips, func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("asynq").Start(ctx, taskSyncTrips)
		defer span.End()
		_, err := syncSvc.SyncAllTrips(ctx)
		return err
	})
	mux.HandleFunc(taskSyncAlarms, func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("asynq").Start(ctx, taskSyncAlarms)
		defer span.End()
		_, err := syncSvc.SyncAllAlarms(ctx)
		return err
	})
	mux.HandleFunc(taskSyncMileage, func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("asynq").Start(ctx, taskSyncMileage)
		defer span.End()
		_, err := syncSvc.SyncAllMileage(ctx)
		return err
	})
	mux.HandleFunc(taskGeofenceCheck, func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("asynq").Start(ctx, taskGeofenceCheck)
		defer span.End()
		_, err := checker.Run(ctx)
		return err
	})
	mux.HandleFunc(taskFenceMirror, func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("asynq").Start(ctx, taskFenceMirror)
		defer span.End()
		_, err := mirror.Sync(ctx)
		return err
	})
	mux.HandleFunc(taskOutboxScan, func(ctx context.Context, t *asynq.Task) error {
		events, err := outboxRepo.ClaimPending(ctx, cfg.ServiceName, cfg.OutboxBatchSize)
		if err != nil {
			return err
		}
		client := asynq.NewClient(redisOpt)
		defer client.Close()
		for _, event := range events {
			payload, _ := json.Marshal(dispatchPayload{EventID: event.EventID.String()})
			task := asynq.NewTask(taskOutboxDispatch, payload, asynq.Queue(cfg.AsynqQueue))
			if _, err := client.Enqueue(task); err != nil {
				logger.Error(ctx, "enqueue_failed", "failed to enqueue outbox dispatch",
					slog.String("error_code", "INTERNAL_ERROR"),
					slog.String("error", err.Error()),
				)
				attempts := event.Attempts + 1
				nextRetry := time.Now().UTC().Add(retryDelay(attempts))
				_ = outboxRepo.MarkFailed(ctx, event.EventID, attempts, &nextRetry, err.Error(), attempts >= cfg.OutboxMaxAttempts)
			}
		}
		return nil
	})
	mux.HandleFunc(taskOutboxDispatch, func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("asynq").Start(ctx, taskOutboxDispatch)
		span.SetAttributes(attribute.String("queue", cfg.AsynqQueue))
		defer span.End()
		var payload dispatchPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}
		eventID, err := uuid.Parse(strings.TrimSpace(payload.EventID))
		if err != nil {
			return err
		}
		event, err := outboxRepo.GetByID(ctx, eventID)
		if err != nil {
			return err
		}
		if event.Status == repos.OutboxStatusDelivered || event.Status == repos.OutboxStatusDead {
			return nil
		}
		headers := map[string]string{
			"event_id":       event.EventID.String(),
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID,
			"published_at":   time.Now().UTC().Format(time.RFC3339Nano),
		}
		if err := producer.Publish(ctx, event.Topic, []byte(event.AggregateID), event.Payload, headers); err != nil {
			attempts := event.Attempts + 1
			nextRetry := time.Now().UTC().Add(retryDelay(attempts))
			dead := attempts >= cfg.OutboxMaxAttempts
			_ = outboxRepo.MarkFailed(ctx, event.EventID, attempts, &nextRetry, err.Error(), dead)
			if dead {
				logger.Warn(ctx, "outbox_dead", "outbox event moved to dead-letter",
					slog.String("event_id", event.EventID.String()),
					slog.Int("attempts", attempts),
				)
				return nil
			}
			return err
		}
		return outboxRepo.MarkDelivered(ctx, event.EventID)
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	defer scheduler.Shutdown()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	schedules := []struct {
		spec string
		task string
	}{
		{"@every " + strconv.Itoa(cfg.TripSyncIntervalSec) + "s", taskSyncTrips},
		{"@every " + strconv.Itoa(cfg.AlarmSyncIntervalSec) + "s", taskSyncAlarms},
		{"@every " + strconv.Itoa(cfg.GeofenceCheckIntervalSec) + "s", taskGeofenceCheck},
		{"@every " + strconv.Itoa(cfg.OutboxScanSec) + "s", taskOutboxScan},
		{"0 3 * * *", taskSyncMileage},
		{"30 3 * * *", taskFenceMirror},
	}
	for _, s := range schedules {
		if _, err := scheduler.Register(s.spec, asynq.NewTask(s.task, nil, asynq.Queue(cfg.AsynqQueue))); err != nil {
			logger.Error(context.Background(), "scheduler_init_failed", "scheduler init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("task", s.task),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}
	if err := scheduler.Start(); err != nil {
		logger.Error(context.Background(), "scheduler_start_failed", "scheduler start failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			info, err := inspector.GetQueueInfo(cfg.AsynqQueue)
			if err != nil {
				continue
			}
			metricsx.SetAsynqQueueDepth(cfg.AsynqQueue, info.Size)
		}
	}()

	obsMux := http.NewServeMux()
	obsMux.Handle("/metrics", metricsx.Handler())
	obsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	obsServer := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.HTTPPort),
		Handler: obsMux,
	}
	go func() {
		if err := obsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "metrics_server_failed", "metrics server failed",
				slog.String("error", err.Error()),
			)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obsServer.Shutdown(shutdownCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "worker_start", "pipeline worker started",
			slog.String("queue", cfg.AsynqQueue),
			slog.Int("concurrency", cfg.AsynqConcurrency),
		)
		errCh <- server.Run(mux)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, asynq.ErrServerClosed) {
			logger.Error(context.Background(), "worker_failed", "worker failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	logger.Info(context.Background(), "worker_stop", "pipeline worker stopped")
}

func retryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 5 * time.Second
	}
	delay := time.Duration(attempt*attempt) * 5 * time.Second
	if delay > 5*time.Minute {
		return 5 * time.Minute
	}
	return delay
}
