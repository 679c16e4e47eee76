package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"fleet-telemetry-pipeline/pipeline/internal/driving"
	"fleet-telemetry-pipeline/pipeline/internal/geofence"
	"fleet-telemetry-pipeline/pipeline/internal/middleware"
	"fleet-telemetry-pipeline/pipeline/internal/provider"
	"fleet-telemetry-pipeline/pipeline/internal/repos"
	"fleet-telemetry-pipeline/pipeline/internal/syncer"
	"fleet-telemetry-pipeline/pipeline/internal/trips"
	"fleet-telemetry-pipeline/shared/authx"
	"fleet-telemetry-pipeline/shared/cachex"
	"fleet-telemetry-pipeline/shared/clients/narrative"
	"fleet-telemetry-pipeline/shared/config"
	"fleet-telemetry-pipeline/shared/dbx"
	"fleet-telemetry-pipeline/shared/httpx"
	"fleet-telemetry-pipeline/shared/influxx"
	"fleet-telemetry-pipeline/shared/logx"
	"fleet-telemetry-pipeline/shared/metricsx"
	"fleet-telemetry-pipeline/shared/observability"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

func main() {
	cfg, readyProblems := config.Load("pipeline-api", 8080)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.RedisAddr == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "REDIS_ADDR", Message: "REDIS_ADDR is required"})
	}
	if cfg.ProviderAPIURL == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "PROVIDER_API_URL", Message: "PROVIDER_API_URL is required"})
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
		logger.Error(context.Background(), "db_init_failed", "database init failed",
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

	gateway, err := provider.NewGateway(cfg, logger)
	if err != nil {
		logger.Error(context.Background(), "provider_init_failed", "provider gateway init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	session := provider.NewSession(cfg, gateway, cache, logger)
	commander := provider.NewCommander(cfg, session, logger)

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

	var verifier *authx.JWTVerifier
	if cfg.OIDCIssuer != "" && cfg.OIDCAudience != "" {
		verifier, err = authx.NewJWTVerifier(cfg.OIDCIssuer, cfg.OIDCAudience, cfg.OIDCJWKSURL, cfg.JWKSTTLSeconds, cfg.JWTClockSkewSec)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "OIDC_ISSUER", Message: "failed to initialize JWT verifier"})
		}
	}

	h := &handlers{
		sync:      syncSvc,
		checker:   checker,
		mirror:    mirror,
		commander: commander,
		devices:   devicesRepo,
		positions: positionsRepo,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if len(readyProblems) > 0 {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION",
				"service not ready: invalid configuration",
				map[string]any{"problems": readyProblems},
			)
			return
		}
		if err := dbx.Ping(r.Context(), dbPool); err != nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION",
				"service not ready: database unavailable",
				map[string]any{"problem": "db_ping_failed"},
			)
			return
		}
		if err := cache.Ping(r.Context()); err != nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION",
				"service not ready: redis unavailable",
				map[string]any{"problem": "redis_ping_failed"},
			)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ready",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.Handle("GET /metrics", metricsx.Handler())

	mux.HandleFunc("POST /api/v1/sync/trips", h.syncTrips)
	mux.HandleFunc("POST /api/v1/sync/alarms", h.syncAlarms)
	mux.HandleFunc("POST /api/v1/sync/mileage", h.syncMileage)
	mux.HandleFunc("POST /api/v1/geofences/check", h.geofenceCheck)
	mux.HandleFunc("POST /api/v1/geofences/mirror", h.geofenceMirror)
	mux.HandleFunc("POST /api/v1/devices/{deviceID}/commands", h.sendCommand)
	mux.HandleFunc("GET /api/v1/devices/{deviceID}/position", h.latestPosition)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})

	skipPublic := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics"
	}

	handler := httpx.WrapServeMux(mux, notFound)
	handler = middleware.AuthMiddleware{
		Verifier: verifier,
		Skip:     skipPublic,
	}.Wrap(handler)
	handler = middleware.RateLimitMiddleware{
		Limiter: middleware.NewIPRateLimiter(cfg.ProviderRateRPS, cfg.ProviderBurst, 2*time.Minute),
		Skip:    skipPublic,
	}.Wrap(handler)
	handler = httpx.WithTimeout(cfg.RequestTimeout, handler)
	handler = metricsx.Instrument(handler)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)
	handler = otelhttp.NewHandler(handler, "http.server")

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("log_level", cfg.LogLevel),
			slog.Int("request_timeout_ms", cfg.RequestTimeoutMS),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
}
