package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	OIDCIssuer      string
	OIDCAudience    string
	OIDCJWKSURL     string
	JWKSTTLSeconds  int
	JWTClockSkewSec int

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AsynqRedisAddr   string
	AsynqRedisPass   string
	AsynqRedisDB     int
	AsynqQueue       string
	AsynqConcurrency int

	KafkaBrokers  []string
	KafkaClientID string
	KafkaGroupID  string
	KafkaRetryMax int
	KafkaWriteMS  int

	OutboxScanSec     int
	OutboxBatchSize   int
	OutboxMaxAttempts int

	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	InfluxTimeoutMS int

	ProviderAPIURL       string
	ProviderAccount      string
	ProviderPassword     string
	ProviderTimeoutMS    int
	ProviderRateRPS      float64
	ProviderBurst        int
	ProviderRetryMax     int
	ProviderRetryDelayMS int
	SessionTTLMinutes    int

	NarrativeServiceURL string
	NarrativeTimeoutMS  int
	NarrativeRetryMax   int
	NarrativeEnabled    bool

	TripSyncDays        int
	MileageSyncDays     int
	TripStopGapSec      int
	TripMinDistanceKM   float64
	GeofenceCooldownSec int
	CommandPollMax      int
	CommandPollDelayMS  int

	TripSyncIntervalSec      int
	AlarmSyncIntervalSec     int
	GeofenceCheckIntervalSec int

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	cfg := Config{
		Env:                      strings.TrimSpace(os.Getenv("ENV")),
		ServiceName:              serviceNameDefault,
		HTTPPort:                 httpPortDefault,
		LogLevel:                 "info",
		RequestTimeoutMS:         30000,
		JWKSTTLSeconds:           300,
		JWTClockSkewSec:          60,
		DBMaxConns:               10,
		DBMinConns:               1,
		DBConnMaxIdleSec:         300,
		DBConnMaxLifeSec:         1800,
		AsynqQueue:               "default",
		AsynqConcurrency:         10,
		KafkaRetryMax:            5,
		KafkaWriteMS:             5000,
		OutboxScanSec:            5,
		OutboxBatchSize:          50,
		OutboxMaxAttempts:        20,
		InfluxTimeoutMS:          5000,
		ProviderTimeoutMS:        10000,
		ProviderRateRPS:          5,
		ProviderBurst:            10,
		ProviderRetryMax:         5,
		ProviderRetryDelayMS:     1000,
		SessionTTLMinutes:        1380,
		NarrativeTimeoutMS:       3000,
		NarrativeRetryMax:        2,
		TripSyncDays:             7,
		MileageSyncDays:          30,
		TripStopGapSec:           300,
		TripMinDistanceKM:        0.1,
		GeofenceCooldownSec:      300,
		CommandPollMax:           8,
		CommandPollDelayMS:       1000,
		TripSyncIntervalSec:      900,
		AlarmSyncIntervalSec:     300,
		GeofenceCheckIntervalSec: 60,
		OtelInsecure:             true,
		OtelSampleRatio:          1.0,
	}

	problems := make([]Problem, 0, 4)

	readString(&cfg.ServiceName, "SERVICE_NAME")
	readString(&cfg.LogLevel, "LOG_LEVEL")
	readInt(&cfg.HTTPPort, "HTTP_PORT", &problems)
	readInt(&cfg.RequestTimeoutMS, "REQUEST_TIMEOUT_MS", &problems)

	readString(&cfg.OIDCIssuer, "OIDC_ISSUER")
	readString(&cfg.OIDCAudience, "OIDC_AUDIENCE")
	readString(&cfg.OIDCJWKSURL, "OIDC_JWKS_URL")
	readInt(&cfg.JWKSTTLSeconds, "JWKS_CACHE_TTL_SECONDS", &problems)
	readInt(&cfg.JWTClockSkewSec, "JWT_CLOCK_SKEW_SECONDS", &problems)

	readString(&cfg.DatabaseURL, "DATABASE_URL")
	readInt(&cfg.DBMaxConns, "DB_MAX_CONNS", &problems)
	readInt(&cfg.DBMinConns, "DB_MIN_CONNS", &problems)
	readInt(&cfg.DBConnMaxIdleSec, "DB_CONN_MAX_IDLE_SECONDS", &problems)
	readInt(&cfg.DBConnMaxLifeSec, "DB_CONN_MAX_LIFETIME_SECONDS", &problems)

	readString(&cfg.RedisAddr, "REDIS_ADDR")
	readSecret(&cfg.RedisPassword, "REDIS_PASSWORD")
	readInt(&cfg.RedisDB, "REDIS_DB", &problems)

	readString(&cfg.AsynqRedisAddr, "ASYNQ_REDIS_ADDR")
	readSecret(&cfg.AsynqRedisPass, "ASYNQ_REDIS_PASSWORD")
	readInt(&cfg.AsynqRedisDB, "ASYNQ_REDIS_DB", &problems)
	readString(&cfg.AsynqQueue, "ASYNQ_QUEUE")
	readInt(&cfg.AsynqConcurrency, "ASYNQ_CONCURRENCY", &problems)

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.KafkaBrokers = parseCSV(v)
	}
	readString(&cfg.KafkaClientID, "KAFKA_CLIENT_ID")
	readString(&cfg.KafkaGroupID, "KAFKA_CONSUMER_GROUP")
	readInt(&cfg.KafkaRetryMax, "KAFKA_RETRY_MAX", &problems)
	readInt(&cfg.KafkaWriteMS, "KAFKA_WRITE_TIMEOUT_MS", &problems)

	readInt(&cfg.OutboxScanSec, "OUTBOX_SCAN_INTERVAL_SECONDS", &problems)
	readInt(&cfg.OutboxBatchSize, "OUTBOX_BATCH_SIZE", &problems)
	readInt(&cfg.OutboxMaxAttempts, "OUTBOX_MAX_ATTEMPTS", &problems)

	readString(&cfg.InfluxURL, "INFLUX_URL")
	readSecret(&cfg.InfluxToken, "INFLUX_TOKEN")
	readString(&cfg.InfluxOrg, "INFLUX_ORG")
	readString(&cfg.InfluxBucket, "INFLUX_BUCKET")
	readInt(&cfg.InfluxTimeoutMS, "INFLUX_TIMEOUT_MS", &problems)

	readString(&cfg.ProviderAPIURL, "PROVIDER_API_URL")
	readString(&cfg.ProviderAccount, "PROVIDER_ACCOUNT")
	readSecret(&cfg.ProviderPassword, "PROVIDER_PASSWORD")
	readInt(&cfg.ProviderTimeoutMS, "PROVIDER_TIMEOUT_MS", &problems)
	readFloat(&cfg.ProviderRateRPS, "PROVIDER_RATE_RPS", &problems)
	readInt(&cfg.ProviderBurst, "PROVIDER_RATE_BURST", &problems)
	readInt(&cfg.ProviderRetryMax, "PROVIDER_RETRY_MAX", &problems)
	readInt(&cfg.ProviderRetryDelayMS, "PROVIDER_RETRY_DELAY_MS", &problems)
	readInt(&cfg.SessionTTLMinutes, "PROVIDER_SESSION_TTL_MINUTES", &problems)

	readString(&cfg.NarrativeServiceURL, "NARRATIVE_SERVICE_URL")
	readInt(&cfg.NarrativeTimeoutMS, "NARRATIVE_TIMEOUT_MS", &problems)
	readInt(&cfg.NarrativeRetryMax, "NARRATIVE_RETRY_MAX", &problems)
	readBool(&cfg.NarrativeEnabled, "NARRATIVE_ENABLED", &problems)

	readInt(&cfg.TripSyncDays, "TRIP_SYNC_DAYS", &problems)
	readInt(&cfg.MileageSyncDays, "MILEAGE_SYNC_DAYS", &problems)
	readInt(&cfg.TripStopGapSec, "TRIP_STOP_GAP_SECONDS", &problems)
	readFloat(&cfg.TripMinDistanceKM, "TRIP_MIN_DISTANCE_KM", &problems)
	readInt(&cfg.GeofenceCooldownSec, "GEOFENCE_COOLDOWN_SECONDS", &problems)
	readInt(&cfg.CommandPollMax, "COMMAND_POLL_MAX", &problems)
	readInt(&cfg.CommandPollDelayMS, "COMMAND_POLL_DELAY_MS", &problems)

	readInt(&cfg.TripSyncIntervalSec, "TRIP_SYNC_INTERVAL_SECONDS", &problems)
	readInt(&cfg.AlarmSyncIntervalSec, "ALARM_SYNC_INTERVAL_SECONDS", &problems)
	readInt(&cfg.GeofenceCheckIntervalSec, "GEOFENCE_CHECK_INTERVAL_SECONDS", &problems)

	readBool(&cfg.OtelEnabled, "OTEL_ENABLED", &problems)
	readString(&cfg.OtelEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	readBool(&cfg.OtelInsecure, "OTEL_EXPORTER_OTLP_INSECURE", &problems)
	readFloat(&cfg.OtelSampleRatio, "OTEL_SAMPLE_RATIO", &problems)

	if cfg.Env == "" {
		cfg.Env = "dev"
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		problems = append(problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	if cfg.RequestTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "REQUEST_TIMEOUT_MS", Message: "REQUEST_TIMEOUT_MS must be > 0"})
		cfg.RequestTimeoutMS = 30000
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	if cfg.OIDCIssuer != "" && strings.TrimSpace(cfg.OIDCJWKSURL) == "" {
		cfg.OIDCJWKSURL = strings.TrimRight(cfg.OIDCIssuer, "/") + "/.well-known/jwks.json"
	}
	if cfg.DBMaxConns <= 0 {
		problems = append(problems, Problem{Field: "DB_MAX_CONNS", Message: "DB_MAX_CONNS must be > 0"})
		cfg.DBMaxConns = 10
	}
	if cfg.DBMinConns < 0 || cfg.DBMinConns > cfg.DBMaxConns {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be 0..DB_MAX_CONNS"})
		cfg.DBMinConns = 1
	}
	if cfg.AsynqConcurrency <= 0 {
		problems = append(problems, Problem{Field: "ASYNQ_CONCURRENCY", Message: "ASYNQ_CONCURRENCY must be > 0"})
		cfg.AsynqConcurrency = 10
	}
	if cfg.ProviderRateRPS <= 0 {
		problems = append(problems, Problem{Field: "PROVIDER_RATE_RPS", Message: "PROVIDER_RATE_RPS must be > 0"})
		cfg.ProviderRateRPS = 5
	}
	if cfg.ProviderBurst <= 0 {
		problems = append(problems, Problem{Field: "PROVIDER_RATE_BURST", Message: "PROVIDER_RATE_BURST must be > 0"})
		cfg.ProviderBurst = 10
	}
	if cfg.ProviderRetryMax < 0 {
		problems = append(problems, Problem{Field: "PROVIDER_RETRY_MAX", Message: "PROVIDER_RETRY_MAX must be >= 0"})
		cfg.ProviderRetryMax = 5
	}
	if cfg.SessionTTLMinutes <= 0 {
		problems = append(problems, Problem{Field: "PROVIDER_SESSION_TTL_MINUTES", Message: "PROVIDER_SESSION_TTL_MINUTES must be > 0"})
		cfg.SessionTTLMinutes = 1380
	}
	if cfg.TripSyncDays <= 0 {
		problems = append(problems, Problem{Field: "TRIP_SYNC_DAYS", Message: "TRIP_SYNC_DAYS must be > 0"})
		cfg.TripSyncDays = 7
	}
	if cfg.MileageSyncDays <= 0 {
		problems = append(problems, Problem{Field: "MILEAGE_SYNC_DAYS", Message: "MILEAGE_SYNC_DAYS must be > 0"})
		cfg.MileageSyncDays = 30
	}
	if cfg.TripStopGapSec <= 0 {
		problems = append(problems, Problem{Field: "TRIP_STOP_GAP_SECONDS", Message: "TRIP_STOP_GAP_SECONDS must be > 0"})
		cfg.TripStopGapSec = 300
	}
	if cfg.TripMinDistanceKM < 0 {
		problems = append(problems, Problem{Field: "TRIP_MIN_DISTANCE_KM", Message: "TRIP_MIN_DISTANCE_KM must be >= 0"})
		cfg.TripMinDistanceKM = 0.1
	}
	if cfg.GeofenceCooldownSec <= 0 {
		problems = append(problems, Problem{Field: "GEOFENCE_COOLDOWN_SECONDS", Message: "GEOFENCE_COOLDOWN_SECONDS must be > 0"})
		cfg.GeofenceCooldownSec = 300
	}
	if cfg.CommandPollMax <= 0 {
		problems = append(problems, Problem{Field: "COMMAND_POLL_MAX", Message: "COMMAND_POLL_MAX must be > 0"})
		cfg.CommandPollMax = 8
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		problems = append(problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be 0-1"})
		cfg.OtelSampleRatio = 1.0
	}

	return cfg, problems
}

func readString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func readSecret(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func readInt(dst *int, key string, problems *[]Problem) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be an integer"})
		return
	}
	*dst = n
}

func readFloat(dst *float64, key string, problems *[]Problem) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a number"})
		return
	}
	*dst = f
}

func readBool(dst *bool, key string, problems *[]Problem) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	b, ok := asBool(v)
	if !ok {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
		return
	}
	*dst = b
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
