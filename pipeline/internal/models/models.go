package models

import (
	"time"

	"github.com/google/uuid"
)

// Device is a registered tracker. RemoteCapable gates command dispatch.
type Device struct {
	DeviceID      string
	Name          string
	PlateNumber   string
	RemoteCapable bool
	Active        bool
	CreatedAt     time.Time
}

// PositionSample is one normalized position ping. Immutable once stored,
// ordered by RecordedAt per device.
type PositionSample struct {
	DeviceID     string
	Latitude     float64
	Longitude    float64
	SpeedKPH     float64
	Heading      float64
	Ignition     bool
	BatteryLevel int
	RecordedAt   time.Time
}

// TripSegment is one contiguous period of movement. DurationSec is always
// derived from the bounds, never supplied independently.
type TripSegment struct {
	TripID      uuid.UUID
	DeviceID    string
	StartTime   time.Time
	EndTime     time.Time
	StartLat    float64
	StartLon    float64
	EndLat      float64
	EndLon      float64
	DistanceKM  float64
	AvgSpeedKPH float64
	MaxSpeedKPH float64
	DurationSec int64
}

type HarshEvent struct {
	EventID    uuid.UUID
	TripID     uuid.UUID
	DeviceID   string
	Type       string
	OccurredAt time.Time
	Magnitude  float64
	Latitude   float64
	Longitude  float64
}

type DriverScoreSummary struct {
	TripID         uuid.UUID
	DeviceID       string
	BrakingCount   int
	AccelCount     int
	CorneringCount int
	Score          int
	Summary        string
	CreatedAt      time.Time
}

type GeofenceZone struct {
	ZoneID          uuid.UUID
	OwnerID         uuid.UUID
	Name            string
	CenterLat       float64
	CenterLon       float64
	RadiusKM        float64
	LocationRef     string
	ProviderFenceID string
}

// MileageDay is one provider-reported daily odometer row.
type MileageDay struct {
	DeviceID  string
	Day       time.Time
	MileageKM float64
	FuelL     float64
}

// GeofenceMonitor binds a device to a zone. The only long-lived mutable
// state in the pipeline: each check pass reads and rewrites it.
type GeofenceMonitor struct {
	MonitorID       uuid.UUID
	DeviceID        string
	ZoneID          uuid.UUID
	TriggerOn       string
	ActiveDays      []int
	ActiveFrom      string
	ActiveUntil     string
	OneTime         bool
	Active          bool
	ExpiresAt       *time.Time
	VehicleInside   bool
	LastTriggeredAt *time.Time
	TriggerCount    int
	LastCheckedAt   *time.Time
}

type GeofenceEvent struct {
	EventID    uuid.UUID
	MonitorID  uuid.UUID
	DeviceID   string
	ZoneID     uuid.UUID
	Direction  string
	Latitude   float64
	Longitude  float64
	DistanceKM float64
	OccurredAt time.Time
}

type Notification struct {
	NotificationID uuid.UUID
	DeviceID       string
	Kind           string
	Message        string
	CreatedAt      time.Time
}

type AlarmRecord struct {
	AlarmID     uuid.UUID
	DeviceID    string
	AlarmCode   int
	Description string
	Severity    string
	Latitude    float64
	Longitude   float64
	AlarmTime   time.Time
	RawPayload  []byte
}

const (
	SyncStatusSyncing   = "syncing"
	SyncStatusCompleted = "completed"
	SyncStatusError     = "error"
)

// SyncStatus is both a liveness signal and a resumption point per device
// and pass.
type SyncStatus struct {
	DeviceID     string
	Pass         string
	Status       string
	LastSyncedAt *time.Time
	LastError    string
	UpdatedAt    time.Time
}

type OutboxEvent struct {
	EventID       uuid.UUID
	AggregateType string
	AggregateID   string
	Topic         string
	Payload       []byte
	Status        string
	Attempts      int
	NextRetryAt   *time.Time
	LockedAt      *time.Time
	LockedBy      string
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PublishedAt   *time.Time
}
