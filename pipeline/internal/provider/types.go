package provider

import "encoding/json"

// Actions understood by the tracking provider. Every request is a JSON call
// discriminated by one of these.
const (
	ActionLogin         = "login"
	ActionLastPosition  = "lastposition"
	ActionQueryTrips    = "querytrips"
	ActionQueryTrack    = "querytrack"
	ActionMileageDetail = "reportmileagedetail"
	ActionSendCommand   = "sendcommand"
	ActionQueryCommand  = "querycommand"
	ActionFenceCreate   = "createfencerecord"
	ActionFenceUpdate   = "updatefencerecord"
	ActionFenceDelete   = "deletefencerecord"
	ActionFenceList     = "queryfencerecord"
)

// Provider status codes. Zero is success; everything else carries a cause.
const (
	StatusOK           = 0
	StatusInvalidToken = 10001
	StatusRateLimited  = 10023
)

type Envelope struct {
	Status  int             `json:"status"`
	Cause   string          `json:"cause"`
	Message string          `json:"message"`
	Record  json.RawMessage `json:"record"`
}

type LoginRecord struct {
	AccessToken string `json:"access_token"`
	ServerID    string `json:"server_id"`
	ExpiresIn   int64  `json:"expires_in"`
}

// PositionRecord timestamps arrive as strings or epoch numbers, so they stay
// untyped until the normalizer has seen them.
type PositionRecord struct {
	DeviceID    string  `json:"deviceid"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Speed       float64 `json:"speed"`
	Course      float64 `json:"course"`
	ACCStatus   int     `json:"accstatus"`
	Battery     int     `json:"battery"`
	AlarmCode   int     `json:"alarmcode"`
	AlarmDesc   string  `json:"alarmdesc"`
	AlarmDescCN string  `json:"alarmdesccn"`
	GPSTime     any     `json:"gpstime"`
	SystemTime  any     `json:"systemtime"`
}

type TripRecord struct {
	DeviceID  string  `json:"deviceid"`
	BeginTime any     `json:"begintime"`
	EndTime   any     `json:"endtime"`
	BeginLat  float64 `json:"beginlat"`
	BeginLon  float64 `json:"beginlon"`
	EndLat    float64 `json:"endlat"`
	EndLon    float64 `json:"endlon"`
	MileageKM float64 `json:"mileage"`
	MaxSpeed  float64 `json:"maxspeed"`
}

type MileageRecord struct {
	DeviceID  string  `json:"deviceid"`
	Day       any     `json:"day"`
	MileageKM float64 `json:"mileage"`
	FuelL     float64 `json:"fuel"`
}

type CommandRecord struct {
	CommandID string `json:"commandid"`
	State     int    `json:"state"`
	Response  string `json:"response"`
}

type FenceRecord struct {
	FenceID   string  `json:"fenceid"`
	Name      string  `json:"fencename"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	RadiusM   float64 `json:"radius"`
}
