package alarms

import (
	"strings"
	"time"

	"fleet-telemetry-pipeline/pipeline/internal/models"
)

const (
	SeverityCritical = "critical"
	SeverityError    = "error"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// severityKeywords maps description fragments to severities, checked from
// most to least severe so "geofence power loss" classifies as error, not
// warning.
var severityKeywords = []struct {
	severity string
	words    []string
}{
	{SeverityCritical, []string{"sos", "crash", "collision", "rollover", "fuel theft"}},
	{SeverityError, []string{"power loss", "power cut", "power off", "power disconnect", "power failure", "tamper", "antenna"}},
	{SeverityWarning, []string{"overspeed", "over speed", "fatigue", "geofence", "fence", "idle", "harsh"}},
}

// Extract turns a provider position ping into an alarm record. Code 0
// means no alarm and yields ok=false. The raw payload travels with the
// record for audit.
func Extract(deviceID string, code int, description string, lat, lon float64, at time.Time, raw []byte) (models.AlarmRecord, bool) {
	if code == 0 {
		return models.AlarmRecord{}, false
	}
	return models.AlarmRecord{
		DeviceID:    deviceID,
		AlarmCode:   code,
		Description: description,
		Severity:    Classify(description),
		Latitude:    lat,
		Longitude:   lon,
		AlarmTime:   at,
		RawPayload:  raw,
	}, true
}

func Classify(description string) string {
	desc := strings.ToLower(description)
	for _, group := range severityKeywords {
		for _, w := range group.words {
			if strings.Contains(desc, w) {
				return group.severity
			}
		}
	}
	return SeverityInfo
}
