package alarms

import (
	"testing"
	"time"
)

func TestExtractDropsCodeZero(t *testing.T) {
	_, ok := Extract("dev-1", 0, "", 6.5, 3.3, time.Now(), nil)
	if ok {
		t.Fatal("code 0 is not an alarm")
	}
}

func TestExtractKeepsRawPayload(t *testing.T) {
	raw := []byte(`{"alarmcode":14,"alarmdesc":"SOS"}`)
	rec, ok := Extract("dev-1", 14, "SOS", 6.5, 3.3, time.Now(), raw)
	if !ok {
		t.Fatal("expected alarm")
	}
	if rec.Severity != SeverityCritical {
		t.Fatalf("severity = %q", rec.Severity)
	}
	if string(rec.RawPayload) != string(raw) {
		t.Fatal("raw payload must be retained")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		desc string
		want string
	}{
		{"SOS button pressed", SeverityCritical},
		{"Vehicle crash detected", SeverityCritical},
		{"Rollover alert", SeverityCritical},
		{"Fuel theft suspected", SeverityCritical},
		{"Main power disconnected", SeverityError},
		{"Tamper alert", SeverityError},
		{"GPS antenna cut", SeverityError},
		{"Overspeed alert", SeverityWarning},
		{"Driver fatigue warning", SeverityWarning},
		{"Geofence out alert", SeverityWarning},
		{"Excessive idle time", SeverityWarning},
		{"Harsh braking alarm", SeverityWarning},
		{"Device reboot", SeverityInfo},
		{"", SeverityInfo},
		// Routine power-up is not a power-loss alarm.
		{"Power on", SeverityInfo},
		{"Main power restored", SeverityInfo},
		// A power-loss keyword outranks a fence keyword.
		{"geofence power loss", SeverityError},
	}
	for _, c := range cases {
		if got := Classify(c.desc); got != c.want {
			t.Fatalf("Classify(%q) = %q, want %q", c.desc, got, c.want)
		}
	}
}
