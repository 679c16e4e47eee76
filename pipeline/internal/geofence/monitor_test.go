package geofence

import (
	"testing"
	"time"

	"fleet-telemetry-pipeline/pipeline/internal/models"
)

const cooldown = 5 * time.Minute

func testZone() models.GeofenceZone {
	return models.GeofenceZone{Name: "depot", CenterLat: 6.5000, CenterLon: 3.3000, RadiusKM: 1.0}
}

func testMonitor(triggerOn string, inside bool) models.GeofenceMonitor {
	return models.GeofenceMonitor{TriggerOn: triggerOn, VehicleInside: inside, Active: true}
}

func at(lat, lon float64) models.PositionSample {
	return models.PositionSample{DeviceID: "dev-1", Latitude: lat, Longitude: lon}
}

func TestEvaluateEnterTriggers(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	d := Evaluate(testMonitor(TriggerOnEnter, false), testZone(), at(6.5000, 3.3000), now, cooldown)
	if !d.Inside || !d.Triggered || d.Direction != DirectionEnter {
		t.Fatalf("decision = %+v", d)
	}
}

func TestEvaluateNoEdgeNoTrigger(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	// Already inside, still inside.
	d := Evaluate(testMonitor(TriggerOnEnter, true), testZone(), at(6.5000, 3.3000), now, cooldown)
	if d.Triggered {
		t.Fatalf("no boundary crossing must not trigger: %+v", d)
	}
	if !d.Inside {
		t.Fatal("inside flag must still be computed")
	}
}

func TestEvaluateDirectionMustMatchTriggerOn(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	// Exit edge on an enter-only monitor.
	d := Evaluate(testMonitor(TriggerOnEnter, true), testZone(), at(6.6000, 3.3000), now, cooldown)
	if d.Triggered {
		t.Fatalf("exit must not fire an enter monitor: %+v", d)
	}
	if d.Direction != DirectionExit {
		t.Fatalf("direction = %q", d.Direction)
	}

	d = Evaluate(testMonitor(TriggerOnBoth, true), testZone(), at(6.6000, 3.3000), now, cooldown)
	if !d.Triggered {
		t.Fatalf("both must fire on exit: %+v", d)
	}
}

func TestEvaluateCooldownSuppresses(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-2 * time.Minute)
	m := testMonitor(TriggerOnEnter, false)
	m.LastTriggeredAt = &recent
	if d := Evaluate(m, testZone(), at(6.5000, 3.3000), now, cooldown); d.Triggered {
		t.Fatalf("trigger inside cooldown must be suppressed: %+v", d)
	}

	old := now.Add(-6 * time.Minute)
	m.LastTriggeredAt = &old
	if d := Evaluate(m, testZone(), at(6.5000, 3.3000), now, cooldown); !d.Triggered {
		t.Fatalf("cooldown elapsed, must trigger: %+v", d)
	}
}

func TestEvaluateBoundaryIsInside(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	// Just under 1 km north of center.
	d := Evaluate(testMonitor(TriggerOnEnter, false), testZone(), at(6.5089, 3.3000), now, cooldown)
	if !d.Inside {
		t.Fatalf("point within the radius must count as inside, distance %v", d.DistanceKM)
	}
}

func TestActiveWindowGatesTrigger(t *testing.T) {
	m := testMonitor(TriggerOnEnter, false)
	m.ActiveFrom = "08:00"
	m.ActiveUntil = "18:00"

	// 20:00 GMT+1 is 19:00 UTC.
	night := time.Date(2024, 3, 15, 19, 0, 0, 0, time.UTC)
	if d := Evaluate(m, testZone(), at(6.5000, 3.3000), night, cooldown); d.Triggered {
		t.Fatalf("outside window must not trigger: %+v", d)
	}

	day := time.Date(2024, 3, 15, 11, 0, 0, 0, time.UTC)
	if d := Evaluate(m, testZone(), at(6.5000, 3.3000), day, cooldown); !d.Triggered {
		t.Fatalf("inside window must trigger: %+v", d)
	}
}

func TestActiveWindowOvernightWrap(t *testing.T) {
	m := testMonitor(TriggerOnEnter, false)
	m.ActiveFrom = "22:00"
	m.ActiveUntil = "06:00"

	// 23:30 GMT+1.
	late := time.Date(2024, 3, 15, 22, 30, 0, 0, time.UTC)
	if !inActiveWindow(m, late) {
		t.Fatal("23:30 local must be inside a 22:00-06:00 window")
	}
	// 03:00 GMT+1.
	early := time.Date(2024, 3, 16, 2, 0, 0, 0, time.UTC)
	if !inActiveWindow(m, early) {
		t.Fatal("03:00 local must be inside a 22:00-06:00 window")
	}
	// 12:00 GMT+1.
	noon := time.Date(2024, 3, 15, 11, 0, 0, 0, time.UTC)
	if inActiveWindow(m, noon) {
		t.Fatal("noon must be outside a 22:00-06:00 window")
	}
}

func TestActiveDaysGate(t *testing.T) {
	m := testMonitor(TriggerOnEnter, false)
	// Monday through Friday.
	m.ActiveDays = []int{1, 2, 3, 4, 5}

	saturday := time.Date(2024, 3, 16, 11, 0, 0, 0, time.UTC)
	if inActiveWindow(m, saturday) {
		t.Fatal("saturday must be outside a weekday window")
	}
	friday := time.Date(2024, 3, 15, 11, 0, 0, 0, time.UTC)
	if !inActiveWindow(m, friday) {
		t.Fatal("friday must be inside a weekday window")
	}
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"08:30", 510, true},
		{"00:00", 0, true},
		{"23:59", 1439, true},
		{"24:00", 0, false},
		{"8", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, ok := parseClock(c.in)
		if got != c.want || ok != c.ok {
			t.Fatalf("parseClock(%q) = %d, %v; want %d, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}
