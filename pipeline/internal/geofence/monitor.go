package geofence

import (
	"strconv"
	"strings"
	"time"

	"fleet-telemetry-pipeline/pipeline/internal/geo"
	"fleet-telemetry-pipeline/pipeline/internal/models"
	"fleet-telemetry-pipeline/shared/timex"
)

const (
	DirectionEnter = "enter"
	DirectionExit  = "exit"

	TriggerOnEnter = "enter"
	TriggerOnExit  = "exit"
	TriggerOnBoth  = "both"
)

type Decision struct {
	Inside     bool
	DistanceKM float64
	Triggered  bool
	Direction  string
}

// Evaluate decides whether one monitor fires for the given position. The
// inside flag and distance are always computed so the caller can persist
// vehicle_inside even when nothing fires; a trigger additionally needs a
// boundary crossing that matches trigger_on, the active window, and the
// cooldown to have elapsed.
func Evaluate(m models.GeofenceMonitor, z models.GeofenceZone, pos models.PositionSample, now time.Time, cooldown time.Duration) Decision {
	d := Decision{}
	d.DistanceKM = geo.HaversineKM(pos.Latitude, pos.Longitude, z.CenterLat, z.CenterLon)
	d.Inside = d.DistanceKM <= z.RadiusKM

	if d.Inside == m.VehicleInside {
		return d
	}
	if d.Inside {
		d.Direction = DirectionEnter
	} else {
		d.Direction = DirectionExit
	}

	if m.TriggerOn != TriggerOnBoth && m.TriggerOn != d.Direction {
		return d
	}
	if !inActiveWindow(m, now) {
		return d
	}
	if m.LastTriggeredAt != nil && now.Sub(*m.LastTriggeredAt) < cooldown {
		return d
	}
	d.Triggered = true
	return d
}

// inActiveWindow gates triggers on the monitor's schedule, evaluated in
// the fleet's display timezone. A from time later than the until time
// means the window wraps past midnight.
func inActiveWindow(m models.GeofenceMonitor, now time.Time) bool {
	local := now.In(timex.DisplayZone)

	if len(m.ActiveDays) > 0 {
		day := int(local.Weekday())
		found := false
		for _, d := range m.ActiveDays {
			if d == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	from, okFrom := parseClock(m.ActiveFrom)
	until, okUntil := parseClock(m.ActiveUntil)
	if !okFrom || !okUntil || from == until {
		return true
	}
	cur := local.Hour()*60 + local.Minute()
	if from < until {
		return cur >= from && cur < until
	}
	return cur >= from || cur < until
}

func parseClock(s string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	min, err := strconv.Atoi(parts[1])
	if err != nil || min < 0 || min > 59 {
		return 0, false
	}
	return h*60 + min, true
}
