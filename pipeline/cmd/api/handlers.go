package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"fleet-telemetry-pipeline/pipeline/internal/geofence"
	"fleet-telemetry-pipeline/pipeline/internal/provider"
	"fleet-telemetry-pipeline/pipeline/internal/repos"
	"fleet-telemetry-pipeline/pipeline/internal/syncer"
	"fleet-telemetry-pipeline/shared/httpx"
	"fleet-telemetry-pipeline/shared/timex"
)

type handlers struct {
	sync      *syncer.Syncer
	checker   *geofence.Checker
	mirror    *geofence.FenceMirror
	commander *provider.Commander
	devices   *repos.DevicesRepo
	positions *repos.PositionsRepo
}

type syncRequest struct {
	DeviceID string `json:"device_id"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Days     int    `json:"days,omitempty"`
}

type commandRequest struct {
	Command      string `json:"command"`
	OverspeedKPH int    `json:"overspeed_kph,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid json body", nil)
		return false
	}
	return true
}

// parseWhen accepts RFC3339 or a bare date. Zero value means "use the
// pass default".
func parseWhen(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, errors.New("unrecognized time format")
}

func (h *handlers) writeSummary(w http.ResponseWriter, r *http.Request, summary syncer.Summary, err error) {
	if err != nil {
		if errors.Is(err, syncer.ErrDeviceRequired) {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "device_id is required", nil)
			return
		}
		if errors.Is(err, provider.ErrSessionUnavailable) {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "provider account not configured", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error(), map[string]any{"summary": summary})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, summary)
}

func (h *handlers) syncTrips(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	from, err := parseWhen(req.From)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid from time", nil)
		return
	}
	to, err := parseWhen(req.To)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid to time", nil)
		return
	}
	summary, err := h.sync.SyncTrips(r.Context(), req.DeviceID, from, to)
	h.writeSummary(w, r, summary, err)
}

func (h *handlers) syncAlarms(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	summary, err := h.sync.SyncAlarms(r.Context(), req.DeviceID)
	h.writeSummary(w, r, summary, err)
}

func (h *handlers) syncMileage(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	summary, err := h.sync.SyncMileage(r.Context(), req.DeviceID, req.Days)
	h.writeSummary(w, r, summary, err)
}

func (h *handlers) geofenceCheck(w http.ResponseWriter, r *http.Request) {
	summary, err := h.checker.Run(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, summary)
}

func (h *handlers) geofenceMirror(w http.ResponseWriter, r *http.Request) {
	summary, err := h.mirror.Sync(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error(), nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, summary)
}

func (h *handlers) sendCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("deviceID")
	var req commandRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var cmd provider.Command
	switch req.Command {
	case "engine_stop":
		cmd = provider.EngineStop()
	case "engine_resume":
		cmd = provider.EngineResume()
	case "locate":
		cmd = provider.Locate()
	case "set_overspeed":
		if req.OverspeedKPH <= 0 {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "overspeed_kph must be > 0", nil)
			return
		}
		cmd = provider.SetOverspeedThreshold(req.OverspeedKPH)
	default:
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "unknown command", nil)
		return
	}

	device, err := h.devices.Get(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "device not found", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "device lookup failed", nil)
		return
	}

	result, err := h.commander.Dispatch(r.Context(), device.DeviceID, device.RemoteCapable, cmd)
	if err != nil {
		if errors.Is(err, provider.ErrRemoteUnsupported) {
			httpx.WriteError(w, r, http.StatusConflict, "FAILED_PRECONDITION", "device does not support remote commands", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error(), nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"command_id": result.CommandID,
		"delivery":   result.Delivery,
		"response":   result.Response,
	})
}

func (h *handlers) latestPosition(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("deviceID")
	sample, err := h.positions.GetLatest(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "no position for device", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "position lookup failed", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"device_id":     sample.DeviceID,
		"latitude":      sample.Latitude,
		"longitude":     sample.Longitude,
		"speed_kph":     sample.SpeedKPH,
		"heading":       sample.Heading,
		"ignition":      sample.Ignition,
		"battery_level": sample.BatteryLevel,
		"recorded_at":   sample.RecordedAt,
		"local_time":    timex.ToDisplay(sample.RecordedAt).Format("2006-01-02 15:04:05"),
	})
}
