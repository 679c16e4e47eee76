package geofence

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"fleet-telemetry-pipeline/pipeline/internal/models"
	"fleet-telemetry-pipeline/pipeline/internal/provider"
	"fleet-telemetry-pipeline/pipeline/internal/repos"
	"fleet-telemetry-pipeline/shared/logx"
)

type MirrorSummary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// FenceMirror pushes local geofence zones to the provider's fence
// records so device-side fencing matches what the pipeline monitors.
// Local zones are the source of truth; provider fences without a backing
// zone are removed.
type FenceMirror struct {
	session   *provider.Session
	geofences *repos.GeofencesRepo
	log       logx.Logger
}

func NewFenceMirror(session *provider.Session, geofences *repos.GeofencesRepo, log logx.Logger) *FenceMirror {
	return &FenceMirror{session: session, geofences: geofences, log: log}
}

func (f *FenceMirror) Sync(ctx context.Context) (MirrorSummary, error) {
	zones, err := f.geofences.ListZones(ctx)
	if err != nil {
		return MirrorSummary{}, err
	}
	var remote []provider.FenceRecord
	if err := f.session.Call(ctx, provider.ActionFenceList, nil, &remote); err != nil {
		return MirrorSummary{}, err
	}
	remoteByID := make(map[string]provider.FenceRecord, len(remote))
	for _, r := range remote {
		remoteByID[r.FenceID] = r
	}

	var summary MirrorSummary
	claimed := make(map[string]bool, len(zones))
	for _, z := range zones {
		if z.ProviderFenceID != "" {
			claimed[z.ProviderFenceID] = true
		}
		if err := f.syncZone(ctx, z, remoteByID, claimed, &summary); err != nil {
			summary.Failed++
			f.log.Warn(ctx, "fence_mirror_failed", "zone could not be mirrored",
				slog.String("zone", z.Name),
				slog.String("error", err.Error()))
		}
	}
	for id := range remoteByID {
		if claimed[id] {
			continue
		}
		if err := f.session.Call(ctx, provider.ActionFenceDelete, map[string]string{"fenceid": id}, nil); err != nil {
			summary.Failed++
			f.log.Warn(ctx, "fence_delete_failed", "orphan provider fence not removed",
				slog.String("fence_id", id),
				slog.String("error", err.Error()))
			continue
		}
		summary.Deleted++
	}
	return summary, nil
}

func (f *FenceMirror) syncZone(ctx context.Context, z models.GeofenceZone, remote map[string]provider.FenceRecord, claimed map[string]bool, summary *MirrorSummary) error {
	params := fenceParams(z)

	if z.ProviderFenceID == "" {
		var created provider.FenceRecord
		if err := f.session.Call(ctx, provider.ActionFenceCreate, params, &created); err != nil {
			return err
		}
		if created.FenceID == "" {
			return fmt.Errorf("fence create for zone %s returned no fence id", z.Name)
		}
		if err := f.geofences.SetZoneProviderRef(ctx, z.ZoneID, created.FenceID); err != nil {
			return err
		}
		claimed[created.FenceID] = true
		summary.Created++
		return nil
	}

	current, known := remote[z.ProviderFenceID]
	if known && fenceMatches(z, current) {
		return nil
	}
	params["fenceid"] = z.ProviderFenceID
	if err := f.session.Call(ctx, provider.ActionFenceUpdate, params, nil); err != nil {
		return err
	}
	summary.Updated++
	return nil
}

func fenceParams(z models.GeofenceZone) map[string]string {
	return map[string]string{
		"fencename": z.Name,
		"latitude":  strconv.FormatFloat(z.CenterLat, 'f', 6, 64),
		"longitude": strconv.FormatFloat(z.CenterLon, 'f', 6, 64),
		"radius":    strconv.Itoa(int(math.Round(z.RadiusKM * 1000))),
	}
}

func fenceMatches(z models.GeofenceZone, r provider.FenceRecord) bool {
	return r.Name == z.Name &&
		math.Abs(r.Latitude-z.CenterLat) < 1e-6 &&
		math.Abs(r.Longitude-z.CenterLon) < 1e-6 &&
		math.Abs(r.RadiusM-z.RadiusKM*1000) < 1
}
