package guildsync

import (
	"context"
	"strconv"

	"bitbucket.org/mmdatafocus/guildsync_backend/models"
)

// recoverRemoteId resolves the remote counterpart of a deleted entity.
// The relational row is usually gone by the time the delete event arrives,
// so recovery walks the surviving sources in order of freshness: the event
// payload itself, the mapping cache, the sync ledger, and finally the row
// in case the deletion has not landed yet. An empty result means the
// deletion is local-only.
func (e *Engine) recoverRemoteId(ctx context.Context, entityKey string, entityId string, entityType models.SyncEntityType, rowRemoteId string) (string, error) {
	if rowRemoteId != "" {
		return rowRemoteId, nil
	}

	if e.Cache != nil {
		if childId, ok := e.Cache.ChildFor(entityKey); ok {
			return childId, nil
		}
	}

	rec, err := models.LatestSyncRecord(ctx, e.DB, entityId, entityType)
	if err != nil {
		return "", err
	}
	if rec != nil {
		if data := models.DecodeSyncRecordData(rec.DataJSON); data.RemoteId != "" {
			return data.RemoteId, nil
		}
	}

	id, err := strconv.Atoi(entityId)
	if err != nil {
		return "", nil
	}
	switch entityType {
	case models.SyncEntityCategory:
		cat, err := models.GetCategoryById(ctx, id)
		if err != nil {
			return "", err
		}
		if cat != nil && cat.RemoteId != nil {
			return *cat.RemoteId, nil
		}
	case models.SyncEntityZone:
		zone, err := models.GetZoneById(ctx, id)
		if err != nil {
			return "", err
		}
		if zone != nil && zone.RemoteId != nil {
			return *zone.RemoteId, nil
		}
	}
	return "", nil
}
