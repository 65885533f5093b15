package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/guildsync_backend/config"
	"bitbucket.org/mmdatafocus/guildsync_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncRecord is the sync ledger: the latest reconciliation outcome per
// (entity id, entity type). It is advisory only; a missing or stale row
// never blocks a reconciliation attempt.
type SyncRecord struct {
	ID           uint           `gorm:"primary_key" json:"id"`
	EntityId     string         `gorm:"uniqueIndex:idx_sync_record_entity,priority:1;size:64;not null" json:"entity_id"`
	EntityType   SyncEntityType `gorm:"uniqueIndex:idx_sync_record_entity,priority:2;size:20;not null" json:"entity_type"`
	GuildId      string         `gorm:"index;size:64;not null" json:"guild_id"`
	SyncStatus   SyncStatus     `gorm:"index;size:20;not null" json:"sync_status"`
	DataJSON     []byte         `gorm:"type:json" json:"data"`
	LastSyncedAt *time.Time     `json:"last_synced_at"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncRecordData is the diagnostic payload stored alongside an outcome.
type SyncRecordData struct {
	RemoteId      string     `json:"remote_id,omitempty"`
	Discrepancies []string   `json:"discrepancies,omitempty"`
	Error         string     `json:"error,omitempty"`
	RetryAt       *time.Time `json:"retry_at,omitempty"`
	CorrelationId string     `json:"correlation_id,omitempty"`
}

func DecodeSyncRecordData(raw []byte) SyncRecordData {
	if len(raw) == 0 {
		return SyncRecordData{}
	}
	var d SyncRecordData
	if err := utils.UnmarshalFromJSON(raw, &d); err != nil {
		return SyncRecordData{}
	}
	return d
}

// RecordSyncOutcome upserts the latest outcome for an entity in a single
// statement, so concurrent first writes for the same entity cannot collide
// on the unique index. Immutable history is not kept; latest row wins.
func RecordSyncOutcome(ctx context.Context, db *gorm.DB, entityId string, entityType SyncEntityType, guildId string, status SyncStatus, data SyncRecordData) error {
	if db == nil {
		db = config.GetDB()
	}

	now := time.Now()
	rec := SyncRecord{
		EntityId:     entityId,
		EntityType:   entityType,
		GuildId:      guildId,
		SyncStatus:   status,
		DataJSON:     utils.MustMarshal(data),
		LastSyncedAt: &now,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_id"}, {Name: "entity_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"guild_id", "sync_status", "data_json", "last_synced_at", "updated_at"}),
	}).Create(&rec).Error
}

func LatestSyncRecord(ctx context.Context, db *gorm.DB, entityId string, entityType SyncEntityType) (*SyncRecord, error) {
	if db == nil {
		db = config.GetDB()
	}
	var rec SyncRecord
	err := db.WithContext(ctx).
		Where("entity_id = ? AND entity_type = ?", entityId, entityType).
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func ListSyncRecords(ctx context.Context, db *gorm.DB, guildId string, entityType SyncEntityType, status SyncStatus, limit int, offset int) ([]SyncRecord, error) {
	if db == nil {
		db = config.GetDB()
	}
	q := db.WithContext(ctx).Where("guild_id = ?", guildId)
	if entityType != "" {
		q = q.Where("entity_type = ?", entityType)
	}
	if status != "" {
		q = q.Where("sync_status = ?", status)
	}
	if limit <= 0 || limit > 200 {
		limit = config.SearchLimit
	}
	var recs []SyncRecord
	err := q.Order("updated_at DESC").Limit(limit).Offset(offset).Find(&recs).Error
	return recs, err
}

// CountSyncRecordsByStatus powers the ops status endpoint.
func CountSyncRecordsByStatus(ctx context.Context, db *gorm.DB, guildId string) (map[SyncStatus]int64, error) {
	if db == nil {
		db = config.GetDB()
	}
	type row struct {
		SyncStatus SyncStatus
		Total      int64
	}
	var rows []row
	err := db.WithContext(ctx).
		Model(&SyncRecord{}).
		Select("sync_status, COUNT(*) AS total").
		Where("guild_id = ?", guildId).
		Group("sync_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[SyncStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.SyncStatus] = r.Total
	}
	return counts, nil
}

// ListDueRetrySyncRecords returns pending rows whose recorded retry window
// has elapsed. Used by the scheduler pass for rate-limited deferrals.
func ListDueRetrySyncRecords(ctx context.Context, db *gorm.DB, guildId string, now time.Time, limit int) ([]SyncRecord, error) {
	if db == nil {
		db = config.GetDB()
	}
	if limit <= 0 {
		limit = config.SearchLimit
	}
	var recs []SyncRecord
	err := db.WithContext(ctx).
		Where("guild_id = ? AND sync_status = ?", guildId, SyncStatusPending).
		Order("updated_at ASC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	due := recs[:0]
	for _, rec := range recs {
		data := DecodeSyncRecordData(rec.DataJSON)
		if data.RetryAt != nil && !data.RetryAt.After(now) {
			due = append(due, rec)
		}
	}
	return due, nil
}
