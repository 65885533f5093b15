package guildsync

import (
	"encoding/json"
	"fmt"

	"bitbucket.org/mmdatafocus/guildsync_backend/models"
	"github.com/go-playground/validator/v10"
)

type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

var validate = validator.New()

// ChangeEvent is one row-level change notification. Delivery is
// at-least-once with no cross-entity ordering; Before may be absent or carry
// only the primary key.
type ChangeEvent struct {
	EntityType    models.SyncEntityType `json:"entity_type" validate:"required,oneof=category zone"`
	Operation     Operation             `json:"operation" validate:"required,oneof=insert update delete"`
	Before        json.RawMessage       `json:"before,omitempty"`
	After         json.RawMessage       `json:"after,omitempty"`
	GuildId       string                `json:"guild_id,omitempty"`
	CorrelationId string                `json:"correlation_id,omitempty"`
}

func (ev ChangeEvent) Validate() error {
	return validate.Struct(ev)
}

// CategoryRow is a partial row snapshot as carried in Before/After. Pointer
// fields distinguish "absent from the payload" from zero values.
type CategoryRow struct {
	Id             int             `json:"id"`
	GuildId        *string         `json:"guild_id"`
	Name           *string         `json:"name"`
	IsVisible      *bool           `json:"is_visible"`
	AllowedRoleIds []string        `json:"allowed_role_ids"`
	RemoteId       *string         `json:"remote_id"`
	RemoteDeleted  *bool           `json:"remote_deleted"`
	Settings       json.RawMessage `json:"settings"`
}

// HasDiffFields reports whether the snapshot carries everything needed to
// diff against desired state. A key-only snapshot is "unknown prior state".
func (r CategoryRow) HasDiffFields() bool {
	return r.Name != nil && r.IsVisible != nil && r.AllowedRoleIds != nil
}

func decodeCategoryRow(raw json.RawMessage) (CategoryRow, bool) {
	if len(raw) == 0 {
		return CategoryRow{}, false
	}
	var row CategoryRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return CategoryRow{}, false
	}
	if row.Id == 0 {
		return CategoryRow{}, false
	}
	return row, true
}

type ZoneRow struct {
	Id          int     `json:"id"`
	CategoryId  *int    `json:"category_id"`
	ZoneKey     *string `json:"zone_key"`
	DisplayName *string `json:"display_name"`
	RemoteId    *string `json:"remote_id"`
}

func (r ZoneRow) HasDiffFields() bool {
	return r.DisplayName != nil && r.CategoryId != nil
}

func decodeZoneRow(raw json.RawMessage) (ZoneRow, bool) {
	if len(raw) == 0 {
		return ZoneRow{}, false
	}
	var row ZoneRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return ZoneRow{}, false
	}
	if row.Id == 0 {
		return ZoneRow{}, false
	}
	return row, true
}

// EntityKey is the mapping-cache key for a local entity.
func EntityKey(entityType models.SyncEntityType, id int) string {
	return fmt.Sprintf("%s:%d", entityType, id)
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncRecordResponse struct {
	EntityId      string   `json:"entityId"`
	EntityType    string   `json:"entityType"`
	SyncStatus    string   `json:"syncStatus"`
	RemoteId      string   `json:"remoteId,omitempty"`
	Error         string   `json:"error,omitempty"`
	Discrepancies []string `json:"discrepancies,omitempty"`
	RetryAt       *string  `json:"retryAt,omitempty"`
	LastSyncedAt  *string  `json:"lastSyncedAt,omitempty"`
}

type StatusResponse struct {
	GuildId          string           `json:"guildId"`
	FallbackParentId string           `json:"fallbackParentId,omitempty"`
	Counts           map[string]int64 `json:"counts"`
	MappingCacheSize int              `json:"mappingCacheSize"`
}

type ListSyncRecordsQuery struct {
	EntityType string `form:"entityType" validate:"omitempty,oneof=category zone role"`
	Status     string `form:"status" validate:"omitempty,oneof=pending synced error deleted pending_delete"`
	Limit      int    `form:"limit" validate:"omitempty,min=1,max=200"`
	Offset     int    `form:"offset" validate:"omitempty,min=0"`
}
