package models

type SyncEntityType string

const (
	SyncEntityCategory SyncEntityType = "category"
	SyncEntityZone     SyncEntityType = "zone"
	SyncEntityRole     SyncEntityType = "role"
)

func (t SyncEntityType) Valid() bool {
	switch t {
	case SyncEntityCategory, SyncEntityZone, SyncEntityRole:
		return true
	}
	return false
}

type SyncStatus string

const (
	SyncStatusPending       SyncStatus = "pending"
	SyncStatusSynced        SyncStatus = "synced"
	SyncStatusError         SyncStatus = "error"
	SyncStatusDeleted       SyncStatus = "deleted"
	SyncStatusPendingDelete SyncStatus = "pending_delete"
)

type CategoryKind string

const (
	CategoryKindStandard CategoryKind = "standard"
	CategoryKindTracked  CategoryKind = "tracked"
	CategoryKindPrivate  CategoryKind = "private"
)
