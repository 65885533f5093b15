package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/guildsync_backend/config"
	"bitbucket.org/mmdatafocus/guildsync_backend/utils"
	"gorm.io/gorm"
)

// Zone is one voice zone inside a category. Its remote voice resource, when
// present, must live under the remote resource of its owning category;
// cross-category drift is reported, not auto-healed.
type Zone struct {
	ID              int       `gorm:"primary_key" json:"id"`
	CategoryId      int       `gorm:"index;not null" json:"category_id"`
	ZoneKey         string    `gorm:"size:50;index;not null" json:"zone_key"`
	DisplayName     string    `gorm:"size:100;not null" json:"display_name"`
	MinutesRequired int       `json:"minutes_required"`
	PointsGranted   int       `json:"points_granted"`
	RemoteId        *string   `gorm:"size:64;index" json:"remote_id"`
	JoinCount       int       `gorm:"default:0" json:"join_count"`
	LastJoinedAt    *time.Time `json:"last_joined_at"`
	SettingsJSON    []byte    `gorm:"type:json" json:"settings"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ZoneSettings mirrors the legacy blob for zones. Same rule as categories:
// one decode function, blob loses to typed columns.
type ZoneSettings struct {
	DisplayName     string `json:"display_name"`
	MinutesRequired *int   `json:"minutes_required"`
	PointsGranted   *int   `json:"points_granted"`
}

func DecodeZoneSettings(raw []byte) ZoneSettings {
	if len(raw) == 0 {
		return ZoneSettings{}
	}
	var s ZoneSettings
	if err := utils.UnmarshalFromJSON(raw, &s); err != nil {
		return ZoneSettings{}
	}
	return s
}

func (z *Zone) EffectiveDisplayName() string {
	if z.DisplayName != "" {
		return z.DisplayName
	}
	return DecodeZoneSettings(z.SettingsJSON).DisplayName
}

func GetZoneById(ctx context.Context, id int) (*Zone, error) {
	db := config.GetDB().WithContext(ctx)
	var zone Zone
	err := db.Where("id = ?", id).Take(&zone).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &zone, nil
}

func GetZoneByRemoteId(ctx context.Context, remoteId string) (*Zone, error) {
	db := config.GetDB().WithContext(ctx)
	var zone Zone
	err := db.Where("remote_id = ?", remoteId).Take(&zone).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &zone, nil
}

func SetZoneRemoteId(ctx context.Context, id int, remoteId string) error {
	db := config.GetDB().WithContext(ctx)
	return db.Model(&Zone{}).
		Where("id = ?", id).
		Update("remote_id", remoteId).Error
}

// ListZonesWithRemoteId feeds the mapping-cache warmup scan.
func ListZonesWithRemoteId(ctx context.Context) ([]Zone, error) {
	db := config.GetDB().WithContext(ctx)
	var zones []Zone
	err := db.Where("remote_id IS NOT NULL").Find(&zones).Error
	return zones, err
}
