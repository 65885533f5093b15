package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/guildsync_backend/config"
	"bitbucket.org/mmdatafocus/guildsync_backend/utils"
	"gorm.io/gorm"
)

// Category is the relational source of truth for one guild category and its
// desired remote state. RemoteId stays nil until the first successful remote
// create; after that it is the category's external identity and must not
// change except through an explicit recreate.
type Category struct {
	ID                 int          `gorm:"primary_key" json:"id"`
	GuildId            string       `gorm:"size:64;index;not null" json:"guild_id"`
	Name               string       `gorm:"size:100;not null" json:"name"`
	CategoryKind       CategoryKind `gorm:"size:20" json:"category_kind"`
	IsVisible          *bool        `json:"is_visible"`
	IsTracked          *bool        `json:"is_tracked"`
	SendSetup          *bool        `json:"send_setup"`
	AllowedRoleIdsJSON []byte       `gorm:"type:json" json:"allowed_role_ids"`
	RemoteId           *string      `gorm:"size:64;index" json:"remote_id"`
	RemoteDeleted      bool         `gorm:"default:false" json:"remote_deleted"`
	SettingsJSON       []byte       `gorm:"type:json" json:"settings"`
	CreatedAt          time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// CategorySettings is the typed view of the legacy settings blob. Older rows
// carry flags only inside the blob; newer rows have the typed columns. The
// blob is read in exactly one place (DecodeCategorySettings) and treated as a
// fallback, never as an override of a populated typed column.
type CategorySettings struct {
	Visible        *bool    `json:"visible"`
	Tracked        *bool    `json:"tracked"`
	SendSetup      *bool    `json:"send_setup"`
	AllowedRoleIds []string `json:"allowed_role_ids"`
}

func DecodeCategorySettings(raw []byte) CategorySettings {
	if len(raw) == 0 {
		return CategorySettings{}
	}
	var s CategorySettings
	if err := utils.UnmarshalFromJSON(raw, &s); err != nil {
		return CategorySettings{}
	}
	return s
}

// EffectiveVisible prefers the typed column and falls back to the settings
// blob. A category with neither is visible.
func (c *Category) EffectiveVisible() bool {
	if c.IsVisible != nil {
		return *c.IsVisible
	}
	if s := DecodeCategorySettings(c.SettingsJSON); s.Visible != nil {
		return *s.Visible
	}
	return true
}

func (c *Category) EffectiveAllowedRoleIds() []string {
	if len(c.AllowedRoleIdsJSON) > 0 {
		var ids []string
		if err := json.Unmarshal(c.AllowedRoleIdsJSON, &ids); err == nil {
			return ids
		}
	}
	return DecodeCategorySettings(c.SettingsJSON).AllowedRoleIds
}

func GetCategoryById(ctx context.Context, id int) (*Category, error) {
	db := config.GetDB().WithContext(ctx)
	var cat Category
	err := db.Where("id = ?", id).Take(&cat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cat, nil
}

func GetCategoryByRemoteId(ctx context.Context, remoteId string) (*Category, error) {
	db := config.GetDB().WithContext(ctx)
	var cat Category
	err := db.Where("remote_id = ?", remoteId).Take(&cat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cat, nil
}

// SetCategoryRemoteId persists the remote identity after the first
// successful remote create.
func SetCategoryRemoteId(ctx context.Context, id int, remoteId string) error {
	db := config.GetDB().WithContext(ctx)
	return db.Model(&Category{}).
		Where("id = ?", id).
		Update("remote_id", remoteId).Error
}

// ListCategoriesWithRemoteId feeds the mapping-cache warmup scan.
func ListCategoriesWithRemoteId(ctx context.Context, guildId string) ([]Category, error) {
	db := config.GetDB().WithContext(ctx)
	var cats []Category
	err := db.Where("guild_id = ? AND remote_id IS NOT NULL", guildId).Find(&cats).Error
	return cats, err
}
