// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 角色可见性枚举。
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
	VisibilityLink    = "link"
)

// Character 对应于数据库中的 'characters' 表。
// 角色由作者创建，携带用于构建系统指令的提示词模板。
type Character struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	AuthorID    uint   `gorm:"index;not null" json:"authorId"`
	Name        string `gorm:"type:varchar(100);not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	// SystemTemplate 与 DetailSetting 是注入系统指令的两个提示词字段。
	SystemTemplate string `gorm:"type:text" json:"systemTemplate"`
	DetailSetting  string `gorm:"type:text" json:"detailSetting"`
	// FirstSituation 与 FirstMessage 描述开场情景与角色的第一条台词。
	FirstSituation string   `gorm:"type:text" json:"firstSituation"`
	FirstMessage   string   `gorm:"type:text" json:"firstMessage"`
	Visibility     string   `gorm:"type:varchar(20);not null;default:'public'" json:"visibility"`
	SafetyFilter   bool     `gorm:"not null;default:true" json:"safetyFilter"`
	Category       string   `gorm:"type:varchar(50)" json:"category"`
	Hashtags       []string `gorm:"serializer:json;type:json" json:"hashtags"`
	// Images 由角色独占持有，随角色一并创建，删除时级联清除。
	Images    []CharacterImage `gorm:"foreignKey:CharacterID;constraint:OnDelete:CASCADE" json:"images"`
	CreatedAt time.Time        `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time        `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Character) TableName() string {
	return "characters"
}

// CharacterImage 对应于数据库中的 'character_images' 表。
// 约束：同一角色至多一张图片的 IsMain 为 true（约定为第一张上传的图片）。
type CharacterImage struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	CharacterID  uint   `gorm:"index;not null" json:"characterId"`
	ImageURL     string `gorm:"type:varchar(512);not null" json:"imageUrl"`
	Keyword      string `gorm:"type:varchar(100)" json:"keyword"`
	IsMain       bool   `gorm:"not null;default:false" json:"isMain"`
	DisplayOrder int    `gorm:"not null;default:0" json:"displayOrder"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (CharacterImage) TableName() string {
	return "character_images"
}

// CharacterDocument 是写入 Elasticsearch 角色索引的文档结构。
type CharacterDocument struct {
	CharacterID  uint     `json:"character_id"`
	AuthorID     uint     `json:"author_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Category     string   `json:"category"`
	Hashtags     []string `json:"hashtags"`
	Visibility   string   `json:"visibility"`
	SafetyFilter bool     `json:"safety_filter"`
}
