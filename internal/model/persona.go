// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// Persona 对应于数据库中的 'personas' 表。
// 它是用户面向角色展示的可复用人物设定，归属于唯一的拥有者。
type Persona struct {
	ID       uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	AuthorID uint   `gorm:"index;not null" json:"authorId"`
	Nickname string `gorm:"type:varchar(100);not null" json:"nickname"`
	// Age 与 Gender 均为可选项，使用指针以接受 NULL 值。
	Age         *int      `gorm:"default:null" json:"age"`
	Gender      *string   `gorm:"type:varchar(20);default:null" json:"gender"`
	Description string    `gorm:"type:text;not null" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Persona) TableName() string {
	return "personas"
}
