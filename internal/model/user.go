// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// User 对应于数据库中的 'users' 表。
type User struct {
	ID       uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Email    string `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Password string `gorm:"type:varchar(255);not null" json:"-"`
	Name     string `gorm:"type:varchar(100);not null" json:"name"`
	// Phone 可以为空，查重时空值不参与比较。
	Phone    string `gorm:"type:varchar(30);index" json:"phone"`
	Nickname string `gorm:"type:varchar(100);uniqueIndex;not null" json:"nickname"`
	ImageURL string `gorm:"type:varchar(512)" json:"imageUrl"`
	Bio      string `gorm:"type:text" json:"bio"`
	Role     string `gorm:"type:varchar(20);not null;default:'USER'" json:"role"`
	// SafetyFilter 控制该用户是否只看到开启安全过滤的角色。
	SafetyFilter bool `gorm:"not null;default:true" json:"safetyFilter"`
	// DefaultPersonaID 指向用户当前启用的人物设定。
	// 约束：若非空，必须指向该用户自己拥有的 Persona；删除该 Persona 时必须同步清空。
	DefaultPersonaID *uint     `gorm:"default:null" json:"defaultPersonaId"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}
