// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 消息角色枚举。历史重建时按创建时间升序还原，角色值原样发送给模型侧。
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Chat 对应于数据库中的 'chats' 表。
// 它是 (用户, 角色) 之间一段会话的作用域，仅在首次接触时惰性创建。
type Chat struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint      `gorm:"index:idx_chats_user_character;not null" json:"userId"`
	CharacterID uint      `gorm:"index:idx_chats_user_character;not null" json:"characterId"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Chat) TableName() string {
	return "chats"
}

// ChatMessage 对应于数据库中的 'chat_messages' 表。
// 消息一经创建不可变更，按 (created_at, id) 升序构成会话历史。
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID    uint      `gorm:"index;not null" json:"chatId"`
	Role      string    `gorm:"type:varchar(10);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ChatMessage) TableName() string {
	return "chat_messages"
}
