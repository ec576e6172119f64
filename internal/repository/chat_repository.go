// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"chara-chat-go/internal/apperr"
	"chara-chat-go/internal/model"

	"gorm.io/gorm"
)

// ChatRepository 接口定义了会话与消息的持久化操作。
type ChatRepository interface {
	Create(chat *model.Chat) error
	// FindByIDAndUser 按所有权过滤查找会话，防止读取他人会话。
	FindByIDAndUser(chatID, userID uint) (*model.Chat, error)
	// FindLatestByUserAndCharacter 查找 (用户, 角色) 最近创建的会话。
	FindLatestByUserAndCharacter(userID, characterID uint) (*model.Chat, error)
	FindAllByUser(userID uint) ([]model.Chat, error)
	// GetMessages 按创建时间升序返回会话的全部消息。
	GetMessages(chatID uint) ([]model.ChatMessage, error)
	// LatestMessageID 返回会话当前最新一条消息的 ID，无消息时为 0。
	LatestMessageID(chatID uint) (uint, error)
	// AppendTurn 在单个事务内追加一轮对话（用户消息在前、模型回复在后）。
	// 提交前复核会话的最新消息 ID：若已越过 observedLastID，返回 CONFLICT
	// 错误并放弃整轮写入，两行要么都写入要么都不写入。
	AppendTurn(chatID uint, userText, modelText string, observedLastID uint) error
}

// chatRepository 是 ChatRepository 接口的 GORM 实现。
type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

// Create 在数据库中创建一个新的会话记录。
func (r *chatRepository) Create(chat *model.Chat) error {
	return r.db.Create(chat).Error
}

// FindByIDAndUser 按会话 ID 与所有者查找会话。
func (r *chatRepository) FindByIDAndUser(chatID, userID uint) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.Where("id = ? AND user_id = ?", chatID, userID).First(&chat).Error
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// FindLatestByUserAndCharacter 返回该组合下最近创建的会话。
func (r *chatRepository) FindLatestByUserAndCharacter(userID, characterID uint) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.
		Where("user_id = ? AND character_id = ?", userID, characterID).
		Order("id desc").
		First(&chat).Error
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// FindAllByUser 返回用户的全部会话，最近更新的在前。
func (r *chatRepository) FindAllByUser(userID uint) ([]model.Chat, error) {
	var chats []model.Chat
	err := r.db.Where("user_id = ?", userID).Order("updated_at desc").Find(&chats).Error
	return chats, err
}

// GetMessages 按 (created_at, id) 升序返回会话历史。
func (r *chatRepository) GetMessages(chatID uint) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage
	err := r.db.
		Where("chat_id = ?", chatID).
		Order("created_at asc, id asc").
		Find(&messages).Error
	return messages, err
}

// LatestMessageID 返回会话最新消息的 ID，会话尚无消息时返回 0。
func (r *chatRepository) LatestMessageID(chatID uint) (uint, error) {
	var latest uint
	err := r.db.Model(&model.ChatMessage{}).
		Where("chat_id = ?", chatID).
		Select("COALESCE(MAX(id), 0)").
		Scan(&latest).Error
	return latest, err
}

// AppendTurn 原子地写入一轮对话的两条消息，并刷新会话时间戳。
func (r *chatRepository) AppendTurn(chatID uint, userText, modelText string, observedLastID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		// 乐观并发检查：提交时会话必须仍停留在调用方读取历史时的位置
		var latest uint
		if err := tx.Model(&model.ChatMessage{}).
			Where("chat_id = ?", chatID).
			Select("COALESCE(MAX(id), 0)").
			Scan(&latest).Error; err != nil {
			return err
		}
		if latest != observedLastID {
			return apperr.New(apperr.CodeConflict, "会话已产生新消息，本轮提交被拒绝")
		}

		// 先写用户消息再写模型回复，保证历史重建时的先后顺序
		userMsg := model.ChatMessage{ChatID: chatID, Role: model.RoleUser, Content: userText}
		if err := tx.Create(&userMsg).Error; err != nil {
			return err
		}
		modelMsg := model.ChatMessage{ChatID: chatID, Role: model.RoleModel, Content: modelText}
		if err := tx.Create(&modelMsg).Error; err != nil {
			return err
		}

		return tx.Model(&model.Chat{}).Where("id = ?", chatID).
			Update("updated_at", tx.NowFunc()).Error
	})
}
