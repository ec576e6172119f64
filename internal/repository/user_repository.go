// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"chara-chat-go/internal/model"

	"gorm.io/gorm"
)

// UserRepository 接口定义了用户数据的持久化操作。
type UserRepository interface {
	Create(user *model.User) error
	FindByID(userID uint) (*model.User, error)
	FindByEmail(email string) (*model.User, error)
	FindDuplicate(email, phone, nickname string) (*model.User, error)
	Update(user *model.User) error
	UpdateSafetyFilter(userID uint, enabled bool) error
	UpdateDefaultPersona(userID uint, personaID *uint) error
}

// userRepository 是 UserRepository 接口的 GORM 实现。
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建一个新的 UserRepository 实例。
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create 在数据库中创建一个新的用户记录。
func (r *userRepository) Create(user *model.User) error {
	return r.db.Create(user).Error
}

// FindByID 根据用户 ID 从数据库中查找一个用户。
func (r *userRepository) FindByID(userID uint) (*model.User, error) {
	var user model.User
	err := r.db.First(&user, userID).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmail 根据邮箱从数据库中查找一个用户。
func (r *userRepository) FindByEmail(email string) (*model.User, error) {
	var user model.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindDuplicate 查找邮箱、手机号或昵称与给定值任一重复的用户，用于注册查重。
// 手机号为空时不参与比较。
func (r *userRepository) FindDuplicate(email, phone, nickname string) (*model.User, error) {
	query := r.db.Where("email = ? OR nickname = ?", email, nickname)
	if phone != "" {
		query = r.db.Where("email = ? OR nickname = ? OR phone = ?", email, nickname, phone)
	}

	var user model.User
	if err := query.First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Update 更新数据库中一个已存在的用户记录。
func (r *userRepository) Update(user *model.User) error {
	return r.db.Save(user).Error
}

// UpdateSafetyFilter 更新用户的安全过滤开关。
func (r *userRepository) UpdateSafetyFilter(userID uint, enabled bool) error {
	return r.db.Model(&model.User{}).Where("id = ?", userID).
		Update("safety_filter", enabled).Error
}

// UpdateDefaultPersona 更新用户的默认人物设定指针，传入 nil 表示清空。
func (r *userRepository) UpdateDefaultPersona(userID uint, personaID *uint) error {
	return r.db.Model(&model.User{}).Where("id = ?", userID).
		Update("default_persona_id", personaID).Error
}
