// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"chara-chat-go/internal/model"

	"gorm.io/gorm"
)

// PersonaRepository 接口定义了人物设定数据的持久化操作。
type PersonaRepository interface {
	Create(persona *model.Persona) error
	FindByID(personaID uint) (*model.Persona, error)
	FindByIDAndAuthor(personaID, authorID uint) (*model.Persona, error)
	FindAllByAuthor(authorID uint) ([]model.Persona, error)
	Update(persona *model.Persona) error
	// Delete 删除人物设定。若它恰为拥有者的默认设定，
	// 在同一事务内将 users.default_persona_id 置空，保证指针不悬空。
	Delete(personaID, authorID uint) error
}

// personaRepository 是 PersonaRepository 接口的 GORM 实现。
type personaRepository struct {
	db *gorm.DB
}

// NewPersonaRepository 创建一个新的 PersonaRepository 实例。
func NewPersonaRepository(db *gorm.DB) PersonaRepository {
	return &personaRepository{db: db}
}

// Create 在数据库中创建一个新的人物设定记录。
func (r *personaRepository) Create(persona *model.Persona) error {
	return r.db.Create(persona).Error
}

// FindByID 根据 ID 查找一个人物设定。
func (r *personaRepository) FindByID(personaID uint) (*model.Persona, error) {
	var persona model.Persona
	err := r.db.First(&persona, personaID).Error
	if err != nil {
		return nil, err
	}
	return &persona, nil
}

// FindByIDAndAuthor 根据 ID 和拥有者查找一个人物设定，用于所有权校验。
func (r *personaRepository) FindByIDAndAuthor(personaID, authorID uint) (*model.Persona, error) {
	var persona model.Persona
	err := r.db.Where("id = ? AND author_id = ?", personaID, authorID).First(&persona).Error
	if err != nil {
		return nil, err
	}
	return &persona, nil
}

// FindAllByAuthor 查找某个用户拥有的全部人物设定。
func (r *personaRepository) FindAllByAuthor(authorID uint) ([]model.Persona, error) {
	var personas []model.Persona
	err := r.db.Where("author_id = ?", authorID).Order("id desc").Find(&personas).Error
	return personas, err
}

// Update 更新数据库中一个已存在的人物设定记录。
func (r *personaRepository) Update(persona *model.Persona) error {
	return r.db.Save(persona).Error
}

// Delete 在一个事务内删除人物设定并在必要时清空拥有者的默认设定指针。
func (r *personaRepository) Delete(personaID, authorID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var user model.User
		if err := tx.First(&user, authorID).Error; err != nil {
			return err
		}
		if user.DefaultPersonaID != nil && *user.DefaultPersonaID == personaID {
			if err := tx.Model(&model.User{}).Where("id = ?", authorID).
				Update("default_persona_id", nil).Error; err != nil {
				return err
			}
		}
		return tx.Where("id = ? AND author_id = ?", personaID, authorID).
			Delete(&model.Persona{}).Error
	})
}
