// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"chara-chat-go/internal/model"

	"gorm.io/gorm"
)

// CharacterRepository 接口定义了角色数据的持久化操作。
type CharacterRepository interface {
	// CreateWithImages 在一个事务内创建角色及其全部图片记录。
	CreateWithImages(character *model.Character, images []model.CharacterImage) error
	FindByID(characterID uint) (*model.Character, error)
	FindAllByAuthor(authorID uint) ([]model.Character, error)
	// Update 更新角色文本字段；images 非空时在同一事务内追加图片记录。
	Update(character *model.Character, newImages []model.CharacterImage) error
	// Delete 删除角色，图片记录在同一事务内级联清除。
	Delete(characterID, authorID uint) error
}

// characterRepository 是 CharacterRepository 接口的 GORM 实现。
type characterRepository struct {
	db *gorm.DB
}

// NewCharacterRepository 创建一个新的 CharacterRepository 实例。
func NewCharacterRepository(db *gorm.DB) CharacterRepository {
	return &characterRepository{db: db}
}

// CreateWithImages 以单个事务创建角色与图片：要么全部写入，要么全部失败。
func (r *characterRepository) CreateWithImages(character *model.Character, images []model.CharacterImage) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(character).Error; err != nil {
			return err
		}
		for i := range images {
			images[i].CharacterID = character.ID
		}
		if len(images) > 0 {
			if err := tx.Create(&images).Error; err != nil {
				return err
			}
		}
		character.Images = images
		return nil
	})
}

// FindByID 根据 ID 查找角色，图片按展示顺序预加载。
func (r *characterRepository) FindByID(characterID uint) (*model.Character, error) {
	var character model.Character
	err := r.db.
		Preload("Images", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order asc")
		}).
		First(&character, characterID).Error
	if err != nil {
		return nil, err
	}
	return &character, nil
}

// FindAllByAuthor 查找某个作者创建的全部角色，带首图。
func (r *characterRepository) FindAllByAuthor(authorID uint) ([]model.Character, error) {
	var characters []model.Character
	err := r.db.
		Preload("Images", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order asc")
		}).
		Where("author_id = ?", authorID).
		Order("id desc").
		Find(&characters).Error
	return characters, err
}

// Update 更新角色文本字段，并在同一事务内追加新图片记录。
func (r *characterRepository) Update(character *model.Character, newImages []model.CharacterImage) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Images").Save(character).Error; err != nil {
			return err
		}
		if len(newImages) > 0 {
			for i := range newImages {
				newImages[i].CharacterID = character.ID
			}
			if err := tx.Create(&newImages).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete 在一个事务内删除角色及其全部图片记录。
func (r *characterRepository) Delete(characterID, authorID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("character_id = ?", characterID).
			Delete(&model.CharacterImage{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ? AND author_id = ?", characterID, authorID).
			Delete(&model.Character{}).Error
	})
}
