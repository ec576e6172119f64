// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"
	"strings"

	"chara-chat-go/internal/apperr"
	"chara-chat-go/internal/model"
	"chara-chat-go/internal/repository"

	"gorm.io/gorm"
)

// PersonaRequest 定义了创建或更新人物设定的数据。
type PersonaRequest struct {
	Nickname    string  `json:"nickname" binding:"required"`
	Age         *int    `json:"age"`
	Gender      *string `json:"gender"`
	Description string  `json:"description"`
}

// PersonaService 定义了用户人物设定的业务接口。
type PersonaService interface {
	Create(authorID uint, req PersonaRequest) (*model.Persona, error)
	Get(personaID, authorID uint) (*model.Persona, error)
	List(authorID uint) ([]model.Persona, error)
	Update(personaID, authorID uint, req PersonaRequest) (*model.Persona, error)
	Delete(personaID, authorID uint) error
}

type personaService struct {
	personaRepo repository.PersonaRepository
}

// NewPersonaService 创建一个新的 PersonaService 实例。
func NewPersonaService(personaRepo repository.PersonaRepository) PersonaService {
	return &personaService{personaRepo: personaRepo}
}

func validatePersona(req PersonaRequest) error {
	if strings.TrimSpace(req.Nickname) == "" {
		return apperr.New(apperr.CodeValidation, "昵称不能为空")
	}
	if req.Age != nil && (*req.Age < 0 || *req.Age > 200) {
		return apperr.New(apperr.CodeValidation, "年龄超出合理范围")
	}
	return nil
}

// Create 创建一个新的人物设定。
func (s *personaService) Create(authorID uint, req PersonaRequest) (*model.Persona, error) {
	if err := validatePersona(req); err != nil {
		return nil, err
	}
	persona := &model.Persona{
		AuthorID:    authorID,
		Nickname:    req.Nickname,
		Age:         req.Age,
		Gender:      req.Gender,
		Description: req.Description,
	}
	if err := s.personaRepo.Create(persona); err != nil {
		return nil, apperr.Wrap(apperr.CodePersistence, "创建人物设定失败", err)
	}
	return persona, nil
}

// Get 按所有权读取一个人物设定。
func (s *personaService) Get(personaID, authorID uint) (*model.Persona, error) {
	persona, err := s.personaRepo.FindByIDAndAuthor(personaID, authorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.CodeNotFound, "人物设定不存在")
		}
		return nil, err
	}
	return persona, nil
}

// List 返回用户拥有的全部人物设定。
func (s *personaService) List(authorID uint) ([]model.Persona, error) {
	return s.personaRepo.FindAllByAuthor(authorID)
}

// Update 更新一个人物设定，仅限拥有者。
func (s *personaService) Update(personaID, authorID uint, req PersonaRequest) (*model.Persona, error) {
	if err := validatePersona(req); err != nil {
		return nil, err
	}
	persona, err := s.Get(personaID, authorID)
	if err != nil {
		return nil, err
	}

	persona.Nickname = req.Nickname
	persona.Age = req.Age
	persona.Gender = req.Gender
	persona.Description = req.Description

	if err := s.personaRepo.Update(persona); err != nil {
		return nil, apperr.Wrap(apperr.CodePersistence, "更新人物设定失败", err)
	}
	return persona, nil
}

// Delete 删除一个人物设定，若其为默认设定则一并清空默认指针。
func (s *personaService) Delete(personaID, authorID uint) error {
	if _, err := s.Get(personaID, authorID); err != nil {
		return err
	}
	if err := s.personaRepo.Delete(personaID, authorID); err != nil {
		return apperr.Wrap(apperr.CodePersistence, "删除人物设定失败", err)
	}
	return nil
}
