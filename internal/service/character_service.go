// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"chara-chat-go/internal/apperr"
	"chara-chat-go/internal/model"
	"chara-chat-go/internal/repository"
	"chara-chat-go/pkg/kafka"
	"chara-chat-go/pkg/log"
	"chara-chat-go/pkg/storage"
	"chara-chat-go/pkg/tasks"
	"chara-chat-go/pkg/token"

	"gorm.io/gorm"
)

// ImageUpload 是一张待上传的角色图片。
type ImageUpload struct {
	Reader      io.Reader
	Size        int64
	ContentType string
	Filename    string
	Keyword     string
}

// CharacterRequest 定义了创建或更新角色的文本字段。
type CharacterRequest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	SystemTemplate string   `json:"systemTemplate"`
	DetailSetting  string   `json:"detailSetting"`
	FirstSituation string   `json:"firstSituation"`
	FirstMessage   string   `json:"firstMessage"`
	Visibility     string   `json:"visibility"`
	SafetyFilter   bool     `json:"safetyFilter"`
	Category       string   `json:"category"`
	Hashtags       []string `json:"hashtags"`
}

// CharacterService 定义了角色管理的业务接口。
type CharacterService interface {
	// Create 创建角色并上传其图片，第一张图片约定为主图。
	Create(ctx context.Context, authorID uint, req CharacterRequest, images []ImageUpload) (*model.Character, error)
	// Get 读取角色详情。私有角色仅作者可见，其图片以限时签名 URL 下发。
	Get(ctx context.Context, characterID, viewerID uint) (*model.Character, error)
	ListByAuthor(authorID uint) ([]model.Character, error)
	// Update 更新角色文本字段并追加新上传的图片。
	Update(ctx context.Context, characterID, authorID uint, req CharacterRequest, newImages []ImageUpload) (*model.Character, error)
	// Delete 删除角色及其图片，对象存储与搜索索引做尽力清理。
	Delete(ctx context.Context, characterID, authorID uint) error
	// RemoveAny 移除任意作者的角色，供管理员处理违规内容使用。
	RemoveAny(ctx context.Context, characterID uint) error
}

type characterService struct {
	characterRepo repository.CharacterRepository
	store         storage.Store
}

// NewCharacterService 创建一个新的 CharacterService 实例。
func NewCharacterService(characterRepo repository.CharacterRepository, store storage.Store) CharacterService {
	return &characterService{characterRepo: characterRepo, store: store}
}

func validateCharacter(req CharacterRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return apperr.New(apperr.CodeValidation, "角色名称不能为空")
	}
	switch req.Visibility {
	case "", model.VisibilityPublic, model.VisibilityPrivate, model.VisibilityLink:
	default:
		return apperr.New(apperr.CodeValidation, "无效的可见性取值")
	}
	return nil
}

// uploadImages 依序上传图片并构建图片记录，第一张标记为主图。
func (s *characterService) uploadImages(ctx context.Context, authorID uint, images []ImageUpload, orderOffset int) ([]model.CharacterImage, error) {
	records := make([]model.CharacterImage, 0, len(images))
	for i, img := range images {
		objectName := fmt.Sprintf("characters/%d/%s%s",
			authorID, token.GenerateRandomString(16), path.Ext(img.Filename))
		url, err := s.store.Upload(ctx, objectName, img.Reader, img.Size, img.ContentType)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "上传角色图片失败", err)
		}
		records = append(records, model.CharacterImage{
			ImageURL:     url,
			Keyword:      img.Keyword,
			IsMain:       orderOffset == 0 && i == 0,
			DisplayOrder: orderOffset + i,
		})
	}
	return records, nil
}

// Create 创建角色。图片先上传到对象存储，数据库记录在单个事务内写入，
// 最后异步投递索引任务。
func (s *characterService) Create(ctx context.Context, authorID uint, req CharacterRequest, images []ImageUpload) (*model.Character, error) {
	if err := validateCharacter(req); err != nil {
		return nil, err
	}

	imageRecords, err := s.uploadImages(ctx, authorID, images, 0)
	if err != nil {
		return nil, err
	}

	visibility := req.Visibility
	if visibility == "" {
		visibility = model.VisibilityPublic
	}
	character := &model.Character{
		AuthorID:       authorID,
		Name:           req.Name,
		Description:    req.Description,
		SystemTemplate: req.SystemTemplate,
		DetailSetting:  req.DetailSetting,
		FirstSituation: req.FirstSituation,
		FirstMessage:   req.FirstMessage,
		Visibility:     visibility,
		SafetyFilter:   req.SafetyFilter,
		Category:       req.Category,
		Hashtags:       req.Hashtags,
	}
	if err := s.characterRepo.CreateWithImages(character, imageRecords); err != nil {
		return nil, apperr.Wrap(apperr.CodePersistence, "创建角色失败", err)
	}

	s.enqueueIndexTask(character.ID, tasks.ActionIndex)
	return character, nil
}

// Get 读取角色详情，私有角色只有作者本人可以访问。
func (s *characterService) Get(ctx context.Context, characterID, viewerID uint) (*model.Character, error) {
	character, err := s.characterRepo.FindByID(characterID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.CodeNotFound, "角色不存在")
		}
		return nil, err
	}
	if character.Visibility == model.VisibilityPrivate {
		if character.AuthorID != viewerID {
			return nil, apperr.New(apperr.CodeForbidden, "无权访问该角色")
		}
		return s.withPresignedImages(ctx, character), nil
	}
	return character, nil
}

// 私有角色图片签名 URL 的有效期。
const presignExpiry = 15 * time.Minute

// withPresignedImages 把私有角色的图片地址换成限时签名 URL。
// 签名失败时保留原地址，库内记录不被改动。
func (s *characterService) withPresignedImages(ctx context.Context, character *model.Character) *model.Character {
	out := *character
	out.Images = make([]model.CharacterImage, len(character.Images))
	copy(out.Images, character.Images)
	for i := range out.Images {
		objectName := objectNameFromURL(out.Images[i].ImageURL)
		if objectName == "" {
			continue
		}
		signed, err := s.store.PresignedURL(ctx, objectName, presignExpiry)
		if err != nil {
			log.Errorf("生成图片签名 URL 失败: %s, error: %v", objectName, err)
			continue
		}
		out.Images[i].ImageURL = signed
	}
	return &out
}

// ListByAuthor 返回某作者创建的全部角色。
func (s *characterService) ListByAuthor(authorID uint) ([]model.Character, error) {
	return s.characterRepo.FindAllByAuthor(authorID)
}

// Update 更新角色文本字段，新图片追加在现有图片之后。
func (s *characterService) Update(ctx context.Context, characterID, authorID uint, req CharacterRequest, newImages []ImageUpload) (*model.Character, error) {
	if err := validateCharacter(req); err != nil {
		return nil, err
	}

	character, err := s.characterRepo.FindByID(characterID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.CodeNotFound, "角色不存在")
		}
		return nil, err
	}
	if character.AuthorID != authorID {
		return nil, apperr.New(apperr.CodeForbidden, "无权修改该角色")
	}

	imageRecords, err := s.uploadImages(ctx, authorID, newImages, len(character.Images))
	if err != nil {
		return nil, err
	}

	character.Name = req.Name
	character.Description = req.Description
	character.SystemTemplate = req.SystemTemplate
	character.DetailSetting = req.DetailSetting
	character.FirstSituation = req.FirstSituation
	character.FirstMessage = req.FirstMessage
	if req.Visibility != "" {
		character.Visibility = req.Visibility
	}
	character.SafetyFilter = req.SafetyFilter
	character.Category = req.Category
	character.Hashtags = req.Hashtags

	if err := s.characterRepo.Update(character, imageRecords); err != nil {
		return nil, apperr.Wrap(apperr.CodePersistence, "更新角色失败", err)
	}

	s.enqueueIndexTask(character.ID, tasks.ActionIndex)
	return s.characterRepo.FindByID(characterID)
}

// Delete 删除角色。数据库记录在事务内删除，对象存储与搜索索引尽力清理。
func (s *characterService) Delete(ctx context.Context, characterID, authorID uint) error {
	character, err := s.characterRepo.FindByID(characterID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.CodeNotFound, "角色不存在")
		}
		return err
	}
	if character.AuthorID != authorID {
		return apperr.New(apperr.CodeForbidden, "无权删除该角色")
	}
	return s.purge(ctx, character)
}

// RemoveAny 移除任意角色，不做作者校验，仅供管理员路由使用。
func (s *characterService) RemoveAny(ctx context.Context, characterID uint) error {
	character, err := s.characterRepo.FindByID(characterID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.CodeNotFound, "角色不存在")
		}
		return err
	}
	return s.purge(ctx, character)
}

// purge 删除角色记录并尽力清理其图片对象与搜索索引。
func (s *characterService) purge(ctx context.Context, character *model.Character) error {
	if err := s.characterRepo.Delete(character.ID, character.AuthorID); err != nil {
		return apperr.Wrap(apperr.CodePersistence, "删除角色失败", err)
	}

	// 图片对象的清理不影响删除结果
	for _, img := range character.Images {
		objectName := objectNameFromURL(img.ImageURL)
		if objectName == "" {
			continue
		}
		if err := s.store.Remove(ctx, objectName); err != nil {
			log.Errorf("删除角色图片对象失败: %s, error: %v", objectName, err)
		}
	}

	s.enqueueIndexTask(character.ID, tasks.ActionDelete)
	return nil
}

// enqueueIndexTask 投递索引任务，失败只记录日志，不阻塞主流程。
func (s *characterService) enqueueIndexTask(characterID uint, action string) {
	task := tasks.CharacterIndexTask{CharacterID: characterID, Action: action}
	if err := kafka.ProduceIndexTask(task); err != nil {
		log.Errorf("投递角色索引任务失败: characterId=%d, action=%s, error: %v",
			characterID, action, err)
	}
}

// objectNameFromURL 从公开 URL 中还原对象名，约定对象名以 "characters/" 开头。
func objectNameFromURL(url string) string {
	idx := strings.Index(url, "/characters/")
	if idx < 0 {
		return ""
	}
	return url[idx+1:]
}
