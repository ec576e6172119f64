// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"mime/multipart"

	"chara-chat-go/internal/service"
	"chara-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 单张角色图片的大小上限。
const maxImageSize = 10 << 20 // 10MB

// CharacterHandler 负责处理角色管理相关的 API 请求。
type CharacterHandler struct {
	characterService service.CharacterService
}

// NewCharacterHandler 创建一个新的 CharacterHandler 实例。
func NewCharacterHandler(characterService service.CharacterService) *CharacterHandler {
	return &CharacterHandler{characterService: characterService}
}

// parseCharacterForm 从 multipart 表单中解析角色的文本字段。
// hashtags 以 JSON 数组字符串提交。
func parseCharacterForm(c *gin.Context) (service.CharacterRequest, error) {
	req := service.CharacterRequest{
		Name:           c.PostForm("name"),
		Description:    c.PostForm("description"),
		SystemTemplate: c.PostForm("systemTemplate"),
		DetailSetting:  c.PostForm("detailSetting"),
		FirstSituation: c.PostForm("firstSituation"),
		FirstMessage:   c.PostForm("firstMessage"),
		Visibility:     c.PostForm("visibility"),
		Category:       c.PostForm("category"),
	}
	req.SafetyFilter = c.DefaultPostForm("safetyFilter", "true") == "true"

	if raw := c.PostForm("hashtags"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Hashtags); err != nil {
			return req, err
		}
	}
	return req, nil
}

// collectImages 收集表单中的图片文件与对应关键词，打开的文件由调用方统一关闭。
// keywords 以 JSON 数组字符串提交，与图片按位置对应。
func collectImages(c *gin.Context) ([]service.ImageUpload, []multipart.File, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil, err
	}
	files := form.File["images"]

	var keywords []string
	if raw := c.PostForm("keywords"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &keywords); err != nil {
			return nil, nil, err
		}
	}

	uploads := make([]service.ImageUpload, 0, len(files))
	opened := make([]multipart.File, 0, len(files))
	for i, fileHeader := range files {
		file, err := fileHeader.Open()
		if err != nil {
			closeAll(opened)
			return nil, nil, err
		}
		opened = append(opened, file)

		keyword := ""
		if i < len(keywords) {
			keyword = keywords[i]
		}
		uploads = append(uploads, service.ImageUpload{
			Reader:      file,
			Size:        fileHeader.Size,
			ContentType: fileHeader.Header.Get("Content-Type"),
			Filename:    fileHeader.Filename,
			Keyword:     keyword,
		})
	}
	return uploads, opened, nil
}

func closeAll(files []multipart.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// Create 处理创建角色的 multipart 请求，角色字段与图片在同一个表单中提交。
func (h *CharacterHandler) Create(c *gin.Context) {
	user, okUser := currentUser(c)
	if !okUser {
		return
	}

	req, err := parseCharacterForm(c)
	if err != nil {
		failBadRequest(c, "无效的表单字段格式")
		return
	}

	uploads, opened, err := collectImages(c)
	if err != nil {
		failBadRequest(c, "无效的图片上传表单")
		return
	}
	defer closeAll(opened)

	for _, u := range uploads {
		if u.Size > maxImageSize {
			failBadRequest(c, "图片大小超出限制")
			return
		}
	}

	character, err := h.characterService.Create(c.Request.Context(), user.ID, req, uploads)
	if err != nil {
		log.Warnf("Create character failed for user %d, error: %v", user.ID, err)
		fail(c, err)
		return
	}
	ok(c, character)
}

// Get 读取角色详情。
func (h *CharacterHandler) Get(c *gin.Context) {
	user, okUser := currentUser(c)
	if !okUser {
		return
	}
	characterID, okID := parseIDParam(c, "characterId")
	if !okID {
		return
	}

	character, err := h.characterService.Get(c.Request.Context(), characterID, user.ID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, character)
}

// ListMine 返回当前用户创建的全部角色。
func (h *CharacterHandler) ListMine(c *gin.Context) {
	user, okUser := currentUser(c)
	if !okUser {
		return
	}

	characters, err := h.characterService.ListByAuthor(user.ID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, characters)
}

// Update 处理更新角色的 multipart 请求，新图片追加在现有图片之后。
func (h *CharacterHandler) Update(c *gin.Context) {
	user, okUser := currentUser(c)
	if !okUser {
		return
	}
	characterID, okID := parseIDParam(c, "characterId")
	if !okID {
		return
	}

	req, err := parseCharacterForm(c)
	if err != nil {
		failBadRequest(c, "无效的表单字段格式")
		return
	}

	var uploads []service.ImageUpload
	var opened []multipart.File
	// 更新时图片可选，没有 multipart 文件不算错误
	if c.ContentType() == "multipart/form-data" {
		uploads, opened, err = collectImages(c)
		if err != nil {
			failBadRequest(c, "无效的图片上传表单")
			return
		}
		defer closeAll(opened)
	}

	character, err := h.characterService.Update(c.Request.Context(), characterID, user.ID, req, uploads)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, character)
}

// Delete 删除角色。
func (h *CharacterHandler) Delete(c *gin.Context) {
	user, okUser := currentUser(c)
	if !okUser {
		return
	}
	characterID, okID := parseIDParam(c, "characterId")
	if !okID {
		return
	}

	if err := h.characterService.Delete(c.Request.Context(), characterID, user.ID); err != nil {
		fail(c, err)
		return
	}
	log.Infof("Character %d deleted by user %d", characterID, user.ID)
	okMsg(c, "角色删除成功")
}
