// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"chara-chat-go/internal/service"
	"chara-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AdminHandler 负责处理管理员的内容治理请求。
type AdminHandler struct {
	characterService service.CharacterService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(characterService service.CharacterService) *AdminHandler {
	return &AdminHandler{characterService: characterService}
}

// RemoveCharacter 移除任意作者的角色，用于处理违规内容。
func (h *AdminHandler) RemoveCharacter(c *gin.Context) {
	admin, okUser := currentUser(c)
	if !okUser {
		return
	}
	characterID, okID := parseIDParam(c, "characterId")
	if !okID {
		return
	}

	if err := h.characterService.RemoveAny(c.Request.Context(), characterID); err != nil {
		fail(c, err)
		return
	}
	log.Infof("Character %d removed by admin %d", characterID, admin.ID)
	okMsg(c, "角色已移除")
}
