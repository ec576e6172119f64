// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"strconv"

	"chara-chat-go/internal/service"

	"github.com/gin-gonic/gin"
)

// PersonaHandler 负责处理用户人物设定相关的 API 请求。
type PersonaHandler struct {
	personaService service.PersonaService
}

// NewPersonaHandler 创建一个新的 PersonaHandler 实例。
func NewPersonaHandler(personaService service.PersonaService) *PersonaHandler {
	return &PersonaHandler{personaService: personaService}
}

// parseIDParam 解析路径中的数字 ID 参数。
func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		failBadRequest(c, "无效的 ID 参数")
		return 0, false
	}
	return uint(id), true
}

// Create 创建一个新的人物设定。
func (h *PersonaHandler) Create(c *gin.Context) {
	user, okUser := currentUser(c)
	if !okUser {
		return
	}

	var req service.PersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBadRequest(c, "无效的请求负载：昵称不能为空")
		return
	}

	persona, err := h.personaService.Create(user.ID, req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, persona)
}

// Get 读取一个人物设定。
func (h *PersonaHandler) Get(c *gin.Context) {
	user, okUser := currentUser(c)
	if !okUser {
		return
	}
	personaID, okID := parseIDParam(c, "personaId")
	if !okID {
		return
	}

	persona, err := h.personaService.Get(personaID, user.ID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, persona)
}

// List 返回当前用户的全部人物设定。
func (h *PersonaHandler) List(c *gin.Context) {
	user, okUser := currentUser(c)
	if !okUser {
		return
	}

	personas, err := h.personaService.List(user.ID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, personas)
}

// Update 更新一个人物设定。
func (h *PersonaHandler) Update(c *gin.Context) {
	user, okUser := currentUser(c)
	if !okUser {
		return
	}
	personaID, okID := parseIDParam(c, "personaId")
	if !okID {
		return
	}

	var req service.PersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBadRequest(c, "无效的请求负载：昵称不能为空")
		return
	}

	persona, err := h.personaService.Update(personaID, user.ID, req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, persona)
}

// Delete 删除一个人物设定。
func (h *PersonaHandler) Delete(c *gin.Context) {
	user, okUser := currentUser(c)
	if !okUser {
		return
	}
	personaID, okID := parseIDParam(c, "personaId")
	if !okID {
		return
	}

	if err := h.personaService.Delete(personaID, user.ID); err != nil {
		fail(c, err)
		return
	}
	okMsg(c, "人物设定删除成功")
}
