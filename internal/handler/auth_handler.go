// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"chara-chat-go/internal/service"
	"chara-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AuthHandler 负责处理令牌刷新相关的 API 请求。
type AuthHandler struct {
	userService service.UserService
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(userService service.UserService) *AuthHandler {
	return &AuthHandler{userService: userService}
}

// RefreshTokenRequest 定义了刷新令牌 API 的请求体结构。
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshToken 用刷新令牌换发新的令牌对。旧刷新令牌换发后即失效。
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBadRequest(c, "无效的请求负载：refreshToken 不能为空")
		return
	}

	pair, err := h.userService.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		log.Warnf("RefreshToken: token refresh failed, error: %v", err)
		fail(c, err)
		return
	}

	ok(c, gin.H{
		"token":        pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}
