// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"strings"

	"chara-chat-go/internal/service"
	"chara-chat-go/pkg/log"
	"chara-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// UserHandler 负责处理所有与用户账号相关的 API 请求。
type UserHandler struct {
	userService service.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// Register 处理用户注册请求。
func (h *UserHandler) Register(c *gin.Context) {
	var req service.RegisterRequest
	// 绑定并验证 JSON 请求体
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Register: Invalid request payload, error: %v", err)
		failBadRequest(c, "无效的请求负载：邮箱、密码和昵称不能为空")
		return
	}

	user, err := h.userService.Register(req)
	if err != nil {
		log.Warnf("Register: User registration failed for '%s', error: %v", req.Email, err)
		fail(c, err)
		return
	}

	log.Infof("User '%s' registered successfully", user.Email)
	ok(c, gin.H{"id": user.ID, "email": user.Email, "nickname": user.Nickname})
}

// Login 处理用户登录请求。
func (h *UserHandler) Login(c *gin.Context) {
	var req service.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Login: Invalid request payload, error: %v", err)
		failBadRequest(c, "无效的请求负载：邮箱和密码不能为空")
		return
	}

	pair, err := h.userService.Login(req)
	if err != nil {
		log.Warnf("Login: User authentication failed for '%s', error: %v", req.Email, err)
		fail(c, err)
		return
	}

	log.Infof("User '%s' logged in successfully", req.Email)
	ok(c, gin.H{
		"token":        pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

// GetProfile 获取当前登录用户的个人信息。
// 用户信息已经由 AuthMiddleware 注入到上下文中。
func (h *UserHandler) GetProfile(c *gin.Context) {
	user, okUser := currentUser(c)
	if !okUser {
		return
	}
	ok(c, user)
}

// UpdateProfile 更新当前登录用户的个人资料。
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	user, okUser := currentUser(c)
	if !okUser {
		return
	}

	var req service.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBadRequest(c, "无效的请求负载")
		return
	}

	updated, err := h.userService.UpdateProfile(user.ID, req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, updated)
}

// Logout 处理用户登出逻辑。
func (h *UserHandler) Logout(c *gin.Context) {
	user, okUser := currentUser(c)
	if !okUser {
		return
	}

	authHeader := c.GetHeader("Authorization")
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	claimsValue, _ := c.Get("claims")
	claims, okClaims := claimsValue.(*token.CustomClaims)
	if !okClaims {
		failBadRequest(c, "无法解析当前登录状态")
		return
	}

	if err := h.userService.Logout(c.Request.Context(), tokenString, claims); err != nil {
		log.Error("Logout: Failed to logout", err)
		fail(c, err)
		return
	}

	log.Infof("User '%s' logged out successfully", user.Email)
	okMsg(c, "登出成功")
}

// SetSafetyFilterRequest 定义了设置安全过滤开关的请求体结构。
type SetSafetyFilterRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetSafetyFilter 处理设置内容安全过滤开关的请求。
func (h *UserHandler) SetSafetyFilter(c *gin.Context) {
	user, okUser := currentUser(c)
	if !okUser {
		return
	}

	var req SetSafetyFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBadRequest(c, "无效的请求负载：enabled 不能为空")
		return
	}

	if err := h.userService.SetSafetyFilter(user.ID, *req.Enabled); err != nil {
		fail(c, err)
		return
	}
	okMsg(c, "安全过滤开关更新成功")
}

// SetDefaultPersonaRequest 定义了设置默认人物设定的请求体结构。
// personaId 为 null 时表示清空默认设定。
type SetDefaultPersonaRequest struct {
	PersonaID *uint `json:"personaId"`
}

// SetDefaultPersona 处理设置或清空默认人物设定的请求。
func (h *UserHandler) SetDefaultPersona(c *gin.Context) {
	user, okUser := currentUser(c)
	if !okUser {
		return
	}

	var req SetDefaultPersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBadRequest(c, "无效的请求负载")
		return
	}

	if err := h.userService.SetDefaultPersona(user.ID, req.PersonaID); err != nil {
		fail(c, err)
		return
	}
	okMsg(c, "默认人物设定更新成功")
}
