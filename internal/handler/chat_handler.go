// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"chara-chat-go/internal/service"
	"chara-chat-go/pkg/log"
	"chara-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理会话定位、消息发送与 WebSocket 流式对话。
type ChatHandler struct {
	chatService service.ChatService
	userService service.UserService
	jwtManager  *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler 实例。
func NewChatHandler(chatService service.ChatService, userService service.UserService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		userService: userService,
		jwtManager:  jwtManager,
	}
}

// FindOrCreateRequest 定义了会话定位 API 的请求体结构。
type FindOrCreateRequest struct {
	CharacterID uint `json:"characterId" binding:"required"`
	ChatID      uint `json:"chatId"`
	ForceCreate bool `json:"forceCreate"`
}

// FindOrCreate 为 (用户, 角色) 定位一个会话并返回其完整历史。
func (h *ChatHandler) FindOrCreate(c *gin.Context) {
	user, okUser := currentUser(c)
	if !okUser {
		return
	}

	var req FindOrCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBadRequest(c, "无效的请求负载：characterId 不能为空")
		return
	}

	session, err := h.chatService.FindOrCreate(c.Request.Context(), user.ID, req.CharacterID, req.ChatID, req.ForceCreate)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, session)
}

// SendMessageRequest 定义了发送消息 API 的请求体结构。
// lastMessageId 可选，提交时作为乐观并发令牌参与校验。
type SendMessageRequest struct {
	Message       string `json:"message" binding:"required"`
	LastMessageID *uint  `json:"lastMessageId"`
}

// SendMessage 处理一轮非流式对话，返回模型的完整回复。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	user, okUser := currentUser(c)
	if !okUser {
		return
	}
	chatID, okID := parseIDParam(c, "chatId")
	if !okID {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBadRequest(c, "无效的请求负载：message 不能为空")
		return
	}

	reply, err := h.chatService.SendMessage(c.Request.Context(), user.ID, chatID, req.Message, req.LastMessageID)
	if err != nil {
		log.Warnf("SendMessage failed: chatId=%d, userId=%d, error: %v", chatID, user.ID, err)
		fail(c, err)
		return
	}
	ok(c, gin.H{"reply": reply})
}

// ListSessions 返回当前用户的全部会话概要。
func (h *ChatHandler) ListSessions(c *gin.Context) {
	user, okUser := currentUser(c)
	if !okUser {
		return
	}

	sessions, err := h.chatService.ListSessions(user.ID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, sessions)
}

// wsChatRequest 是 WebSocket 连接上单轮对话的消息格式。
type wsChatRequest struct {
	ChatID  uint   `json:"chatId"`
	Message string `json:"message"`
}

// HandleWebsocket 处理一个传入的 WebSocket 连接。
// 浏览器的 WebSocket API 无法自定义请求头，token 经路径参数传入。
// 每条入站消息触发一轮流式对话，回复分块下发，以 completion 消息收尾。
func (h *ChatHandler) HandleWebsocket(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	user, err := h.userService.GetProfile(claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %d", user.ID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var req wsChatRequest
		if err := json.Unmarshal(message, &req); err != nil {
			writeWSError(conn, "无效的消息格式")
			continue
		}

		if _, err := h.chatService.StreamMessage(c.Request.Context(), user.ID, req.ChatID, req.Message, conn); err != nil {
			log.Errorf("处理流式响应失败: chatId=%d, error: %v", req.ChatID, err)
			writeWSError(conn, "对话服务暂时不可用，请稍后重试")
			// 失败的一轮不发送 completion 帧
			continue
		}
		writeWSCompletion(conn)
	}
}

func writeWSError(conn *websocket.Conn, message string) {
	b, _ := json.Marshal(map[string]string{"error": message})
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

// writeWSCompletion 发送一轮回复结束的通知，客户端以此切换输入状态。
func writeWSCompletion(conn *websocket.Conn) {
	resp := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(resp)
	_ = conn.WriteMessage(websocket.TextMessage, b)
}
