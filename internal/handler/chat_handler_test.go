package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chara-chat-go/internal/model"
	"chara-chat-go/internal/service"
	"chara-chat-go/pkg/llm"
	"chara-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubChatService 的 StreamMessage 首次调用失败，之后写出一个分块并成功返回。
type stubChatService struct {
	streamCalls int
	failFirst   bool
}

func (s *stubChatService) FindOrCreate(ctx context.Context, userID, characterID, chatID uint, forceCreate bool) (*service.ChatSession, error) {
	return nil, errors.New("not implemented")
}

func (s *stubChatService) SendMessage(ctx context.Context, userID, chatID uint, message string, observedLastID *uint) (string, error) {
	return "", errors.New("not implemented")
}

func (s *stubChatService) StreamMessage(ctx context.Context, userID, chatID uint, message string, writer llm.MessageWriter) (string, error) {
	s.streamCalls++
	if s.failFirst && s.streamCalls == 1 {
		return "", errors.New("upstream unavailable")
	}
	if err := writer.WriteMessage(websocket.TextMessage, []byte("你好")); err != nil {
		return "", err
	}
	return "你好", nil
}

func (s *stubChatService) ListSessions(userID uint) ([]service.ChatSummary, error) {
	return nil, nil
}

// stubUserService 只需要 GetProfile 返回固定用户。
type stubUserService struct {
	user *model.User
}

func (s *stubUserService) Register(req service.RegisterRequest) (*model.User, error) {
	return nil, errors.New("not implemented")
}

func (s *stubUserService) Login(req service.LoginRequest) (*service.TokenPair, error) {
	return nil, errors.New("not implemented")
}

func (s *stubUserService) Logout(ctx context.Context, tokenString string, claims *token.CustomClaims) error {
	return errors.New("not implemented")
}

func (s *stubUserService) RefreshToken(ctx context.Context, refreshToken string) (*service.TokenPair, error) {
	return nil, errors.New("not implemented")
}

func (s *stubUserService) GetProfile(userID uint) (*model.User, error) {
	return s.user, nil
}

func (s *stubUserService) UpdateProfile(userID uint, req service.UpdateProfileRequest) (*model.User, error) {
	return nil, errors.New("not implemented")
}

func (s *stubUserService) SetSafetyFilter(userID uint, enabled bool) error { return nil }

func (s *stubUserService) SetDefaultPersona(userID uint, personaID *uint) error { return nil }

// dialChatWebsocket 启动带 WebSocket 路由的测试服务并建立连接。
func dialChatWebsocket(t *testing.T, chatService service.ChatService) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwtManager := token.NewJWTManager("test-secret", 1, 7)
	tokenString, err := jwtManager.GenerateToken(1, "测试用户", "USER")
	require.NoError(t, err)

	h := NewChatHandler(chatService, &stubUserService{user: &model.User{ID: 1, Nickname: "测试用户"}}, jwtManager)
	r := gin.New()
	r.GET("/chat/:token", h.HandleWebsocket)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/chat/" + tokenString
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func sendTurn(t *testing.T, conn *websocket.Conn, message string) {
	t.Helper()
	b, err := json.Marshal(wsChatRequest{ChatID: 1, Message: message})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))
}

func TestWebsocketFailedTurnHasNoCompletionFrame(t *testing.T) {
	svc := &stubChatService{failFirst: true}
	conn := dialChatWebsocket(t, svc)

	// 第一轮失败：只收到错误帧
	sendTurn(t, conn, "第一句")
	var errFrame map[string]string
	require.NoError(t, json.Unmarshal([]byte(readFrame(t, conn)), &errFrame))
	assert.NotEmpty(t, errFrame["error"])

	// 第二轮成功：紧随其后的必须是本轮的分块，而不是上一轮遗留的 completion
	sendTurn(t, conn, "第二句")
	assert.Equal(t, "你好", readFrame(t, conn))

	var completion map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(readFrame(t, conn)), &completion))
	assert.Equal(t, "completion", completion["type"])
	assert.Equal(t, "finished", completion["status"])
}

func TestWebsocketSuccessfulTurnEndsWithCompletion(t *testing.T) {
	svc := &stubChatService{}
	conn := dialChatWebsocket(t, svc)

	sendTurn(t, conn, "打个招呼")
	assert.Equal(t, "你好", readFrame(t, conn))

	var completion map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(readFrame(t, conn)), &completion))
	assert.Equal(t, "completion", completion["type"])
}
