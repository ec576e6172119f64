// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"chara-chat-go/internal/apperr"
	"chara-chat-go/internal/config"
	"chara-chat-go/internal/model"
	"chara-chat-go/internal/repository"
	"chara-chat-go/pkg/llm"
	"chara-chat-go/pkg/log"

	"gorm.io/gorm"
)

// ChatSession 是会话定位的返回值：一个会话加上其按时间升序的完整历史。
type ChatSession struct {
	Chat     *model.Chat         `json:"chat"`
	Messages []model.ChatMessage `json:"messages"`
}

// ChatSummary 是会话列表项，携带角色概要信息。
type ChatSummary struct {
	ChatID        uint            `json:"chatId"`
	CharacterID   uint            `json:"characterId"`
	CharacterName string          `json:"characterName"`
	MainImageURL  string          `json:"mainImageUrl"`
	UpdatedAt     model.LocalTime `json:"updatedAt"`
}

// ChatService 定义了对话核心的业务接口。
type ChatService interface {
	// FindOrCreate 为 (用户, 角色) 定位一个会话。
	// chatID 非 0 时优先按所有权查找该会话，查不到则回退默认路径；
	// forceCreate 为 true 时总是新建会话；否则复用最近的会话，没有则新建。
	FindOrCreate(ctx context.Context, userID, characterID, chatID uint, forceCreate bool) (*ChatSession, error)
	// SendMessage 处理一轮对话：读取设定与历史、调用生成服务、原子落库，返回回复文本。
	// observedLastID 非 nil 时作为乐观并发令牌参与提交校验。
	SendMessage(ctx context.Context, userID, chatID uint, message string, observedLastID *uint) (string, error)
	// StreamMessage 与 SendMessage 语义一致，但把回复分块流式写入 writer，
	// 完整回复在流结束后原子落库并返回。
	StreamMessage(ctx context.Context, userID, chatID uint, message string, writer llm.MessageWriter) (string, error)
	// ListSessions 返回用户的全部会话概要，最近活跃的在前。
	ListSessions(userID uint) ([]ChatSummary, error)
}

type chatService struct {
	chatRepo      repository.ChatRepository
	characterRepo repository.CharacterRepository
	personaRepo   repository.PersonaRepository
	userRepo      repository.UserRepository
	locker        repository.ChatLocker
	llmClient     llm.Client
	assembler     *promptAssembler
	lockTTL       time.Duration
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	chatRepo repository.ChatRepository,
	characterRepo repository.CharacterRepository,
	personaRepo repository.PersonaRepository,
	userRepo repository.UserRepository,
	locker repository.ChatLocker,
	llmClient llm.Client,
	cfg config.ChatConfig,
) ChatService {
	lockTTL := time.Duration(cfg.LockTTLSeconds) * time.Second
	if lockTTL <= 0 {
		lockTTL = 60 * time.Second
	}
	return &chatService{
		chatRepo:      chatRepo,
		characterRepo: characterRepo,
		personaRepo:   personaRepo,
		userRepo:      userRepo,
		locker:        locker,
		llmClient:     llmClient,
		assembler:     newPromptAssembler(cfg),
		lockTTL:       lockTTL,
	}
}

// FindOrCreate 实现会话定位策略。
func (s *chatService) FindOrCreate(ctx context.Context, userID, characterID, chatID uint, forceCreate bool) (*ChatSession, error) {
	if characterID == 0 {
		return nil, apperr.New(apperr.CodeValidation, "角色 ID 不能为空")
	}
	if _, err := s.characterRepo.FindByID(characterID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.CodeNotFound, "角色不存在")
		}
		return nil, err
	}

	// 1. 指定了会话 ID：按所有权查找；查不到不报错，回退默认路径
	if chatID != 0 {
		chat, err := s.chatRepo.FindByIDAndUser(chatID, userID)
		if err == nil {
			return s.withHistory(chat)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		log.Infof("指定的会话不可用，回退默认定位: chatId=%d, userId=%d", chatID, userID)
	}

	// 2. 显式要求新开会话：即使已有会话也总是新建
	if forceCreate {
		return s.createSession(userID, characterID)
	}

	// 3. 默认路径：复用最近创建的会话，没有则新建
	chat, err := s.chatRepo.FindLatestByUserAndCharacter(userID, characterID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.createSession(userID, characterID)
		}
		return nil, err
	}
	return s.withHistory(chat)
}

func (s *chatService) createSession(userID, characterID uint) (*ChatSession, error) {
	chat := &model.Chat{UserID: userID, CharacterID: characterID}
	if err := s.chatRepo.Create(chat); err != nil {
		return nil, apperr.Wrap(apperr.CodePersistence, "创建会话失败", err)
	}
	return &ChatSession{Chat: chat, Messages: []model.ChatMessage{}}, nil
}

func (s *chatService) withHistory(chat *model.Chat) (*ChatSession, error) {
	messages, err := s.chatRepo.GetMessages(chat.ID)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []model.ChatMessage{}
	}
	return &ChatSession{Chat: chat, Messages: messages}, nil
}

// SendMessage 处理一轮完整的非流式对话。
func (s *chatService) SendMessage(ctx context.Context, userID, chatID uint, message string, observedLastID *uint) (string, error) {
	turn, err := s.prepareTurn(ctx, userID, chatID, message, observedLastID)
	if err != nil {
		return "", err
	}
	defer s.releaseLock(chatID)

	reply, err := s.llmClient.Chat(ctx, turn.messages, nil)
	if err != nil {
		if errors.Is(err, llm.ErrEmptyReply) {
			return "", apperr.Wrap(apperr.CodeUpstreamEmpty, "模型没有返回有效的回复", err)
		}
		return "", apperr.Wrap(apperr.CodeUpstreamFailure, "调用生成服务失败", err)
	}

	if err := s.persistTurn(chatID, message, reply, turn.observedLastID); err != nil {
		return "", err
	}
	return reply, nil
}

// StreamMessage 处理一轮流式对话：分块下发的同时捕获完整回复用于落库。
func (s *chatService) StreamMessage(ctx context.Context, userID, chatID uint, message string, writer llm.MessageWriter) (string, error) {
	turn, err := s.prepareTurn(ctx, userID, chatID, message, nil)
	if err != nil {
		return "", err
	}
	defer s.releaseLock(chatID)

	answerBuilder := &strings.Builder{}
	interceptor := &capturingWriter{next: writer, captured: answerBuilder}
	if err := s.llmClient.StreamChatMessages(ctx, turn.messages, nil, interceptor); err != nil {
		return "", apperr.Wrap(apperr.CodeUpstreamFailure, "调用生成服务失败", err)
	}

	reply := answerBuilder.String()
	if strings.TrimSpace(reply) == "" {
		return "", apperr.New(apperr.CodeUpstreamEmpty, "模型没有返回有效的回复")
	}

	if err := s.persistTurn(chatID, message, reply, turn.observedLastID); err != nil {
		return "", err
	}
	return reply, nil
}

// ListSessions 返回用户的会话概要列表。
func (s *chatService) ListSessions(userID uint) ([]ChatSummary, error) {
	chats, err := s.chatRepo.FindAllByUser(userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]ChatSummary, 0, len(chats))
	for _, chat := range chats {
		summary := ChatSummary{
			ChatID:      chat.ID,
			CharacterID: chat.CharacterID,
			UpdatedAt:   model.LocalTime(chat.UpdatedAt),
		}
		// 角色已被作者删除时仍保留会话条目，仅缺少概要信息
		if character, err := s.characterRepo.FindByID(chat.CharacterID); err == nil {
			summary.CharacterName = character.Name
			for _, img := range character.Images {
				if img.IsMain {
					summary.MainImageURL = img.ImageURL
					break
				}
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// preparedTurn 是一轮对话在调用生成服务前准备好的全部输入。
type preparedTurn struct {
	messages       []llm.Message
	observedLastID uint
}

// prepareTurn 完成一轮对话的前半段：校验、加锁、解析设定、组装提示词。
// 成功返回后由调用方负责释放会话锁。
func (s *chatService) prepareTurn(ctx context.Context, userID, chatID uint, message string, observedLastID *uint) (*preparedTurn, error) {
	if strings.TrimSpace(message) == "" {
		return nil, apperr.New(apperr.CodeValidation, "消息内容不能为空")
	}
	if chatID == 0 {
		return nil, apperr.New(apperr.CodeValidation, "会话 ID 不能为空")
	}

	chat, err := s.chatRepo.FindByIDAndUser(chatID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.CodeNotFound, "会话不存在或无权访问")
		}
		return nil, err
	}

	// 会话级咨询锁：同一会话的双重提交在这里被挡下
	acquired, err := s.locker.TryLock(ctx, chatID, s.lockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, apperr.New(apperr.CodeConflict, "上一轮对话仍在进行中，请稍后再试")
	}

	turn, err := s.buildTurn(chat, message, observedLastID)
	if err != nil {
		s.releaseLock(chatID)
		return nil, err
	}
	return turn, nil
}

// buildTurn 读取历史与双方设定并组装模型消息序列。
func (s *chatService) buildTurn(chat *model.Chat, message string, observedLastID *uint) (*preparedTurn, error) {
	history, err := s.chatRepo.GetMessages(chat.ID)
	if err != nil {
		return nil, err
	}

	// 乐观并发令牌：调用方未显式提供时，以本次读取到的最新消息为准
	observed, err := s.chatRepo.LatestMessageID(chat.ID)
	if err != nil {
		return nil, err
	}
	if observedLastID != nil {
		observed = *observedLastID
	}

	character, persona, err := s.resolvePersonas(chat)
	if err != nil {
		return nil, err
	}

	systemInstruction := s.assembler.SystemInstruction(character, persona)
	messages := s.assembler.Compose(systemInstruction, history, message)
	return &preparedTurn{messages: messages, observedLastID: observed}, nil
}

// resolvePersonas 每轮重新解析角色模板与用户默认人物设定，不做缓存，
// 保证设定的编辑在下一条消息立即生效。persona 可能为 nil，由组装器填占位符。
func (s *chatService) resolvePersonas(chat *model.Chat) (*model.Character, *model.Persona, error) {
	character, err := s.characterRepo.FindByID(chat.CharacterID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperr.New(apperr.CodeNotFound, "会话关联的角色不存在")
		}
		return nil, nil, err
	}

	user, err := s.userRepo.FindByID(chat.UserID)
	if err != nil {
		return nil, nil, err
	}

	var persona *model.Persona
	if user.DefaultPersonaID != nil {
		persona, err = s.personaRepo.FindByID(*user.DefaultPersonaID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, err
			}
			// 默认设定已被删除：按未配置处理
			persona = nil
		}
	}
	return character, persona, nil
}

// persistTurn 原子写入一轮对话，冲突原样上抛，其余落库失败归类为持久化错误。
func (s *chatService) persistTurn(chatID uint, message, reply string, observedLastID uint) error {
	if err := s.chatRepo.AppendTurn(chatID, message, reply, observedLastID); err != nil {
		if apperr.Code(err) == apperr.CodeConflict {
			return err
		}
		return apperr.Wrap(apperr.CodePersistence, "保存对话消息失败", err)
	}
	return nil
}

// releaseLock 用独立上下文释放会话锁，请求被取消也不妨碍解锁。
func (s *chatService) releaseLock(chatID uint) {
	if err := s.locker.Unlock(context.Background(), chatID); err != nil {
		log.Errorf("释放会话锁失败: chatId=%d, error: %v", chatID, err)
	}
}

// capturingWriter 包装下游 writer，在转发分块的同时累积完整回复。
type capturingWriter struct {
	next     llm.MessageWriter
	captured *strings.Builder
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *capturingWriter) WriteMessage(messageType int, data []byte) error {
	w.captured.Write(data)
	return w.next.WriteMessage(messageType, data)
}
