package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"chara-chat-go/internal/apperr"
	"chara-chat-go/internal/config"
	"chara-chat-go/internal/model"
	"chara-chat-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeStore 是覆盖全部仓储接口的内存实现，测试共用一个实例。
// appendErr 非空时 AppendTurn 模拟写入中途失败并回滚，落库条数为零。
type fakeStore struct {
	chats      map[uint]*model.Chat
	messages   map[uint][]model.ChatMessage
	characters map[uint]*model.Character
	personas   map[uint]*model.Persona
	users      map[uint]*model.User
	nextChatID uint
	nextMsgID  uint
	appendErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chats:      make(map[uint]*model.Chat),
		messages:   make(map[uint][]model.ChatMessage),
		characters: make(map[uint]*model.Character),
		personas:   make(map[uint]*model.Persona),
		users:      make(map[uint]*model.User),
	}
}

// --- ChatRepository ---

func (s *fakeStore) Create(chat *model.Chat) error {
	s.nextChatID++
	chat.ID = s.nextChatID
	chat.CreatedAt = time.Now()
	chat.UpdatedAt = chat.CreatedAt
	s.chats[chat.ID] = chat
	return nil
}

func (s *fakeStore) FindByIDAndUser(chatID, userID uint) (*model.Chat, error) {
	chat, okChat := s.chats[chatID]
	if !okChat || chat.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return chat, nil
}

func (s *fakeStore) FindLatestByUserAndCharacter(userID, characterID uint) (*model.Chat, error) {
	var latest *model.Chat
	for _, chat := range s.chats {
		if chat.UserID != userID || chat.CharacterID != characterID {
			continue
		}
		if latest == nil || chat.ID > latest.ID {
			latest = chat
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return latest, nil
}

func (s *fakeStore) FindAllByUser(userID uint) ([]model.Chat, error) {
	var chats []model.Chat
	for _, chat := range s.chats {
		if chat.UserID == userID {
			chats = append(chats, *chat)
		}
	}
	return chats, nil
}

func (s *fakeStore) GetMessages(chatID uint) ([]model.ChatMessage, error) {
	return s.messages[chatID], nil
}

func (s *fakeStore) LatestMessageID(chatID uint) (uint, error) {
	msgs := s.messages[chatID]
	if len(msgs) == 0 {
		return 0, nil
	}
	return msgs[len(msgs)-1].ID, nil
}

func (s *fakeStore) AppendTurn(chatID uint, userText, modelText string, observedLastID uint) error {
	latest, _ := s.LatestMessageID(chatID)
	if latest != observedLastID {
		return apperr.New(apperr.CodeConflict, "会话已产生新消息，本轮提交被拒绝")
	}
	if s.appendErr != nil {
		// 用户行已写入后模型行写入失败，整个事务回滚
		before := len(s.messages[chatID])
		s.messages[chatID] = append(s.messages[chatID], model.ChatMessage{
			ChatID: chatID, Role: model.RoleUser, Content: userText,
		})
		s.messages[chatID] = s.messages[chatID][:before]
		return s.appendErr
	}
	for _, entry := range []struct{ role, content string }{
		{model.RoleUser, userText},
		{model.RoleModel, modelText},
	} {
		s.nextMsgID++
		s.messages[chatID] = append(s.messages[chatID], model.ChatMessage{
			ID:        s.nextMsgID,
			ChatID:    chatID,
			Role:      entry.role,
			Content:   entry.content,
			CreatedAt: time.Now(),
		})
	}
	return nil
}

// --- CharacterRepository ---

func (s *fakeStore) CreateWithImages(character *model.Character, images []model.CharacterImage) error {
	s.characters[character.ID] = character
	return nil
}

func (s *fakeStore) FindByID(characterID uint) (*model.Character, error) {
	character, okChar := s.characters[characterID]
	if !okChar {
		return nil, gorm.ErrRecordNotFound
	}
	return character, nil
}

func (s *fakeStore) FindAllByAuthor(authorID uint) ([]model.Character, error) {
	return nil, nil
}

func (s *fakeStore) Update(character *model.Character, newImages []model.CharacterImage) error {
	s.characters[character.ID] = character
	return nil
}

func (s *fakeStore) Delete(characterID, authorID uint) error {
	delete(s.characters, characterID)
	return nil
}

// personaRepo 与 userRepo 的接口方法名与上面冲突，用独立包装类型区分。

type fakePersonaRepo struct{ store *fakeStore }

func (r *fakePersonaRepo) Create(persona *model.Persona) error {
	r.store.personas[persona.ID] = persona
	return nil
}

func (r *fakePersonaRepo) FindByID(personaID uint) (*model.Persona, error) {
	persona, okPersona := r.store.personas[personaID]
	if !okPersona {
		return nil, gorm.ErrRecordNotFound
	}
	return persona, nil
}

func (r *fakePersonaRepo) FindByIDAndAuthor(personaID, authorID uint) (*model.Persona, error) {
	persona, err := r.FindByID(personaID)
	if err != nil || persona.AuthorID != authorID {
		return nil, gorm.ErrRecordNotFound
	}
	return persona, nil
}

func (r *fakePersonaRepo) FindAllByAuthor(authorID uint) ([]model.Persona, error) { return nil, nil }
func (r *fakePersonaRepo) Update(persona *model.Persona) error                    { return nil }
func (r *fakePersonaRepo) Delete(personaID, authorID uint) error                  { return nil }

type fakeUserRepo struct{ store *fakeStore }

func (r *fakeUserRepo) Create(user *model.User) error { return nil }

func (r *fakeUserRepo) FindByID(userID uint) (*model.User, error) {
	user, okUser := r.store.users[userID]
	if !okUser {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) FindByEmail(email string) (*model.User, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) FindDuplicate(email, phone, nickname string) (*model.User, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) Update(user *model.User) error                          { return nil }
func (r *fakeUserRepo) UpdateSafetyFilter(userID uint, enabled bool) error     { return nil }
func (r *fakeUserRepo) UpdateDefaultPersona(userID uint, personaID *uint) error { return nil }

// fakeLocker 记录加解锁调用，busy 为 true 时拒绝加锁。
type fakeLocker struct {
	busy     bool
	held     map[uint]bool
	unlocked []uint
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[uint]bool)}
}

func (l *fakeLocker) TryLock(ctx context.Context, chatID uint, ttl time.Duration) (bool, error) {
	if l.busy || l.held[chatID] {
		return false, nil
	}
	l.held[chatID] = true
	return true, nil
}

func (l *fakeLocker) Unlock(ctx context.Context, chatID uint) error {
	delete(l.held, chatID)
	l.unlocked = append(l.unlocked, chatID)
	return nil
}

// fakeLLM 返回固定回复并记录收到的消息序列。
type fakeLLM struct {
	reply        string
	err          error
	streamChunks []string
	seenMessages []llm.Message
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	f.seenMessages = messages
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeLLM) StreamChatMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, writer llm.MessageWriter) error {
	f.seenMessages = messages
	if f.err != nil {
		return f.err
	}
	for _, chunk := range f.streamChunks {
		if err := writer.WriteMessage(1, []byte(chunk)); err != nil {
			return err
		}
	}
	return nil
}

// chunkRecorder 收集流式下发的分块。
type chunkRecorder struct {
	chunks []string
}

func (r *chunkRecorder) WriteMessage(messageType int, data []byte) error {
	r.chunks = append(r.chunks, string(data))
	return nil
}

type chatFixture struct {
	store   *fakeStore
	locker  *fakeLocker
	llm     *fakeLLM
	service ChatService
}

func newChatFixture(cfg config.ChatConfig) *chatFixture {
	store := newFakeStore()
	locker := newFakeLocker()
	llmClient := &fakeLLM{reply: "模型回复"}
	svc := NewChatService(store, store, &fakePersonaRepo{store}, &fakeUserRepo{store}, locker, llmClient, cfg)
	return &chatFixture{store: store, locker: locker, llm: llmClient, service: svc}
}

func (f *chatFixture) seedUser(id uint) *model.User {
	user := &model.User{ID: id, Nickname: fmt.Sprintf("user-%d", id), SafetyFilter: true}
	f.store.users[id] = user
	return user
}

func (f *chatFixture) seedCharacter(id uint) *model.Character {
	character := &model.Character{ID: id, AuthorID: 99, Name: "角色", SystemTemplate: "模板"}
	f.store.characters[id] = character
	return character
}

func TestFindOrCreateCreatesWhenNoneExists(t *testing.T) {
	f := newChatFixture(config.ChatConfig{})
	f.seedUser(1)
	f.seedCharacter(10)

	session, err := f.service.FindOrCreate(context.Background(), 1, 10, 0, false)

	require.NoError(t, err)
	assert.NotZero(t, session.Chat.ID)
	assert.Equal(t, uint(1), session.Chat.UserID)
	assert.Equal(t, uint(10), session.Chat.CharacterID)
	assert.Empty(t, session.Messages)
}

func TestFindOrCreateReusesLatestSession(t *testing.T) {
	f := newChatFixture(config.ChatConfig{})
	f.seedUser(1)
	f.seedCharacter(10)

	first, err := f.service.FindOrCreate(context.Background(), 1, 10, 0, false)
	require.NoError(t, err)
	second, err := f.service.FindOrCreate(context.Background(), 1, 10, 0, false)
	require.NoError(t, err)

	assert.Equal(t, first.Chat.ID, second.Chat.ID)
	assert.Len(t, f.store.chats, 1)
}

func TestFindOrCreateForceCreateAlwaysCreates(t *testing.T) {
	f := newChatFixture(config.ChatConfig{})
	f.seedUser(1)
	f.seedCharacter(10)

	first, err := f.service.FindOrCreate(context.Background(), 1, 10, 0, false)
	require.NoError(t, err)
	second, err := f.service.FindOrCreate(context.Background(), 1, 10, 0, true)
	require.NoError(t, err)

	assert.NotEqual(t, first.Chat.ID, second.Chat.ID)
	assert.Empty(t, second.Messages)
}

func TestFindOrCreateExplicitIDReturnsHistory(t *testing.T) {
	f := newChatFixture(config.ChatConfig{})
	f.seedUser(1)
	f.seedCharacter(10)

	created, err := f.service.FindOrCreate(context.Background(), 1, 10, 0, false)
	require.NoError(t, err)
	require.NoError(t, f.store.AppendTurn(created.Chat.ID, "你好", "回复", 0))

	session, err := f.service.FindOrCreate(context.Background(), 1, 10, created.Chat.ID, false)

	require.NoError(t, err)
	assert.Equal(t, created.Chat.ID, session.Chat.ID)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, model.RoleUser, session.Messages[0].Role)
	assert.Equal(t, model.RoleModel, session.Messages[1].Role)
}

func TestFindOrCreateForeignChatIDFallsBack(t *testing.T) {
	f := newChatFixture(config.ChatConfig{})
	f.seedUser(1)
	f.seedUser(2)
	f.seedCharacter(10)

	other, err := f.service.FindOrCreate(context.Background(), 2, 10, 0, false)
	require.NoError(t, err)

	// 指定他人的会话 ID：不报错，落到默认路径新建
	session, err := f.service.FindOrCreate(context.Background(), 1, 10, other.Chat.ID, false)

	require.NoError(t, err)
	assert.NotEqual(t, other.Chat.ID, session.Chat.ID)
	assert.Equal(t, uint(1), session.Chat.UserID)
}

func TestFindOrCreateUnknownCharacter(t *testing.T) {
	f := newChatFixture(config.ChatConfig{})
	f.seedUser(1)

	_, err := f.service.FindOrCreate(context.Background(), 1, 404, 0, false)

	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.Code(err))
}

func TestSendMessagePersistsTurnInOrder(t *testing.T) {
	f := newChatFixture(config.ChatConfig{})
	f.seedUser(1)
	f.seedCharacter(10)
	session, err := f.service.FindOrCreate(context.Background(), 1, 10, 0, false)
	require.NoError(t, err)

	reply, err := f.service.SendMessage(context.Background(), 1, session.Chat.ID, "你好", nil)

	require.NoError(t, err)
	assert.Equal(t, "模型回复", reply)

	msgs := f.store.messages[session.Chat.ID]
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "你好", msgs[0].Content)
	assert.Equal(t, model.RoleModel, msgs[1].Role)
	assert.Equal(t, "模型回复", msgs[1].Content)
	assert.Contains(t, f.locker.unlocked, session.Chat.ID)
}

func TestSendMessageIncludesPersonaAndHistory(t *testing.T) {
	f := newChatFixture(config.ChatConfig{})
	user := f.seedUser(1)
	f.seedCharacter(10)

	personaID := uint(7)
	f.store.personas[personaID] = &model.Persona{ID: personaID, AuthorID: 1, Nickname: "阿和"}
	user.DefaultPersonaID = &personaID

	session, err := f.service.FindOrCreate(context.Background(), 1, 10, 0, false)
	require.NoError(t, err)
	require.NoError(t, f.store.AppendTurn(session.Chat.ID, "第一句", "第一答", 0))

	_, err = f.service.SendMessage(context.Background(), 1, session.Chat.ID, "第二句", nil)
	require.NoError(t, err)

	msgs := f.llm.seenMessages
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "阿和")
	assert.Contains(t, msgs[0].Content, "模板")
	assert.Equal(t, "第一句", msgs[1].Content)
	assert.Equal(t, "assistant", msgs[2].Role)
	assert.Equal(t, "第二句", msgs[3].Content)
}

func TestSendMessageEmptyReplyNotPersisted(t *testing.T) {
	f := newChatFixture(config.ChatConfig{})
	f.seedUser(1)
	f.seedCharacter(10)
	session, err := f.service.FindOrCreate(context.Background(), 1, 10, 0, false)
	require.NoError(t, err)

	f.llm.err = llm.ErrEmptyReply
	_, err = f.service.SendMessage(context.Background(), 1, session.Chat.ID, "你好", nil)

	require.Error(t, err)
	assert.Equal(t, apperr.CodeUpstreamEmpty, apperr.Code(err))
	assert.Empty(t, f.store.messages[session.Chat.ID])
	assert.Contains(t, f.locker.unlocked, session.Chat.ID)
}

func TestSendMessageUpstreamFailureNotPersisted(t *testing.T) {
	f := newChatFixture(config.ChatConfig{})
	f.seedUser(1)
	f.seedCharacter(10)
	session, err := f.service.FindOrCreate(context.Background(), 1, 10, 0, false)
	require.NoError(t, err)

	f.llm.err = errors.New("connection refused")
	_, err = f.service.SendMessage(context.Background(), 1, session.Chat.ID, "你好", nil)

	require.Error(t, err)
	assert.Equal(t, apperr.CodeUpstreamFailure, apperr.Code(err))
	assert.Empty(t, f.store.messages[session.Chat.ID])
}

func TestSendMessagePersistenceFailureSurfaced(t *testing.T) {
	f := newChatFixture(config.ChatConfig{})
	f.seedUser(1)
	f.seedCharacter(10)
	session, err := f.service.FindOrCreate(context.Background(), 1, 10, 0, false)
	require.NoError(t, err)

	f.store.appendErr = errors.New("deadlock found when trying to get lock")
	reply, err := f.service.SendMessage(context.Background(), 1, session.Chat.ID, "你好", nil)

	require.Error(t, err)
	assert.Equal(t, apperr.CodePersistence, apperr.Code(err))
	// 写入失败不得对外报成功，也不得留下半轮消息
	assert.Empty(t, reply)
	assert.Empty(t, f.store.messages[session.Chat.ID])
	assert.Contains(t, f.locker.unlocked, session.Chat.ID)
}

func TestSendMessageLockBusy(t *testing.T) {
	f := newChatFixture(config.ChatConfig{})
	f.seedUser(1)
	f.seedCharacter(10)
	session, err := f.service.FindOrCreate(context.Background(), 1, 10, 0, false)
	require.NoError(t, err)

	f.locker.busy = true
	_, err = f.service.SendMessage(context.Background(), 1, session.Chat.ID, "你好", nil)

	require.Error(t, err)
	assert.Equal(t, apperr.CodeConflict, apperr.Code(err))
	assert.Empty(t, f.store.messages[session.Chat.ID])
}

func TestSendMessageStaleObservedIDRejected(t *testing.T) {
	f := newChatFixture(config.ChatConfig{})
	f.seedUser(1)
	f.seedCharacter(10)
	session, err := f.service.FindOrCreate(context.Background(), 1, 10, 0, false)
	require.NoError(t, err)
	require.NoError(t, f.store.AppendTurn(session.Chat.ID, "旧消息", "旧回复", 0))

	stale := uint(0)
	_, err = f.service.SendMessage(context.Background(), 1, session.Chat.ID, "新消息", &stale)

	require.Error(t, err)
	assert.Equal(t, apperr.CodeConflict, apperr.Code(err))
	// 原有两条消息保持不变
	assert.Len(t, f.store.messages[session.Chat.ID], 2)
	assert.Contains(t, f.locker.unlocked, session.Chat.ID)
}

func TestSendMessageValidation(t *testing.T) {
	f := newChatFixture(config.ChatConfig{})
	f.seedUser(1)

	_, err := f.service.SendMessage(context.Background(), 1, 1, "   ", nil)
	assert.Equal(t, apperr.CodeValidation, apperr.Code(err))

	_, err = f.service.SendMessage(context.Background(), 1, 0, "你好", nil)
	assert.Equal(t, apperr.CodeValidation, apperr.Code(err))
}

func TestSendMessageForeignChatRejected(t *testing.T) {
	f := newChatFixture(config.ChatConfig{})
	f.seedUser(1)
	f.seedUser(2)
	f.seedCharacter(10)
	session, err := f.service.FindOrCreate(context.Background(), 2, 10, 0, false)
	require.NoError(t, err)

	_, err = f.service.SendMessage(context.Background(), 1, session.Chat.ID, "你好", nil)

	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.Code(err))
}

func TestStreamMessageCapturesAndPersists(t *testing.T) {
	f := newChatFixture(config.ChatConfig{})
	f.seedUser(1)
	f.seedCharacter(10)
	session, err := f.service.FindOrCreate(context.Background(), 1, 10, 0, false)
	require.NoError(t, err)

	f.llm.streamChunks = []string{"你", "好", "呀"}
	recorder := &chunkRecorder{}

	reply, err := f.service.StreamMessage(context.Background(), 1, session.Chat.ID, "打个招呼", recorder)

	require.NoError(t, err)
	assert.Equal(t, "你好呀", reply)
	assert.Equal(t, []string{"你", "好", "呀"}, recorder.chunks)

	msgs := f.store.messages[session.Chat.ID]
	require.Len(t, msgs, 2)
	assert.Equal(t, "你好呀", msgs[1].Content)
}

func TestStreamMessageEmptyStreamNotPersisted(t *testing.T) {
	f := newChatFixture(config.ChatConfig{})
	f.seedUser(1)
	f.seedCharacter(10)
	session, err := f.service.FindOrCreate(context.Background(), 1, 10, 0, false)
	require.NoError(t, err)

	f.llm.streamChunks = []string{"  "}
	recorder := &chunkRecorder{}

	_, err = f.service.StreamMessage(context.Background(), 1, session.Chat.ID, "打个招呼", recorder)

	require.Error(t, err)
	assert.Equal(t, apperr.CodeUpstreamEmpty, apperr.Code(err))
	assert.Empty(t, f.store.messages[session.Chat.ID])
}

func TestHistoryWindowAppliedPerTurn(t *testing.T) {
	f := newChatFixture(config.ChatConfig{MaxHistory: 2})
	f.seedUser(1)
	f.seedCharacter(10)
	session, err := f.service.FindOrCreate(context.Background(), 1, 10, 0, false)
	require.NoError(t, err)

	require.NoError(t, f.store.AppendTurn(session.Chat.ID, "一", "二", 0))
	require.NoError(t, f.store.AppendTurn(session.Chat.ID, "三", "四", 2))

	_, err = f.service.SendMessage(context.Background(), 1, session.Chat.ID, "五", nil)
	require.NoError(t, err)

	// 系统指令 + 窗口内 2 条历史 + 本轮消息
	msgs := f.llm.seenMessages
	require.Len(t, msgs, 4)
	assert.Equal(t, "三", msgs[1].Content)
	assert.Equal(t, "四", msgs[2].Content)
	assert.Equal(t, "五", msgs[3].Content)

	// 落库不受窗口影响，全量历史保留
	stored := f.store.messages[session.Chat.ID]
	assert.Len(t, stored, 6)
	var contents []string
	for _, m := range stored {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, "一 二 三 四 五 模型回复", strings.Join(contents, " "))
}
