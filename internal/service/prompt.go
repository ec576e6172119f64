// Package service 包含了应用的业务逻辑层。
package service

import (
	"fmt"
	"strings"

	"chara-chat-go/internal/config"
	"chara-chat-go/internal/model"
	"chara-chat-go/pkg/llm"
)

// 提示词各部分的内置默认值，均可被配置覆盖。
const (
	defaultPreamble = "请你扮演具有以下设定的角色，与用户进行角色扮演对话。" +
		"用户拥有自己的人物设定，请在对话中加以体现。"
	defaultNotConfiguredText = "未设置"
	defaultNoPersonaText     = "用户尚未配置人物设定。"
)

// promptAssembler 将角色模板、用户人物设定与会话历史组装为模型请求。
// 两个设定块各自独立可缺省：缺省时填入固定占位符而不是留空，
// 保证系统指令对缺失字段总是携带非空文本。
type promptAssembler struct {
	cfg config.ChatConfig
}

func newPromptAssembler(cfg config.ChatConfig) *promptAssembler {
	return &promptAssembler{cfg: cfg}
}

func (p *promptAssembler) preamble() string {
	if p.cfg.Preamble != "" {
		return p.cfg.Preamble
	}
	return defaultPreamble
}

func (p *promptAssembler) notConfigured() string {
	if p.cfg.NotConfiguredText != "" {
		return p.cfg.NotConfiguredText
	}
	return defaultNotConfiguredText
}

func (p *promptAssembler) orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return p.notConfigured()
	}
	return s
}

// characterBlock 构建角色自身的设定文本块。
func (p *promptAssembler) characterBlock(character *model.Character) string {
	var b strings.Builder
	b.WriteString("# 角色设定\n")
	b.WriteString(fmt.Sprintf("- 系统模板: %s\n", p.orPlaceholder(character.SystemTemplate)))
	b.WriteString(fmt.Sprintf("- 详细设定: %s\n", p.orPlaceholder(character.DetailSetting)))
	return b.String()
}

// personaBlock 构建用户人物设定文本块，persona 为 nil 时返回整段占位符。
func (p *promptAssembler) personaBlock(persona *model.Persona) string {
	if persona == nil {
		if p.cfg.NoPersonaText != "" {
			return p.cfg.NoPersonaText
		}
		return defaultNoPersonaText
	}

	age := p.notConfigured()
	if persona.Age != nil {
		age = fmt.Sprintf("%d", *persona.Age)
	}
	gender := p.notConfigured()
	if persona.Gender != nil && strings.TrimSpace(*persona.Gender) != "" {
		gender = *persona.Gender
	}

	var b strings.Builder
	b.WriteString("# 用户人物设定\n")
	b.WriteString(fmt.Sprintf("- 昵称: %s\n", p.orPlaceholder(persona.Nickname)))
	b.WriteString(fmt.Sprintf("- 年龄: %s\n", age))
	b.WriteString(fmt.Sprintf("- 性别: %s\n", gender))
	b.WriteString(fmt.Sprintf("- 详细信息: %s\n", p.orPlaceholder(persona.Description)))
	return b.String()
}

// SystemInstruction 组合引导语与双方设定块为单条系统指令。
func (p *promptAssembler) SystemInstruction(character *model.Character, persona *model.Persona) string {
	var b strings.Builder
	b.WriteString(p.preamble())
	b.WriteString("\n\n")
	b.WriteString(p.characterBlock(character))
	b.WriteString("\n")
	b.WriteString(p.personaBlock(persona))
	return b.String()
}

// Compose 将系统指令、历史与本轮用户消息组装为模型侧的消息序列。
// 历史严格按创建时间升序进入序列，本轮消息不属于历史、单独附在末尾。
// MaxHistory 大于 0 时仅保留最近的 MaxHistory 条历史。
func (p *promptAssembler) Compose(systemInstruction string, history []model.ChatMessage, userInput string) []llm.Message {
	if p.cfg.MaxHistory > 0 && len(history) > p.cfg.MaxHistory {
		history = history[len(history)-p.cfg.MaxHistory:]
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: systemInstruction})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: apiRole(m.Role), Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: userInput})
	return msgs
}

// apiRole 将持久化的消息角色映射为聊天接口的角色值。
func apiRole(role string) string {
	if role == model.RoleModel {
		return "assistant"
	}
	return "user"
}
