// Package prompt 负责对话历史的 token 预算、Qwen 风格的 prompt 拼装以及生成参数解析。
package prompt

import (
	"fmt"
	"strings"

	"baguette-chat-go/internal/model"
)

// 角色分隔标记。
const (
	ImStart = "<|im_start|>"
	ImEnd   = "<|im_end|>"
)

// Message 是参与 prompt 拼装的一条消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Segment 将一条消息渲染为 `<|im_start|>{role}\n{content}<|im_end|>`。
func Segment(m Message) string {
	return fmt.Sprintf("%s%s\n%s%s", ImStart, m.Role, m.Content, ImEnd)
}

// SystemSegment 渲染系统提示，空提示返回空串。
func SystemSegment(systemPrompt string) string {
	if systemPrompt == "" {
		return ""
	}
	return Segment(Message{Role: model.RoleSystem, Content: systemPrompt})
}

func assistantPrefix(thinkingMode bool) string {
	if thinkingMode {
		return ImStart + model.RoleAssistant + "\n<think>\n"
	}
	return ImStart + model.RoleAssistant + "\n</think>\n"
}

// FormatPrompt 拼装系统提示、历史消息和助手前缀。
func FormatPrompt(history []Message, thinkingMode bool, systemPrompt string) string {
	segments := make([]string, 0, len(history)+2)
	if s := SystemSegment(systemPrompt); s != "" {
		segments = append(segments, s)
	}
	for _, m := range history {
		segments = append(segments, Segment(m))
	}
	segments = append(segments, assistantPrefix(thinkingMode))
	return strings.Join(segments, "\n")
}

// FormatPromptWithRAG 与 FormatPrompt 相同，但最后一条用户消息内嵌检索到的来源块。
// history 不包含当前用户消息。
func FormatPromptWithRAG(history []Message, thinkingMode bool, systemPrompt, sources, userMessage string) string {
	current := Message{Role: model.RoleUser, Content: userMessage + "\n" + sources}
	withCurrent := make([]Message, 0, len(history)+1)
	withCurrent = append(withCurrent, history...)
	withCurrent = append(withCurrent, current)
	return FormatPrompt(withCurrent, thinkingMode, systemPrompt)
}
