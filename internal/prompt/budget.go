package prompt

import (
	"context"
	"fmt"

	"baguette-chat-go/pkg/log"
)

// TokenCounter 统计一段文本的 token 数。
type TokenCounter interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// CountMessageTokens 统计一条消息渲染为分段后的 token 数。
func CountMessageTokens(ctx context.Context, counter TokenCounter, m Message) (int, error) {
	return counter.CountTokens(ctx, Segment(m))
}

// CountSystemPromptTokens 统计系统提示分段的 token 数，空提示为 0。
func CountSystemPromptTokens(ctx context.Context, counter TokenCounter, systemPrompt string) (int, error) {
	if systemPrompt == "" {
		return 0, nil
	}
	return counter.CountTokens(ctx, SystemSegment(systemPrompt))
}

// TruncateHistory 从最新消息向前保留能放入 maxTokens-systemTokens 预算的消息。
// 最新的一条消息总会保留，即使它单独就超出预算。
func TruncateHistory(ctx context.Context, messages []Message, counter TokenCounter, maxTokens, systemTokens int) ([]Message, error) {
	if len(messages) == 0 {
		return messages, nil
	}
	available := maxTokens - systemTokens

	total := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		n, err := CountMessageTokens(ctx, counter, messages[i])
		if err != nil {
			return nil, fmt.Errorf("统计消息 token 失败: %w", err)
		}
		if start < len(messages) && total+n > available {
			break
		}
		total += n
		start = i
	}

	if start > 0 {
		log.Warnf("[Budget] 截断对话历史: 保留 %d 条, 丢弃 %d 条", len(messages)-start, start)
	}
	return messages[start:], nil
}
