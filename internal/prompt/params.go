package prompt

import "baguette-chat-go/internal/model"

// 生成参数的兜底值。
const (
	FallbackRepetitionPenalty = 1.1
	FallbackMaxNewTokens      = 2048
	FallbackTemperature       = 0.7
	FallbackTopP              = 0.9
	FallbackTopK              = 50
)

// GenerationParams 是一次生成调用的采样参数。
// Temperature/TopP/TopK 只在 DoSample 为 true 时有值。
type GenerationParams struct {
	DoSample          bool     `json:"do_sample"`
	RepetitionPenalty float64  `json:"repetition_penalty"`
	MaxNewTokens      int      `json:"max_new_tokens"`
	Temperature       *float64 `json:"temperature,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
}

// ResolveGenerationParams 按 客户端覆盖 > 模型默认 > 兜底值 三级解析生成参数。
// modelConfig 可以为 nil。
func ResolveGenerationParams(client *model.Client, modelConfig *model.ModelConfig) GenerationParams {
	if client == nil {
		client = &model.Client{}
	}

	p := GenerationParams{
		DoSample:          valueOr(client.DoSample, false),
		RepetitionPenalty: valueOr(client.RepetitionPenalty, FallbackRepetitionPenalty),
	}

	maxTokens := FallbackMaxNewTokens
	if modelConfig != nil && modelConfig.DefaultMaxTokens != nil {
		maxTokens = *modelConfig.DefaultMaxTokens
	}
	p.MaxNewTokens = valueOr(client.MaxTokens, maxTokens)

	if !p.DoSample {
		return p
	}

	temperature := FallbackTemperature
	if modelConfig != nil && modelConfig.DefaultTemperature != nil {
		temperature = *modelConfig.DefaultTemperature
	}
	temperature = valueOr(client.Temperature, temperature)
	topP := valueOr(client.TopP, FallbackTopP)
	topK := valueOr(client.TopK, FallbackTopK)

	p.Temperature = &temperature
	p.TopP = &topP
	p.TopK = &topK
	return p
}

func valueOr[T any](v *T, fallback T) T {
	if v == nil {
		return fallback
	}
	return *v
}
