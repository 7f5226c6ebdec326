package service

import (
	"context"
	"unicode/utf8"

	"baguette-chat-go/internal/model"
	"baguette-chat-go/internal/repository"
)

// MaxSystemPromptLength 系统提示的最大字符数。
const MaxSystemPromptLength = 4000

// ClientUpdate 是客户端设置的部分更新，nil 字段保持不变。
type ClientUpdate struct {
	SystemPrompt      *string  `json:"system_prompt" binding:"omitempty,max=4000"`
	Temperature       *float64 `json:"temperature" binding:"omitempty,gte=0,lte=2"`
	TopP              *float64 `json:"top_p" binding:"omitempty,gte=0,lte=1"`
	TopK              *int     `json:"top_k" binding:"omitempty,gte=1,lte=100"`
	RepetitionPenalty *float64 `json:"repetition_penalty" binding:"omitempty,gte=1,lte=2"`
	DoSample          *bool    `json:"do_sample"`
	MaxTokens         *int     `json:"max_tokens" binding:"omitempty,gte=100,lte=4096"`
}

// Validate 检查各字段的取值范围。
func (u ClientUpdate) Validate() error {
	if u.SystemPrompt != nil && utf8.RuneCountInString(*u.SystemPrompt) > MaxSystemPromptLength {
		return validationErrorf("System prompt exceeds maximum length of %d characters", MaxSystemPromptLength)
	}
	if u.Temperature != nil && (*u.Temperature < 0 || *u.Temperature > 2) {
		return validationErrorf("temperature must be between 0 and 2")
	}
	if u.TopP != nil && (*u.TopP < 0 || *u.TopP > 1) {
		return validationErrorf("top_p must be between 0 and 1")
	}
	if u.TopK != nil && (*u.TopK < 1 || *u.TopK > 100) {
		return validationErrorf("top_k must be between 1 and 100")
	}
	if u.RepetitionPenalty != nil && (*u.RepetitionPenalty < 1 || *u.RepetitionPenalty > 2) {
		return validationErrorf("repetition_penalty must be between 1 and 2")
	}
	if u.MaxTokens != nil && (*u.MaxTokens < 100 || *u.MaxTokens > 4096) {
		return validationErrorf("max_tokens must be between 100 and 4096")
	}
	return nil
}

// ClientService 定义了客户端相关的业务操作。
type ClientService interface {
	// GetOrCreate 按指纹获取客户端，首次出现时创建。
	GetOrCreate(ctx context.Context, fingerprint string) (*model.Client, error)
	Get(ctx context.Context, fingerprint string) (*model.Client, error)
	Update(ctx context.Context, fingerprint string, update ClientUpdate) (*model.Client, error)
}

type clientService struct {
	repo repository.ClientRepository
}

// NewClientService 创建一个新的 ClientService 实例。
func NewClientService(repo repository.ClientRepository) ClientService {
	return &clientService{repo: repo}
}

func (s *clientService) GetOrCreate(ctx context.Context, fingerprint string) (*model.Client, error) {
	return s.repo.GetOrCreate(ctx, fingerprint)
}

func (s *clientService) Get(ctx context.Context, fingerprint string) (*model.Client, error) {
	client, err := s.repo.FindByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, notFoundAs(err, ErrNotFound)
	}
	return client, nil
}

func (s *clientService) Update(ctx context.Context, fingerprint string, update ClientUpdate) (*model.Client, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	client, err := s.Get(ctx, fingerprint)
	if err != nil {
		return nil, err
	}

	if update.SystemPrompt != nil {
		client.SystemPrompt = update.SystemPrompt
	}
	if update.Temperature != nil {
		client.Temperature = update.Temperature
	}
	if update.TopP != nil {
		client.TopP = update.TopP
	}
	if update.TopK != nil {
		client.TopK = update.TopK
	}
	if update.RepetitionPenalty != nil {
		client.RepetitionPenalty = update.RepetitionPenalty
	}
	if update.DoSample != nil {
		client.DoSample = update.DoSample
	}
	if update.MaxTokens != nil {
		client.MaxTokens = update.MaxTokens
	}

	if err := s.repo.Update(ctx, client); err != nil {
		return nil, err
	}
	return client, nil
}
