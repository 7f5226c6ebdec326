package service

import (
	"context"
	"errors"

	"baguette-chat-go/internal/model"
	"baguette-chat-go/internal/repository"
	"baguette-chat-go/internal/stream"
	"baguette-chat-go/pkg/log"

	"gorm.io/gorm"
)

// ModelService 提供模型配置和系统提示模板。
type ModelService interface {
	ListModels(ctx context.Context) ([]model.ModelConfig, error)
	ListTemplates(ctx context.Context) ([]model.SystemPromptTemplate, error)
	// Lookup 返回模型配置，未登记的模型返回 nil 和 controllable 行为。
	Lookup(ctx context.Context, modelName string) (*model.ModelConfig, stream.Behavior, error)
	// Seed 幂等地写入预置模型和模板。
	Seed(ctx context.Context) error
}

type modelService struct {
	repo repository.ModelConfigRepository
}

// NewModelService 创建一个新的 ModelService 实例。
func NewModelService(repo repository.ModelConfigRepository) ModelService {
	return &modelService{repo: repo}
}

func (s *modelService) ListModels(ctx context.Context) ([]model.ModelConfig, error) {
	return s.repo.List(ctx)
}

func (s *modelService) ListTemplates(ctx context.Context) ([]model.SystemPromptTemplate, error) {
	return s.repo.ListTemplates(ctx)
}

func (s *modelService) Lookup(ctx context.Context, modelName string) (*model.ModelConfig, stream.Behavior, error) {
	cfg, err := s.repo.FindByName(ctx, modelName)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("[ModelService] 模型 %s 未登记，使用 controllable 行为", modelName)
		return nil, stream.BehaviorControllable, nil
	}
	if err != nil {
		return nil, "", err
	}
	return cfg, stream.ParseBehavior(cfg.ThinkingBehavior), nil
}

func (s *modelService) Seed(ctx context.Context) error {
	n, err := s.repo.SeedModels(ctx, DefaultModels())
	if err != nil {
		return err
	}
	m, err := s.repo.SeedTemplates(ctx, DefaultTemplates())
	if err != nil {
		return err
	}
	log.Infof("[ModelService] 预置数据写入完成: 新增模型 %d 个, 新增模板 %d 个", n, m)
	return nil
}

func ptr[T any](v T) *T { return &v }

// DefaultModels 返回预置的模型配置。
func DefaultModels() []model.ModelConfig {
	return []model.ModelConfig{
		{
			ModelName: "PleIAs/Baguettotron", DisplayName: "Baguettotron",
			ThinkingBehavior: model.ThinkingControllable, ThinkingTags: "<think>",
			DefaultTemperature: ptr(0.7), DefaultMaxTokens: ptr(2048), MaxContextTokens: 8192, SupportsSystemPrompt: true,
		},
		{
			ModelName: "PleIAs/Monad", DisplayName: "Monad",
			ThinkingBehavior: model.ThinkingFixed, ThinkingTags: "<think>",
			DefaultTemperature: ptr(0.7), DefaultMaxTokens: ptr(2048), MaxContextTokens: 8192, SupportsSystemPrompt: true,
		},
		{
			ModelName: "meta-llama/Llama-2-7b-chat-hf", DisplayName: "Llama 2 7B",
			ThinkingBehavior: model.ThinkingNone,
			DefaultTemperature: ptr(0.7), DefaultMaxTokens: ptr(2048), MaxContextTokens: 4096, SupportsSystemPrompt: true,
		},
		{
			ModelName: "mistralai/Mistral-7B-Instruct-v0.1", DisplayName: "Mistral 7B",
			ThinkingBehavior: model.ThinkingNone,
			DefaultTemperature: ptr(0.7), DefaultMaxTokens: ptr(2048), MaxContextTokens: 8192, SupportsSystemPrompt: true,
		},
	}
}

// DefaultTemplates 返回预置的系统提示模板。
func DefaultTemplates() []model.SystemPromptTemplate {
	return []model.SystemPromptTemplate{
		{
			Name:        "Default Assistant",
			Description: "Friendly and helpful general-purpose assistant",
			Content:     "You are a helpful assistant who answers questions in a chat with a user. Be friendly, helpful and factual.",
			IsDefault:   true,
			Category:    "general",
		},
		{
			Name:        "Coding Assistant",
			Description: "Expert programming assistant",
			Content:     "You are an expert programming assistant. Provide clear, well-documented code examples. Explain your reasoning and suggest best practices.",
			Category:    "coding",
		},
		{
			Name:        "Creative Writer",
			Description: "Creative and imaginative writing assistant",
			Content:     "You are a creative writing assistant. Help users craft engaging stories, poems, and creative content. Be imaginative and expressive.",
			Category:    "creative",
		},
		{
			Name:        "Concise Expert",
			Description: "Direct and to-the-point responses",
			Content:     "You are a concise expert. Provide direct, accurate answers without unnecessary elaboration. Be precise and efficient.",
			Category:    "general",
		},
		{
			Name:        "Teacher",
			Description: "Patient educator who explains concepts clearly",
			Content:     "You are a patient teacher. Break down complex concepts into simple, understandable parts. Use examples and analogies to help users learn.",
			Category:    "education",
		},
	}
}
