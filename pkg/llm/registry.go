package llm

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"baguette-chat-go/internal/config"
	"baguette-chat-go/pkg/log"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Registry 是进程级的 模型名 -> 客户端 缓存。首次使用时创建，运行期间不淘汰。
type Registry struct {
	mu         sync.Mutex
	clients    map[string]Client
	cfg        config.LLMConfig
	httpClient *http.Client
	tokenCache *expirable.LRU[string, int]
}

// NewRegistry 根据 llm 配置创建注册表。
func NewRegistry(cfg config.LLMConfig) *Registry {
	size := cfg.TokenCacheSize
	if size <= 0 {
		size = 2048
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Registry{
		clients:    make(map[string]Client),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		tokenCache: expirable.NewLRU[string, int](size, nil, time.Hour),
	}
}

// Get 返回模型对应的客户端。配置了 base_url 覆盖的模型走各自的后端，其余走默认后端。
func (r *Registry) Get(model string) Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[model]; ok {
		return c
	}

	baseURL, apiKey := r.cfg.BaseURL, r.cfg.APIKey
	for _, m := range r.cfg.Models {
		if m.Name != model {
			continue
		}
		if m.BaseURL != "" {
			baseURL = m.BaseURL
		}
		if m.APIKey != "" {
			apiKey = m.APIKey
		}
		break
	}

	c := &completionClient{
		model:      model,
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: r.httpClient,
		tokenCache: r.tokenCache,
	}
	r.clients[model] = c
	log.Infof("[LLMRegistry] 注册模型客户端: %s -> %s", model, baseURL)
	return c
}

// Warmup 通过一次 tokenize 调用确认模型后端可用。
func (r *Registry) Warmup(ctx context.Context, model string) error {
	if _, err := r.Get(model).CountTokens(ctx, "warmup"); err != nil {
		return fmt.Errorf("预热模型 %s 失败: %w", model, err)
	}
	log.Infof("[LLMRegistry] 模型 %s 预热完成", model)
	return nil
}
