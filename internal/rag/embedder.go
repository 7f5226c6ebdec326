package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"baguette-chat-go/internal/config"
	"baguette-chat-go/pkg/embedding"
	"baguette-chat-go/pkg/log"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Embedder 是文本到向量的映射能力，批量结果与输入一一对应且保持顺序。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator 在 embedding 后端之前加一层按内容哈希的 LRU 缓存，并按 BatchSize 分批请求。
// 整个进程共享一个实例。
type Generator struct {
	client    embedding.Client
	model     string
	batchSize int
	cache     *expirable.LRU[string, []float32]

	mu  sync.Mutex
	dim int
}

// NewGenerator 创建向量生成器。CacheSize 或 CacheTTL 不大于 0 时不启用缓存。
func NewGenerator(client embedding.Client, cfg config.EmbeddingConfig) *Generator {
	g := &Generator{
		client:    client,
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
	}
	if g.batchSize <= 0 {
		g.batchSize = 32
	}
	if cfg.CacheSize > 0 && cfg.CacheTTL > 0 {
		g.cache = expirable.NewLRU[string, []float32](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return g
}

func (g *Generator) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(g.model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Embed 生成单条文本的向量。
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 批量生成向量，命中缓存的文本不会再请求后端。
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	var missing []int
	for i, t := range texts {
		if g.cache != nil {
			if v, ok := g.cache.Get(g.cacheKey(t)); ok {
				out[i] = cloneVector(v)
				continue
			}
		}
		missing = append(missing, i)
	}
	if hits := len(texts) - len(missing); hits > 0 {
		log.Debugf("[Embedding] 缓存命中 %d/%d", hits, len(texts))
	}

	for start := 0; start < len(missing); start += g.batchSize {
		end := start + g.batchSize
		if end > len(missing) {
			end = len(missing)
		}
		idx := missing[start:end]
		batch := make([]string, len(idx))
		for j, i := range idx {
			batch[j] = texts[i]
		}

		vectors, err := g.client.CreateEmbeddings(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("生成向量失败 (批次 %d-%d): %w", start, end, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("向量数量 %d 与输入数量 %d 不一致", len(vectors), len(batch))
		}
		for j, i := range idx {
			out[i] = vectors[j]
			if g.cache != nil {
				g.cache.Add(g.cacheKey(texts[i]), cloneVector(vectors[j]))
			}
		}
	}

	g.rememberDimension(out[0])
	return out, nil
}

func (g *Generator) rememberDimension(v []float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dim == 0 && len(v) > 0 {
		g.dim = len(v)
	}
}

// Dimension 返回模型的向量维度，首次调用时用一条探测文本确定。
func (g *Generator) Dimension(ctx context.Context) (int, error) {
	g.mu.Lock()
	dim := g.dim
	g.mu.Unlock()
	if dim > 0 {
		return dim, nil
	}
	if _, err := g.Embed(ctx, "dimension probe"); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dim, nil
}

func cloneVector(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
