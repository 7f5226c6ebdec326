package rag

import (
	"context"
	"fmt"
	"strings"

	"baguette-chat-go/pkg/log"
)

// RAGContext 是一次检索的结果：查询、命中的分块和格式化后的来源文本。
type RAGContext struct {
	Query   string
	Chunks  []RetrievedChunk
	Sources string
}

// Searcher 是检索器依赖的向量检索能力。
type Searcher interface {
	Search(ctx context.Context, query []float32, conversationID string, opts SearchOptions) ([]RetrievedChunk, error)
}

// Retriever 把查询向量化后在会话范围内检索，任何失败都降级为没有上下文。
type Retriever struct {
	embedder Embedder
	store    Searcher
}

func NewRetriever(embedder Embedder, store Searcher) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve 返回 nil 表示没有可用的上下文，调用方应继续不带 RAG 的生成。
func (r *Retriever) Retrieve(ctx context.Context, query, conversationID string, opts SearchOptions) *RAGContext {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		log.Warnf("[Retriever] 查询向量化失败，跳过检索: %v", err)
		return nil
	}
	chunks, err := r.store.Search(ctx, vec, conversationID, opts)
	if err != nil {
		log.Warnf("[Retriever] 向量检索失败，跳过检索: %v", err)
		return nil
	}
	if len(chunks) == 0 {
		log.Infof("[Retriever] 会话 %s 中没有可检索的分块", conversationID)
		return nil
	}

	log.Infof("[Retriever] 会话 %s 检索到 %d 个分块", conversationID, len(chunks))
	return &RAGContext{
		Query:   query,
		Chunks:  chunks,
		Sources: FormatSources(chunks),
	}
}

// FormatSources 按检索顺序把分块格式化为 <source_N> 标签块，N 从 1 开始。
func FormatSources(chunks []RetrievedChunk) string {
	blocks := make([]string, len(chunks))
	for i, c := range chunks {
		blocks[i] = fmt.Sprintf("<source_%d>%s</source_%d>", i+1, c.Text, i+1)
	}
	return strings.Join(blocks, "\n")
}
