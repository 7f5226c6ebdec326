package rag

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"baguette-chat-go/internal/model"
	"baguette-chat-go/pkg/log"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// normEpsilon 防止零向量归一化时除以零。
const normEpsilon = 1e-10

// ErrLengthMismatch 表示分块数量与向量数量不一致。
var ErrLengthMismatch = errors.New("chunks and embeddings length mismatch")

// ChunkRepository 是向量存储依赖的持久化能力。
type ChunkRepository interface {
	// StoreForDocument 在一个事务内替换文档的全部分块，并把文档标记为 ready。
	StoreForDocument(ctx context.Context, documentID, contentHash string, chunks []model.Chunk) error
	// ListForSearch 返回会话内的全部分块，documentID 非空时只返回该文档的分块。
	ListForSearch(ctx context.Context, conversationID, documentID string) ([]model.Chunk, error)
}

// RetrievedChunk 是一次查询命中的分块及其相似度。
type RetrievedChunk struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Text       string
	Metadata   map[string]any
	Similarity float64
}

// SearchOptions 控制一次向量检索。
type SearchOptions struct {
	TopK          int
	MinSimilarity float64
	// DocumentID 非空时只在该文档内检索。
	DocumentID string
}

// VectorStore 把分块向量存入关系库，并在会话范围内做暴力余弦检索。
type VectorStore struct {
	repo ChunkRepository
}

func NewVectorStore(repo ChunkRepository) *VectorStore {
	return &VectorStore{repo: repo}
}

// Store 为每个分块生成新 ID，序列化向量与元数据后整体写入，返回写入的行。
func (s *VectorStore) Store(ctx context.Context, documentID, contentHash string, chunks []Chunk, embeddings [][]float32) ([]model.Chunk, error) {
	if len(chunks) != len(embeddings) {
		return nil, fmt.Errorf("%w: %d chunks, %d embeddings", ErrLengthMismatch, len(chunks), len(embeddings))
	}

	rows := make([]model.Chunk, 0, len(chunks))
	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return nil, fmt.Errorf("序列化分块元数据失败: %w", err)
		}
		rows = append(rows, model.Chunk{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			ChunkIndex: c.Index,
			Text:       c.Text,
			Metadata:   datatypes.JSON(meta),
			Embedding:  EncodeEmbedding(embeddings[i]),
		})
	}

	if err := s.repo.StoreForDocument(ctx, documentID, contentHash, rows); err != nil {
		return nil, fmt.Errorf("写入分块失败: %w", err)
	}
	log.Infof("[VectorStore] 文档 %s 写入 %d 个分块", documentID, len(rows))
	return rows, nil
}

// Search 计算查询向量与范围内每个分块的余弦相似度，过滤低于阈值的结果并按相似度降序返回至多 TopK 个。
// 没有分块达到阈值但存在候选时，放宽阈值直接返回相似度最高的 TopK 个。
func (s *VectorStore) Search(ctx context.Context, query []float32, conversationID string, opts SearchOptions) ([]RetrievedChunk, error) {
	rows, err := s.repo.ListForSearch(ctx, conversationID, opts.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("加载分块失败: %w", err)
	}
	if len(rows) == 0 {
		return []RetrievedChunk{}, nil
	}

	q := normalize(query)
	candidates := make([]RetrievedChunk, 0, len(rows))
	for _, row := range rows {
		vec := DecodeEmbedding(row.Embedding)
		if len(vec) != len(q) {
			log.Warnf("[VectorStore] 分块 %s 的向量维度 %d 与查询维度 %d 不一致，跳过", row.ID, len(vec), len(q))
			continue
		}
		candidates = append(candidates, RetrievedChunk{
			ID:         row.ID,
			DocumentID: row.DocumentID,
			ChunkIndex: row.ChunkIndex,
			Text:       row.Text,
			Metadata:   decodeMetadata(row.Metadata),
			Similarity: dot(q, normalize(vec)),
		})
	}
	return rank(candidates, opts.TopK, opts.MinSimilarity), nil
}

func rank(candidates []RetrievedChunk, topK int, minSimilarity float64) []RetrievedChunk {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})

	passed := make([]RetrievedChunk, 0, len(candidates))
	for _, c := range candidates {
		if c.Similarity >= minSimilarity {
			passed = append(passed, c)
		}
	}
	if len(passed) == 0 && len(candidates) > 0 {
		log.Warnf("[VectorStore] 没有分块达到相似度阈值 %.2f，回退到最相似的 %d 个候选", minSimilarity, topK)
		passed = candidates
	}
	if topK > 0 && len(passed) > topK {
		passed = passed[:topK]
	}
	return passed
}

// CosineSimilarity 归一化两个向量后求点积。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	return dot(normalize(a), normalize(b))
}

func normalize(v []float32) []float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum) + normEpsilon
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x) / norm
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// EncodeEmbedding 把向量编码为小端序 float32 字节。
func EncodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// DecodeEmbedding 是 EncodeEmbedding 的逆操作，末尾不足 4 字节的部分被忽略。
func DecodeEmbedding(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func decodeMetadata(raw datatypes.JSON) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}
