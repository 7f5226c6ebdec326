// Package pipeline 定义了文档摄取的核心流程：下载、抽取、去重、分块、向量化、持久化。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"baguette-chat-go/internal/events"
	"baguette-chat-go/internal/model"
	"baguette-chat-go/internal/rag"
	"baguette-chat-go/pkg/log"
	"baguette-chat-go/pkg/tasks"
	"baguette-chat-go/pkg/workers"

	"gorm.io/gorm"
)

// 流水线阶段，用于错误归属和日志。
const (
	StageReceived   = "received"
	StageExtracting = "extracting"
	StageChunking   = "chunking"
	StageEmbedding  = "embedding"
	StagePersisting = "persisting"
)

// 跳过向量化的原因。
const (
	SkipNoEmbeddingGenerator = "no_embedding_generator"
	SkipNoChunks             = "no_chunks"
)

// StageError 表示某个阶段失败，文档已被标记为 failed 并广播了 failed 事件。
type StageError struct {
	Stage      string
	DocumentID string
	Err        error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("document %s failed at %s: %v", e.DocumentID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IsTerminal 判断错误是否为已记录到文档上的阶段失败，这类错误不应重试。
func IsTerminal(err error) bool {
	var se *StageError
	return errors.As(err, &se)
}

// DocumentStore 是流水线对文档记录的读写能力。
type DocumentStore interface {
	FindByID(ctx context.Context, id string) (*model.Document, error)
	FindReadyByHash(ctx context.Context, conversationID, contentHash, excludeID string) (*model.Document, error)
	MarkReady(ctx context.Context, id string, chunkCount int, contentHash string) error
	MarkFailed(ctx context.Context, id, message string) error
	ListStaleProcessing(ctx context.Context, before time.Time) ([]model.Document, error)
}

// ObjectFetcher 把上传的原件下载到本地文件。
type ObjectFetcher interface {
	Download(ctx context.Context, objectName, destPath string) error
}

// Extractor 抽取文本与结构。
type Extractor interface {
	Process(ctx context.Context, path, filename string) (*rag.Processed, error)
}

// DocumentChunker 对抽取结果分块。
type DocumentChunker interface {
	ChunkDocument(doc *rag.Processed) ([]rag.Chunk, error)
}

// ChunkWriter 写入分块并把文档标记为 ready。
type ChunkWriter interface {
	Store(ctx context.Context, documentID, contentHash string, chunks []rag.Chunk, embeddings [][]float32) ([]model.Chunk, error)
}

// KeywordIndexer 把分块镜像到关键词索引。
type KeywordIndexer interface {
	IndexChunks(ctx context.Context, docs []model.ChunkIndexDoc) error
}

// Broadcaster 发布阶段事件。
type Broadcaster interface {
	Broadcast(documentID string, event events.Event)
}

// Locker 保证同一文档不会被并发摄取。
type Locker interface {
	AcquireLock(ctx context.Context, documentID string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, documentID string) error
}

// Deps 是 Processor 的依赖。Embedder、Keyword、Locker 和两个协程池可以为空。
type Deps struct {
	Documents   DocumentStore
	Objects     ObjectFetcher
	Extractor   Extractor
	Chunker     DocumentChunker
	Embedder    rag.Embedder
	Store       ChunkWriter
	Keyword     KeywordIndexer
	Bus         Broadcaster
	Locker      Locker
	ExtractPool *workers.Pool
	EmbedPool   *workers.Pool
	// LockTTL 摄取锁的过期时间，应不小于单个文档的最长处理时间。
	LockTTL time.Duration
}

// Processor 封装了文档摄取的所有依赖和逻辑。
type Processor struct {
	Deps
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(deps Deps) *Processor {
	if deps.LockTTL <= 0 {
		deps.LockTTL = 30 * time.Minute
	}
	return &Processor{Deps: deps}
}

// Process 是文档摄取的主函数。阶段失败时文档被标记为 failed，并返回 *StageError。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentTask) error {
	if p.Locker != nil {
		ok, err := p.Locker.AcquireLock(ctx, task.DocumentID, p.LockTTL)
		if err != nil {
			return err
		}
		if !ok {
			log.Warnf("[Pipeline] 文档 %s 正在被其他 worker 处理，跳过", task.DocumentID)
			return nil
		}
		defer func() {
			if err := p.Locker.ReleaseLock(context.WithoutCancel(ctx), task.DocumentID); err != nil {
				log.Warnf("[Pipeline] 释放文档 %s 的摄取锁失败: %v", task.DocumentID, err)
			}
		}()
	}

	doc, err := p.Documents.FindByID(ctx, task.DocumentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("[Pipeline] 文档 %s 已不存在，任务丢弃", task.DocumentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("加载文档 %s 失败: %w", task.DocumentID, err)
	}
	if doc.Status != model.DocumentProcessing {
		log.Infof("[Pipeline] 文档 %s 状态为 %s，无需再次处理", task.DocumentID, doc.Status)
		return nil
	}

	start := time.Now()
	log.Infof("[Pipeline] 开始处理文档 %s (%s), 会话: %s", task.DocumentID, task.FileName, task.ConversationID)
	p.emit(task, events.TypeProcessingStarted, events.Event{"filename": task.FileName})

	if err := p.run(ctx, task); err != nil {
		return p.fail(ctx, task, err)
	}
	log.Infof("[Pipeline] 文档 %s 处理完成，耗时 %s", task.DocumentID, time.Since(start))
	return nil
}

func (p *Processor) run(ctx context.Context, task tasks.DocumentTask) error {
	// 1. 下载原件并抽取文本
	log.Infof("[Pipeline] 步骤1/4: 下载并抽取文本, Object: %s", task.ObjectName)
	processed, err := p.extract(ctx, task)
	if err != nil {
		return &StageError{Stage: StageExtracting, DocumentID: task.DocumentID, Err: err}
	}
	charCount := utf8.RuneCountInString(processed.Text)
	log.Infof("[Pipeline] 步骤1/4: 抽取完成, %d 字符, %d 张表", charCount, len(processed.Tables))
	p.emit(task, events.TypeDoclingDone, events.Event{
		"char_count":  charCount,
		"table_count": len(processed.Tables),
	})

	// 同一会话内内容相同的就绪文档直接复用
	existing, err := p.Documents.FindReadyByHash(ctx, task.ConversationID, processed.ContentHash, task.DocumentID)
	switch {
	case err == nil:
		log.Infof("[Pipeline] 检测到重复文档: %s (%s)，跳过分块和向量化", existing.Filename, existing.ID)
		if err := p.Documents.MarkReady(ctx, task.DocumentID, existing.ChunkCount, processed.ContentHash); err != nil {
			return &StageError{Stage: StagePersisting, DocumentID: task.DocumentID, Err: err}
		}
		p.emit(task, events.TypePersisted, events.Event{
			"status":      model.DocumentReady,
			"chunk_count": existing.ChunkCount,
		})
		return nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return &StageError{Stage: StageExtracting, DocumentID: task.DocumentID, Err: fmt.Errorf("查询重复文档失败: %w", err)}
	}

	// 2. 分块
	chunks, err := p.Chunker.ChunkDocument(processed)
	if err != nil {
		return &StageError{Stage: StageChunking, DocumentID: task.DocumentID, Err: err}
	}
	log.Infof("[Pipeline] 步骤2/4: 分块完成, 共 %d 块", len(chunks))
	p.emit(task, events.TypeChunkingDone, events.Event{"chunk_count": len(chunks)})

	// 3. 向量化
	embeddings, err := p.embed(ctx, task, chunks)
	if err != nil {
		return &StageError{Stage: StageEmbedding, DocumentID: task.DocumentID, Err: err}
	}

	// 4. 持久化
	rows, err := p.Store.Store(ctx, task.DocumentID, processed.ContentHash, chunks, embeddings)
	if err != nil {
		return &StageError{Stage: StagePersisting, DocumentID: task.DocumentID, Err: err}
	}
	log.Infof("[Pipeline] 步骤4/4: 持久化完成, status=ready, chunks=%d", len(rows))
	p.emit(task, events.TypePersisted, events.Event{
		"status":      model.DocumentReady,
		"chunk_count": len(rows),
	})

	p.mirror(ctx, task, rows)
	return nil
}

func (p *Processor) extract(ctx context.Context, task tasks.DocumentTask) (*rag.Processed, error) {
	dir, err := os.MkdirTemp("", "baguette-ingest-*")
	if err != nil {
		return nil, fmt.Errorf("创建临时目录失败: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "source"+strings.ToLower(filepath.Ext(task.FileName)))
	if err := p.Objects.Download(ctx, task.ObjectName, path); err != nil {
		return nil, err
	}

	var processed *rag.Processed
	err = runIn(ctx, p.ExtractPool, func() error {
		var err error
		processed, err = p.Extractor.Process(ctx, path, task.FileName)
		return err
	})
	return processed, err
}

func (p *Processor) embed(ctx context.Context, task tasks.DocumentTask, chunks []rag.Chunk) ([][]float32, error) {
	if p.Embedder == nil || len(chunks) == 0 {
		reason := SkipNoEmbeddingGenerator
		if p.Embedder != nil {
			reason = SkipNoChunks
		}
		log.Warnf("[Pipeline] 步骤3/4: 跳过向量化, reason=%s", reason)
		p.emit(task, events.TypeEmbeddingSkipped, events.Event{"reason": reason})
		// 没有向量的分块仍然落库，检索时因维度不符被跳过
		return make([][]float32, len(chunks)), nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	var embeddings [][]float32
	err := runIn(ctx, p.EmbedPool, func() error {
		var err error
		embeddings, err = p.Embedder.EmbedBatch(ctx, texts)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Pipeline] 步骤3/4: 向量化完成, 共 %d 个向量", len(embeddings))
	p.emit(task, events.TypeEmbeddingDone, events.Event{"vector_count": len(embeddings)})
	return embeddings, nil
}

// mirror 把分块写入关键词索引，失败只记录日志。
func (p *Processor) mirror(ctx context.Context, task tasks.DocumentTask, rows []model.Chunk) {
	if p.Keyword == nil || len(rows) == 0 {
		return
	}
	docs := make([]model.ChunkIndexDoc, len(rows))
	for i, r := range rows {
		docs[i] = model.ChunkIndexDoc{
			ChunkID:        r.ID,
			DocumentID:     task.DocumentID,
			ConversationID: task.ConversationID,
			Filename:       task.FileName,
			ChunkIndex:     r.ChunkIndex,
			Text:           r.Text,
		}
	}
	if err := p.Keyword.IndexChunks(ctx, docs); err != nil {
		log.Warnf("[Pipeline] 文档 %s 镜像到关键词索引失败: %v", task.DocumentID, err)
	}
}

func (p *Processor) fail(ctx context.Context, task tasks.DocumentTask, err error) error {
	log.Errorf("[Pipeline] 处理文档 %s 失败: %v", task.DocumentID, err)
	message := err.Error()
	var se *StageError
	if errors.As(err, &se) {
		message = se.Err.Error()
	} else {
		err = &StageError{Stage: StageReceived, DocumentID: task.DocumentID, Err: err}
	}

	if markErr := p.Documents.MarkFailed(context.WithoutCancel(ctx), task.DocumentID, message); markErr != nil {
		log.Errorf("[Pipeline] 标记文档 %s 失败状态时出错: %v", task.DocumentID, markErr)
	}
	p.emit(task, events.TypeFailed, events.Event{"error": message})
	return err
}

// ReapStale 把超过 olderThan 仍处于 processing 的文档标记为失败，返回处理的数量。
func (p *Processor) ReapStale(ctx context.Context, olderThan time.Duration) (int, error) {
	docs, err := p.Documents.ListStaleProcessing(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	for _, d := range docs {
		task := tasks.DocumentTask{DocumentID: d.ID, ConversationID: d.ConversationID, FileName: d.Filename}
		if err := p.Documents.MarkFailed(ctx, d.ID, "processing timed out"); err != nil {
			log.Errorf("[Pipeline] 标记超时文档 %s 失败: %v", d.ID, err)
			continue
		}
		p.emit(task, events.TypeFailed, events.Event{"error": "processing timed out"})
	}
	if len(docs) > 0 {
		log.Warnf("[Pipeline] %d 个文档处理超时，已标记为 failed", len(docs))
	}
	return len(docs), nil
}

func (p *Processor) emit(task tasks.DocumentTask, typ string, fields events.Event) {
	if p.Bus == nil {
		return
	}
	ev := events.Event{
		"type":            typ,
		"document_id":     task.DocumentID,
		"conversation_id": task.ConversationID,
	}
	for k, v := range fields {
		ev[k] = v
	}
	p.Bus.Broadcast(task.DocumentID, ev)
}

// runIn 在协程池中执行 fn，pool 为空时直接执行。
func runIn(ctx context.Context, pool *workers.Pool, fn func() error) error {
	if pool == nil {
		return fn()
	}
	return pool.Do(ctx, fn)
}
