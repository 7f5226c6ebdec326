package rag

import (
	"errors"
	"strings"

	"baguette-chat-go/pkg/log"
)

// ErrEmptyDocument 表示抽取结果为空或只有空白，文档在分块前被拒绝。
var ErrEmptyDocument = errors.New("document has no text content to chunk")

// Chunk 是分块器的输出，Text 已带有文件名前缀。
type Chunk struct {
	Text     string
	Index    int
	Metadata map[string]any
}

// Chunker 在结构感知分块和递归分隔分块之间选择。
type Chunker struct {
	splitter   *RecursiveSplitter
	structured *MarkdownChunker
}

// NewChunker 创建分块器，separators 为空时使用 DefaultSeparators。
func NewChunker(chunkSize, chunkOverlap int, separators []string) *Chunker {
	splitter := NewRecursiveSplitter(chunkSize, chunkOverlap, separators)
	return &Chunker{
		splitter:   splitter,
		structured: NewMarkdownChunker(chunkSize, splitter),
	}
}

// ChunkDocument 对处理结果分块。存在 Markdown 结构句柄时走结构感知路径，否则按分隔符递归切分。
func (c *Chunker) ChunkDocument(doc *Processed) ([]Chunk, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return nil, ErrEmptyDocument
	}

	type piece struct {
		text  string
		extra map[string]any
	}
	var pieces []piece

	if strings.TrimSpace(doc.Markdown) != "" {
		for _, sc := range c.structured.Chunk(doc.Markdown) {
			extra := map[string]any{"chunking": "structure_aware"}
			if len(sc.Headings) > 0 {
				extra["headings"] = sc.Headings
			}
			if sc.HasTable {
				extra["contains_table"] = true
			}
			if sc.HasCode {
				extra["contains_code"] = true
			}
			pieces = append(pieces, piece{text: sc.Text, extra: extra})
		}
		if len(pieces) == 0 {
			log.Warnf("[Chunker] 结构感知分块没有产出任何块，回退到递归分隔: %s", doc.Filename)
		}
	}
	if len(pieces) == 0 {
		for _, text := range c.splitter.Split(doc.Text) {
			pieces = append(pieces, piece{text: text, extra: map[string]any{"chunking": "recursive"}})
		}
	}

	chunks := make([]Chunk, 0, len(pieces))
	prefix := "Document: " + doc.Filename + "\n"
	for i, p := range pieces {
		metadata := make(map[string]any, len(doc.Metadata)+len(p.extra)+3)
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		for k, v := range p.extra {
			metadata[k] = v
		}
		metadata["chunk_index"] = i
		metadata["chunk_size"] = runeLen(p.text)
		metadata["total_chunks"] = len(pieces)
		chunks = append(chunks, Chunk{
			Text:     prefix + p.text,
			Index:    i,
			Metadata: metadata,
		})
	}

	log.Infof("[Chunker] 文档 %s 分块完成，共 %d 块", doc.Filename, len(chunks))
	return chunks, nil
}
