// Package rag 实现文档检索增强：文本抽取、分块、向量化、向量存储与检索。
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"baguette-chat-go/pkg/log"
)

// ErrUnsupportedFormat 表示文件扩展名没有对应的转换器。
var ErrUnsupportedFormat = errors.New("unsupported document format")

var plainTextExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".text":     true,
}

// IsPlainText 判断扩展名是否属于直接读取的纯文本格式。
func IsPlainText(ext string) bool {
	return plainTextExtensions[strings.ToLower(ext)]
}

// Table 是从富格式文档中抽取出的一张表格。
type Table struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
	NumRows int    `json:"num_rows,omitempty"`
	NumCols int    `json:"num_cols,omitempty"`
}

// Converted 是富格式转换器的输出。Markdown 是结构化文档句柄，为空时分块走递归分隔路径。
type Converted struct {
	Text     string
	Markdown string
	Tables   []Table
	Metadata map[string]any
}

// Converter 把一个富格式文件转换为文本和结构。
type Converter interface {
	Convert(ctx context.Context, path, filename string) (*Converted, error)
}

// Processed 是文档处理结果。ContentHash 是抽取文本的 sha256，而不是原始字节的哈希。
type Processed struct {
	Text        string
	Metadata    map[string]any
	Tables      []Table
	Filename    string
	ContentHash string
	// Markdown 非空时作为结构感知分块的输入。
	Markdown string
}

// Processor 按扩展名把文件分派给纯文本读取或对应的转换器。
type Processor struct {
	converters map[string]Converter
}

// NewProcessor 创建处理器，converters 的 key 是小写带点的扩展名。
func NewProcessor(converters map[string]Converter) *Processor {
	normalized := make(map[string]Converter, len(converters))
	for ext, c := range converters {
		normalized[strings.ToLower(ext)] = c
	}
	return &Processor{converters: normalized}
}

// Supports 判断扩展名是否可以被处理。
func (p *Processor) Supports(ext string) bool {
	ext = strings.ToLower(ext)
	_, ok := p.converters[ext]
	return ok || IsPlainText(ext)
}

// Process 抽取文件的文本、元数据、表格和内容哈希。
func (p *Processor) Process(ctx context.Context, path, filename string) (*Processed, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("处理文档 %s 失败: %w", filename, err)
	}
	ext := strings.ToLower(filepath.Ext(filename))

	var (
		out *Processed
		err error
	)
	if IsPlainText(ext) {
		out, err = processPlainText(path, filename, ext)
	} else {
		out, err = p.processRich(ctx, path, filename, ext)
	}
	if err != nil {
		log.Errorf("[Processor] 处理文档失败: %s, err=%v", filename, err)
		return nil, fmt.Errorf("处理文档 %s 失败: %w", filename, err)
	}
	return out, nil
}

func (p *Processor) processRich(ctx context.Context, path, filename, ext string) (*Processed, error) {
	conv, ok := p.converters[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	res, err := conv.Convert(ctx, path, filename)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{
		"filename":   filename,
		"file_type":  ext,
		"char_count": utf8.RuneCountInString(res.Text),
	}
	for k, v := range res.Metadata {
		metadata[k] = v
	}

	log.Infof("[Processor] 富格式文档处理完成: %s (%d 字符, %d 张表)", filename, metadata["char_count"], len(res.Tables))
	return &Processed{
		Text:        res.Text,
		Metadata:    metadata,
		Tables:      res.Tables,
		Filename:    filename,
		ContentHash: contentHash(res.Text),
		Markdown:    res.Markdown,
	}, nil
}

func processPlainText(path, filename, ext string) (*Processed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}

	metadata := map[string]any{
		"filename":  filename,
		"file_type": ext,
	}
	var text string
	if utf8.Valid(raw) {
		text = string(raw)
	} else {
		// 非 UTF-8 时按 latin-1 逐字节解码，任何字节序列都能成功
		text = decodeLatin1(raw)
		metadata["encoding"] = "latin-1"
	}
	metadata["char_count"] = utf8.RuneCountInString(text)
	metadata["line_count"] = strings.Count(text, "\n") + 1

	log.Infof("[Processor] 纯文本文档处理完成: %s (%d 字符)", filename, metadata["char_count"])
	return &Processed{
		Text:        text,
		Metadata:    metadata,
		Tables:      []Table{},
		Filename:    filename,
		ContentHash: contentHash(text),
	}, nil
}

func decodeLatin1(raw []byte) string {
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
