package rag

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// TextExtractor 是 Tika 这类外部文本抽取服务的能力。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// TikaConverter 把其余办公格式交给 Tika 抽取纯文本，连续空行折叠为段落分隔。
type TikaConverter struct {
	Extractor TextExtractor
}

var blankLines = regexp.MustCompile(`\n[ \t]*(\n[ \t]*)+`)

func (c TikaConverter) Convert(ctx context.Context, path, filename string) (*Converted, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()

	raw, err := c.Extractor.ExtractText(ctx, f, filename)
	if err != nil {
		return nil, fmt.Errorf("Tika 抽取失败: %w", err)
	}
	text := strings.TrimSpace(blankLines.ReplaceAllString(strings.ReplaceAll(raw, "\r\n", "\n"), "\n\n"))
	return &Converted{
		Text:     text,
		Markdown: text,
		Tables:   []Table{},
	}, nil
}
