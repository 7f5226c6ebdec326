package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFConverter 逐页抽取 PDF 的纯文本，页之间以空行分隔。
type PDFConverter struct{}

func (PDFConverter) Convert(_ context.Context, path, _ string) (*Converted, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开 PDF 失败: %w", err)
	}
	defer f.Close()

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}

	text := strings.Join(pages, "\n\n")
	return &Converted{
		Text:     text,
		Markdown: text,
		Tables:   []Table{},
		Metadata: map[string]any{"page_count": numPages},
	}, nil
}
