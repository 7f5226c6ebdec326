package rag

import (
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownChunker 遍历 goldmark AST 做结构感知分块：标题开启新块并作为上下文，
// 表格和超长代码块独占一块且不被切开，其余块级节点按 ChunkSize 合并。
type MarkdownChunker struct {
	ChunkSize int
	splitter  *RecursiveSplitter
	md        goldmark.Markdown
}

// NewMarkdownChunker 创建结构感知分块器，超长段落交给 splitter 切分。
func NewMarkdownChunker(chunkSize int, splitter *RecursiveSplitter) *MarkdownChunker {
	return &MarkdownChunker{
		ChunkSize: chunkSize,
		splitter:  splitter,
		md:        goldmark.New(goldmark.WithExtensions(extension.Table)),
	}
}

type structuredChunk struct {
	Text     string
	Headings []string
	HasTable bool
	HasCode  bool
}

type headingRef struct {
	level int
	title string
}

func (c *MarkdownChunker) Chunk(markdown string) []structuredChunk {
	src := []byte(markdown)
	doc := c.md.Parser().Parse(text.NewReader(src))

	var (
		chunks   []structuredChunk
		parts    []string
		size     int
		path     []headingRef
		hasTable bool
		hasCode  bool
	)

	flush := func() {
		if len(parts) == 0 {
			return
		}
		titles := make([]string, len(path))
		for i, h := range path {
			titles[i] = h.title
		}
		body := strings.Join(parts, "\n\n")
		if len(titles) > 0 {
			body = strings.Join(titles, " > ") + "\n" + body
		}
		chunks = append(chunks, structuredChunk{Text: body, Headings: titles, HasTable: hasTable, HasCode: hasCode})
		parts, size, hasTable, hasCode = nil, 0, false, false
	}
	add := func(block string) {
		n := runeLen(block)
		if size > 0 && size+n+2 > c.ChunkSize {
			flush()
		}
		parts = append(parts, block)
		size += n + 2
	}
	alone := func(block string) {
		flush()
		parts = append(parts, block)
	}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			flush()
			for len(path) > 0 && path[len(path)-1].level >= n.Level {
				path = path[:len(path)-1]
			}
			if title := inlineText(n, src); title != "" {
				path = append(path, headingRef{level: n.Level, title: title})
			}
		case *east.Table:
			alone(renderMarkdownTable(n, src))
			hasTable = true
			flush()
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			block := renderCode(n, src)
			if runeLen(block) > c.ChunkSize {
				alone(block)
				hasCode = true
				flush()
				continue
			}
			add(block)
			hasCode = true
		default:
			block := blockText(n, src)
			if block == "" {
				continue
			}
			if runeLen(block) <= c.ChunkSize {
				add(block)
				continue
			}
			for _, piece := range c.splitter.Split(block) {
				alone(piece)
				flush()
			}
		}
	}
	flush()
	return chunks
}

// inlineText 收集节点下所有内联文本。
func inlineText(n ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := node.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

// rawLines 返回块级节点及其子块的原始源码行，保留内联 Markdown。
func rawLines(n ast.Node, src []byte) string {
	var lines []string
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || node.Type() != ast.TypeBlock {
			return ast.WalkContinue, nil
		}
		segs := node.Lines()
		if segs == nil || segs.Len() == 0 {
			return ast.WalkContinue, nil
		}
		for i := 0; i < segs.Len(); i++ {
			seg := segs.At(i)
			lines = append(lines, strings.TrimRight(string(seg.Value(src)), "\r\n"))
		}
		return ast.WalkSkipChildren, nil
	})
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func blockText(n ast.Node, src []byte) string {
	list, ok := n.(*ast.List)
	if !ok {
		return rawLines(n, src)
	}
	var items []string
	i := list.Start
	if i == 0 {
		i = 1
	}
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "- "
		if list.IsOrdered() {
			marker = strconv.Itoa(i) + ". "
			i++
		}
		if body := rawLines(item, src); body != "" {
			items = append(items, marker+body)
		}
	}
	return strings.Join(items, "\n")
}

func renderCode(n ast.Node, src []byte) string {
	lang := ""
	if f, ok := n.(*ast.FencedCodeBlock); ok {
		lang = string(f.Language(src))
	}
	var sb strings.Builder
	sb.WriteString("```" + lang + "\n")
	segs := n.Lines()
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		sb.Write(seg.Value(src))
	}
	code := strings.TrimRight(sb.String(), "\n")
	return code + "\n```"
}

func renderMarkdownTable(t *east.Table, src []byte) string {
	var rows [][]string
	for row := t.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, inlineText(cell, src))
		}
		rows = append(rows, cells)
	}
	md, _ := markdownTable(rows)
	return md
}
