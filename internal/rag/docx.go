package rag

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DocxConverter 直接解析 word/document.xml，保留标题层级、段落和表格，并导出为 Markdown。
type DocxConverter struct{}

type docxBlock struct {
	heading int
	text    string
	table   [][]string
}

func (DocxConverter) Convert(_ context.Context, path, _ string) (*Converted, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("打开 DOCX 失败: %w", err)
	}
	defer zr.Close()

	for _, file := range zr.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("读取 document.xml 失败: %w", err)
		}
		blocks, err := parseDocxBlocks(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		return renderDocx(blocks), nil
	}
	return nil, errors.New("DOCX 中缺少 word/document.xml")
}

func parseDocxBlocks(r io.Reader) ([]docxBlock, error) {
	dec := xml.NewDecoder(r)
	var (
		blocks     []docxBlock
		para       strings.Builder
		heading    int
		inText     bool
		inRun      bool
		tableDepth int
		table      [][]string
		cell       []string
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("解析 document.xml 失败: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				para.Reset()
				heading = 0
			case "pStyle":
				heading = headingLevel(attr(t, "val"))
			case "r":
				inRun = true
			case "t":
				inText = true
			case "tab":
				if inRun {
					para.WriteByte('\t')
				}
			case "br", "cr":
				if inRun {
					para.WriteByte('\n')
				}
			case "tbl":
				tableDepth++
				if tableDepth == 1 {
					table = nil
				}
			case "tr":
				if tableDepth == 1 {
					table = append(table, nil)
				}
			case "tc":
				if tableDepth == 1 {
					cell = nil
				}
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "r":
				inRun = false
			case "t":
				inText = false
			case "p":
				text := strings.TrimSpace(para.String())
				if tableDepth > 0 {
					if text != "" {
						cell = append(cell, text)
					}
				} else if text != "" {
					blocks = append(blocks, docxBlock{heading: heading, text: text})
				}
				para.Reset()
			case "tc":
				if tableDepth == 1 && len(table) > 0 {
					row := len(table) - 1
					table[row] = append(table[row], strings.Join(cell, " "))
				}
			case "tbl":
				tableDepth--
				if tableDepth == 0 && len(table) > 0 {
					blocks = append(blocks, docxBlock{table: table})
				}
			}
		}
	}
	return blocks, nil
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// headingLevel 识别 Title、Heading1..Heading9 以及 "heading 1" 这类样式名。
func headingLevel(style string) int {
	s := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	if s == "title" {
		return 1
	}
	if strings.HasPrefix(s, "heading") {
		if n, err := strconv.Atoi(strings.TrimPrefix(s, "heading")); err == nil && n >= 1 && n <= 6 {
			return n
		}
	}
	return 0
}

func renderDocx(blocks []docxBlock) *Converted {
	var (
		parts  []string
		tables []Table
	)
	for _, b := range blocks {
		switch {
		case b.table != nil:
			md, cols := markdownTable(b.table)
			tables = append(tables, Table{
				Index:   len(tables),
				Content: md,
				NumRows: len(b.table),
				NumCols: cols,
			})
			parts = append(parts, md)
		case b.heading > 0:
			parts = append(parts, strings.Repeat("#", b.heading)+" "+b.text)
		default:
			parts = append(parts, b.text)
		}
	}

	text := strings.Join(parts, "\n\n")
	if tables == nil {
		tables = []Table{}
	}
	return &Converted{
		Text:     text,
		Markdown: text,
		Tables:   tables,
		Metadata: map[string]any{"table_count": len(tables)},
	}
}

// markdownTable 把表格渲染为 GFM 管道表，第一行作为表头。
func markdownTable(rows [][]string) (string, int) {
	cols := 0
	for _, r := range rows {
		if len(r) > cols {
			cols = len(r)
		}
	}
	if cols == 0 {
		return "", 0
	}

	line := func(cells []string) string {
		padded := make([]string, cols)
		for i := range padded {
			if i < len(cells) {
				padded[i] = strings.ReplaceAll(cells[i], "|", `\|`)
			}
		}
		return "| " + strings.Join(padded, " | ") + " |"
	}

	lines := []string{line(rows[0])}
	sep := make([]string, cols)
	for i := range sep {
		sep[i] = "---"
	}
	lines = append(lines, "| "+strings.Join(sep, " | ")+" |")
	for _, r := range rows[1:] {
		lines = append(lines, line(r))
	}
	return strings.Join(lines, "\n"), cols
}
