package rag

import (
	"strings"
	"unicode/utf8"

	"baguette-chat-go/pkg/log"
)

// DefaultSeparators 递归分隔的优先级：段落、换行、句末标点、从句标点、空格，最后按字符切分。
var DefaultSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ": ", " ", ""}

// RecursiveSplitter 按分隔符优先级递归切分文本，使每块接近 ChunkSize 个字符，
// 相邻块之间重复约 ChunkOverlap 个字符。长度按 rune 计算。
type RecursiveSplitter struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// NewRecursiveSplitter 创建切分器，separators 为空时使用 DefaultSeparators。
func NewRecursiveSplitter(chunkSize, chunkOverlap int, separators []string) *RecursiveSplitter {
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 2
	}
	return &RecursiveSplitter{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap, Separators: separators}
}

// Split 返回切分后的文本块，每块去除首尾空白，空块被丢弃。
func (s *RecursiveSplitter) Split(text string) []string {
	return s.split(text, s.Separators)
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func (s *RecursiveSplitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var (
		final []string
		good  []string
	)
	for _, piece := range splitKeepingSeparator(text, separator) {
		if runeLen(piece) < s.ChunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// splitKeepingSeparator 在分隔符处切分，分隔符保留在后一段的开头。空分隔符按字符切分。
func splitKeepingSeparator(text, separator string) []string {
	var out []string
	if separator == "" {
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, separator)
	for i, p := range parts {
		if i > 0 {
			p = separator + p
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// merge 把小片段合并为不超过 ChunkSize 的块，并从上一块尾部保留不超过 ChunkOverlap 的片段作为重叠。
func (s *RecursiveSplitter) merge(splits []string) []string {
	var (
		docs    []string
		current []string
		total   int
	)
	for _, d := range splits {
		n := runeLen(d)
		if total+n > s.ChunkSize {
			if total > s.ChunkSize {
				log.Debugf("[Splitter] 生成了长度为 %d 的块，超过了 chunk_size %d", total, s.ChunkSize)
			}
			if len(current) > 0 {
				if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
					docs = append(docs, doc)
				}
				for total > s.ChunkOverlap || (total+n > s.ChunkSize && total > 0) {
					total -= runeLen(current[0])
					current = current[1:]
				}
			}
		}
		current = append(current, d)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}
