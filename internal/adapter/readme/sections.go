// Package readme 从 README 中提取约定的二级标题段落。
package readme

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// 段落 key
const (
	KeyTechStack    = "tech_stack"
	KeySkills       = "skills"
	KeyArchitecture = "architecture"
	KeyStructure    = "structure"
	KeyWorkflow     = "workflow"
)

type sectionPattern struct {
	prefix string
	key    string
}

// 顺序即输出顺序
var patterns = []sectionPattern{
	{prefix: "Technology Signature", key: KeyTechStack},
	{prefix: "Demonstrated Competencies", key: KeySkills},
	{prefix: "System Architecture", key: KeyArchitecture},
	{prefix: "Project Structure", key: KeyStructure},
	{prefix: "Deployment Workflow", key: KeyWorkflow},
}

var markdown = goldmark.New()

// SectionKeys 返回固定顺序的段落 key
func SectionKeys() []string {
	keys := make([]string, len(patterns))
	for i, p := range patterns {
		keys[i] = p.key
	}
	return keys
}

// heading 一个顶层二级标题在源文本中的位置
type heading struct {
	text      string
	lineStart int // 标题所在行的起点
	bodyStart int // 标题之后第一行的起点
}

// ExtractSections 按标题前缀 (区分大小写) 提取段落。
// 段落内容为标题之后到下一个二级标题 (或文末) 之间的文本，去掉首尾空白。
// 同一个 key 只取第一次出现。代码块里的 "##" 不算标题。
func ExtractSections(readme string) map[string]string {
	sections := make(map[string]string)
	if strings.TrimSpace(readme) == "" {
		return sections
	}

	src := []byte(readme)
	headings := level2Headings(src)

	for i, h := range headings {
		key, ok := matchKey(h.text)
		if !ok {
			continue
		}
		if _, seen := sections[key]; seen {
			continue
		}
		end := len(src)
		if i+1 < len(headings) {
			end = headings[i+1].lineStart
		}
		start := h.bodyStart
		if start > end {
			start = end
		}
		sections[key] = strings.TrimSpace(string(src[start:end]))
	}
	return sections
}

func matchKey(title string) (string, bool) {
	for _, p := range patterns {
		if strings.HasPrefix(title, p.prefix) {
			return p.key, true
		}
	}
	return "", false
}

// level2Headings 只看文档的顶层块，引用和列表里的标题不算
func level2Headings(src []byte) []heading {
	doc := markdown.Parser().Parse(text.NewReader(src))

	var headings []heading
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 2 {
			continue
		}
		lines := h.Lines()
		// 空标题 ("##") 没有位置信息，跳过
		if lines.Len() == 0 {
			continue
		}

		lineStart := startOfLine(src, lines.At(0).Start)
		bodyStart := nextLine(src, lines.At(lines.Len()-1).Start)
		if !isATX(src[lineStart:]) {
			// setext 标题：跳过下划线那一行
			bodyStart = nextLine(src, bodyStart)
		}

		headings = append(headings, heading{
			text:      strings.TrimSpace(inlineText(h, src)),
			lineStart: lineStart,
			bodyStart: bodyStart,
		})
	}
	return headings
}

// inlineText 拼接标题里的纯文本，忽略强调等标记
func inlineText(n ast.Node, src []byte) string {
	var buf strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		default:
			buf.WriteString(inlineText(c, src))
		}
	}
	return buf.String()
}

func startOfLine(src []byte, pos int) int {
	if pos > len(src) {
		pos = len(src)
	}
	return bytes.LastIndexByte(src[:pos], '\n') + 1
}

// nextLine 返回 pos 所在行之后下一行的起点
func nextLine(src []byte, pos int) int {
	if pos >= len(src) {
		return len(src)
	}
	if i := bytes.IndexByte(src[pos:], '\n'); i >= 0 {
		return pos + i + 1
	}
	return len(src)
}

func isATX(line []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(line, " "), []byte("#"))
}
