package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"portfolio-bff/internal/adapter/readme"
	"portfolio-bff/internal/domain"
)

const (
	sectionPreviewRunes  = 500
	metadataPreviewRunes = 300
)

// README 段落在上下文里的标题，顺序与 readme.SectionKeys 一致
var sectionTitles = map[string]string{
	readme.KeyTechStack:    "Tech Stack",
	readme.KeySkills:       "Skills",
	readme.KeyArchitecture: "Architecture",
	readme.KeyStructure:    "Structure",
	readme.KeyWorkflow:     "Workflow",
}

// SerializeContext 把仓库集合展开成给 LLM 的纯文本上下文。
// 纯函数：同样的输入永远得到同样的输出。
func SerializeContext(repos []domain.RepositoryDetail) string {
	blocks := make([]string, 0, len(repos))
	for _, repo := range repos {
		blocks = append(blocks, serializeRepo(repo))
	}
	return strings.Join(blocks, "\n\n")
}

func serializeRepo(repo domain.RepositoryDetail) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Repository: %s\n", repo.Name)
	fmt.Fprintf(&b, "Description: %s\n", repo.Description)
	if len(repo.Languages) > 0 {
		fmt.Fprintf(&b, "Languages: %s\n", strings.Join(repo.Languages, ", "))
	}
	if len(repo.Topics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(repo.Topics, ", "))
	}

	for _, key := range readme.SectionKeys() {
		text := repo.ReadmeSections[key]
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n%s\n", sectionTitles[key], preview(text, sectionPreviewRunes))
	}

	if meta := metadataLines(repo.Metadata); len(meta) > 0 {
		b.WriteString("\nMetadata:\n")
		for _, line := range meta {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func metadataLines(meta domain.AuxMetadata) []string {
	var lines []string

	for _, k := range contextKeys(meta) {
		lines = append(lines, fmt.Sprintf("- %s: %s", k, flatten(meta.Context[k])))
	}

	if meta.Fork != nil {
		lines = append(lines, "- fork_of: "+meta.Fork.ParentFullName)
	}
	if meta.Manifest != nil {
		lines = append(lines, "Manifest: "+preview(*meta.Manifest, metadataPreviewRunes))
	}

	dirs := make([]string, 0, len(meta.Manifests))
	for dir := range meta.Manifests {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		lines = append(lines, fmt.Sprintf("Component %s: %s", dir, preview(meta.Manifests[dir], metadataPreviewRunes)))
	}

	if meta.Skills != nil {
		lines = append(lines, "Skills: "+preview(*meta.Skills, metadataPreviewRunes))
	}
	return lines
}

// contextKeys 优先使用文件里的顺序，没有记录顺序的 key 排序后追加在后面
func contextKeys(meta domain.AuxMetadata) []string {
	keys := make([]string, 0, len(meta.Context))
	seen := make(map[string]bool, len(meta.Context))
	for _, k := range meta.ContextKeys {
		if _, ok := meta.Context[k]; ok && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	rest := make([]string, 0, len(meta.Context)-len(keys))
	for k := range meta.Context {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// flatten 字符串原样输出，其他值输出紧凑 JSON (map 的 key 有序)
func flatten(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// preview 超过 n 个字符时截断并追加 "..."
func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
