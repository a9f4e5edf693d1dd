package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// RepositorySummary 代表列表接口返回的一个仓库 (来自 GitHub)
type RepositorySummary struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	Description string    `json:"description"`
	Language    string    `json:"language"` // 主要语言
	Topics      []string  `json:"topics"`
	Stars       int       `json:"stars"`
	UpdatedAt   time.Time `json:"updated_at"`
	URL         string    `json:"url"`
	IsFork      bool      `json:"is_fork"`
	ForkParent  string    `json:"fork_parent,omitempty"` // 列表接口通常不返回 parent
	Owner       string    `json:"owner"`
}

// ForkStatus 记录 fork 来源
type ForkStatus struct {
	IsFork         bool   `json:"is_fork"`
	ParentFullName string `json:"parent_full_name"`
	Note           string `json:"fork_note"`
}

// AuxMetadata 仓库中特殊文件提取出来的元数据，每个字段都是可选的
type AuxMetadata struct {
	// .repo-context.json 解析后的对象
	Context map[string]any `json:"context,omitempty"`
	// Context 的顶层 key，保持文件里的顺序
	ContextKeys []string `json:"context_keys,omitempty"`
	// 根目录 PROJECT-MANIFEST.md
	Manifest *string `json:"manifest,omitempty"`
	// 子目录名 -> PROJECT-MANIFEST.md
	Manifests map[string]string `json:"manifests,omitempty"`
	// SKILLS-INDEX.md
	Skills *string     `json:"skills,omitempty"`
	Fork   *ForkStatus `json:"fork,omitempty"`
}

// IsEmpty 没有任何元数据时返回 true
func (m AuxMetadata) IsEmpty() bool {
	return m.Context == nil && m.Manifest == nil && len(m.Manifests) == 0 && m.Skills == nil && m.Fork == nil
}

// FileCount 找到的特殊文件数量 (不含 fork 信息)
func (m AuxMetadata) FileCount() int {
	n := len(m.Manifests)
	if m.Context != nil {
		n++
	}
	if m.Manifest != nil {
		n++
	}
	if m.Skills != nil {
		n++
	}
	return n
}

// RepositoryDetail 聚合后的仓库记录
type RepositoryDetail struct {
	RepositorySummary
	Languages      []string          `json:"languages"` // 保持 API 返回顺序
	ReadmeExcerpt  string            `json:"readme_excerpt"`
	ReadmeSections map[string]string `json:"readme_sections"`
	Metadata       AuxMetadata       `json:"metadata"`
}

// SortByUpdatedDesc 按 updated_at 倒序排列，时间相同保持原顺序。返回新切片。
func SortByUpdatedDesc(repos []RepositoryDetail) []RepositoryDetail {
	sorted := make([]RepositoryDetail, len(repos))
	copy(sorted, repos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
	})
	return sorted
}

// CacheEntry 缓存条目，持久化为 {data, cachedAt, expiresAt}
type CacheEntry struct {
	Key       string          `json:"-"`
	Data      json.RawMessage `json:"data"`
	CachedAt  time.Time       `json:"cachedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// ValidAt 条目在 now 时刻是否仍然有效
func (e CacheEntry) ValidAt(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// RateLimitStatus GitHub core 配额
type RateLimitStatus struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}

// UpstreamResponse 上游接口的原始响应。非 2xx 不是错误，原样交给调用方。
type UpstreamResponse struct {
	StatusCode int
	Body       []byte
	JSON       bool // Body 是合法 JSON
	Cached     bool
}

// OK 2xx
func (r *UpstreamResponse) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Text 原始文本
func (r *UpstreamResponse) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// Decode 把 JSON body 解析到 v
func (r *UpstreamResponse) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}
