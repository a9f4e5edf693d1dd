package port

import (
	"context"
	"encoding/json"
	"time"

	"portfolio-bff/internal/domain"
)

// Cache (缓存): 带过期时间的 key/value 存储。
// 任何底层错误都被吞掉并记录日志，调用方只会看到 "未命中"。
type Cache interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool)
	// GetInto 命中并成功解析到 v 时返回 true
	GetInto(ctx context.Context, key string, v any) bool
	Put(ctx context.Context, key string, payload any, ttl time.Duration) bool
	Enabled() bool
	Ping(ctx context.Context) error
}

// RepositorySource (数据源): 只读的 GitHub 接口子集
type RepositorySource interface {
	// ListUserRepos 拉取一页仓库。返回值不是数组时视为空页。
	ListUserRepos(ctx context.Context, owner string, page, perPage int) ([]domain.RepositorySummary, error)
	// GetLanguages 按 API 返回顺序给出语言名
	GetLanguages(ctx context.Context, owner, repo string) ([]string, error)
	// GetReadme 原始 README 文本，不存在时返回空串
	GetReadme(ctx context.Context, owner, repo string) (string, error)
	// GetForkParent fork 的上游仓库全名
	GetForkParent(ctx context.Context, owner, repo string) (string, error)
	// GetRepository 仓库详情，原样透传
	GetRepository(ctx context.Context, owner, repo string) (*domain.UpstreamResponse, error)
	// GetReadmeResponse README 原始响应，原样透传
	GetReadmeResponse(ctx context.Context, owner, repo string) (*domain.UpstreamResponse, error)
	RateLimit(ctx context.Context) (*domain.RateLimitStatus, error)
}

// MetadataExtractor (元数据提取): 读取仓库里的特殊文件
type MetadataExtractor interface {
	ExtractMetadata(ctx context.Context, owner, repo string) domain.AuxMetadata
}

// Completer (问答): 调用 LLM 生成一次回复
type Completer interface {
	Complete(ctx context.Context, systemPrompt, query string) (string, error)
	Name() string
}

// Filter (过滤器): 决定哪些仓库进入聚合
type Filter interface {
	// FilterForks 去掉不属于 owner 本人的 fork
	FilterForks(repos []domain.RepositorySummary, owner string) []domain.RepositorySummary
}

// Analyzer (分析器): 并发地把仓库摘要补全为详情
type Analyzer interface {
	// AnalyzeAll 失败的仓库会被跳过，err 汇总这些失败 (PARTIAL_FAILURE)，不代表整体失败。
	// complete 为 false 表示因 ctx 结束而没有处理完。
	AnalyzeAll(ctx context.Context, repos []domain.RepositorySummary) (details []domain.RepositoryDetail, complete bool, err error)
}
