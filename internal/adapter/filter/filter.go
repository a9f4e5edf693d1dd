package filter

import (
	"strings"

	"portfolio-bff/internal/domain"

	"go.uber.org/zap"
)

// RepoFilter 实现了 port.Filter 接口
type RepoFilter struct {
	logger *zap.Logger
}

// NewRepoFilter 创建新的过滤器实例
func NewRepoFilter(logger *zap.Logger) *RepoFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RepoFilter{logger: logger}
}

// FilterForks 保留所有非 fork 仓库，fork 只保留 owner 是本人的 (不区分大小写)。
// 返回新切片，顺序不变。
func (f *RepoFilter) FilterForks(repos []domain.RepositorySummary, owner string) []domain.RepositorySummary {
	filtered := make([]domain.RepositorySummary, 0, len(repos))
	for _, repo := range repos {
		if repo.IsFork && !strings.EqualFold(repo.Owner, owner) {
			f.logger.Debug("excluding fork not owned by user",
				zap.String("repo", repo.FullName),
				zap.String("owner", repo.Owner),
			)
			continue
		}
		filtered = append(filtered, repo)
	}
	return filtered
}
