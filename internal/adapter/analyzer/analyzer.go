package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"portfolio-bff/internal/adapter/readme"
	"portfolio-bff/internal/common"
	"portfolio-bff/internal/domain"
	"portfolio-bff/internal/port"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// ExcerptRunes README 摘要长度
	ExcerptRunes = 1000
	// UnknownParent 无法获取 fork 上游时的占位
	UnknownParent = "unknown"
	// ForkNote 自己名下 fork 的说明
	ForkNote = "This is a fork owned by the portfolio author"
)

// RepoAnalyzer 实现了 port.Analyzer 接口
type RepoAnalyzer struct {
	source        port.RepositorySource
	extractor     port.MetadataExtractor
	logger        *zap.Logger
	maxGoroutines int           // 最大并发数
	repoTimeout   time.Duration // 单个仓库的超时
}

// NewRepoAnalyzer 创建新的分析器实例
func NewRepoAnalyzer(source port.RepositorySource, extractor port.MetadataExtractor, logger *zap.Logger) *RepoAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RepoAnalyzer{
		source:        source,
		extractor:     extractor,
		logger:        logger,
		maxGoroutines: 5,
		repoTimeout:   30 * time.Second,
	}
}

// SetMaxGoroutines 设置最大并发数
func (a *RepoAnalyzer) SetMaxGoroutines(max int) {
	if max > 0 {
		a.maxGoroutines = max
	}
}

// SetRepoTimeout 设置单个仓库的超时
func (a *RepoAnalyzer) SetRepoTimeout(d time.Duration) {
	if d > 0 {
		a.repoTimeout = d
	}
}

// AnalyzeRepo 补全一个仓库：语言、README、段落、元数据、fork 来源。
// 语言或 README 获取失败时返回错误，元数据和 fork 来源只做尽力而为。
func (a *RepoAnalyzer) AnalyzeRepo(ctx context.Context, repo domain.RepositorySummary) (domain.RepositoryDetail, error) {
	owner := repo.Owner

	languages, err := a.source.GetLanguages(ctx, owner, repo.Name)
	if err != nil {
		return domain.RepositoryDetail{}, fmt.Errorf("获取 %s 语言失败: %w", repo.FullName, err)
	}

	text, err := a.source.GetReadme(ctx, owner, repo.Name)
	if err != nil {
		return domain.RepositoryDetail{}, fmt.Errorf("获取 %s README 失败: %w", repo.FullName, err)
	}

	detail := domain.RepositoryDetail{
		RepositorySummary: repo,
		Languages:         languages,
		ReadmeExcerpt:     truncateRunes(text, ExcerptRunes),
		ReadmeSections:    readme.ExtractSections(text),
		Metadata:          a.extractor.ExtractMetadata(ctx, owner, repo.Name),
	}
	if detail.Topics == nil {
		detail.Topics = []string{}
	}

	if repo.IsFork {
		parent, err := a.source.GetForkParent(ctx, owner, repo.Name)
		if err != nil {
			a.logger.Warn("cannot resolve fork parent", zap.String("repo", repo.FullName), zap.Error(err))
			parent = UnknownParent
		}
		detail.ForkParent = parent
		detail.Metadata.Fork = &domain.ForkStatus{
			IsFork:         true,
			ParentFullName: parent,
			Note:           ForkNote,
		}
	}
	return detail, nil
}

// AnalyzeAll 用有界的协程池并发处理，结果保持输入顺序。
// 单个仓库失败只记录日志并跳过，所有失败合并成一个 PARTIAL_FAILURE 错误返回；
// ctx 结束后剩余仓库不再处理，complete 为 false。
func (a *RepoAnalyzer) AnalyzeAll(ctx context.Context, repos []domain.RepositorySummary) ([]domain.RepositoryDetail, bool, error) {
	a.logger.Info("analyzing repositories",
		zap.Int("count", len(repos)),
		zap.Int("concurrency", a.maxGoroutines),
	)

	results := make([]*domain.RepositoryDetail, len(repos))
	failures := make([]error, len(repos))

	var g errgroup.Group
	g.SetLimit(a.maxGoroutines)

	for i, repo := range repos {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			// 为每个项目设置超时时间
			repoCtx, cancel := context.WithTimeout(ctx, a.repoTimeout)
			defer cancel()

			detail, err := a.AnalyzeRepo(repoCtx, repo)
			if err != nil {
				a.logger.Error("skipping repository", zap.String("repo", repo.FullName), zap.Error(err))
				failures[i] = err
				return nil
			}
			results[i] = &detail
			return nil
		})
	}
	_ = g.Wait()

	details := make([]domain.RepositoryDetail, 0, len(repos))
	for _, d := range results {
		if d != nil {
			details = append(details, *d)
		}
	}

	complete := ctx.Err() == nil
	if !complete {
		a.logger.Warn("analysis interrupted, returning partial result",
			zap.Int("analyzed", len(details)),
			zap.Int("total", len(repos)),
			zap.Error(ctx.Err()),
		)
	}

	failed := 0
	for _, err := range failures {
		if err != nil {
			failed++
		}
	}
	if failed == 0 {
		return details, complete, nil
	}
	return details, complete, common.WrapError(common.ErrCodePartialFailure,
		fmt.Sprintf("%d/%d 个仓库处理失败", failed, len(repos)), errors.Join(failures...))
}

// truncateRunes 按字符截断，不切断多字节字符
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
