package service

import (
	"context"
	"time"

	"portfolio-bff/internal/common"
	"portfolio-bff/internal/domain"
	"portfolio-bff/internal/port"

	"go.uber.org/zap"
)

const (
	// PageSize 每页仓库数，GitHub 允许的最大值
	PageSize = 100

	listingTTL   = 2 * time.Hour
	processedTTL = 2 * time.Hour
	fallbackTTL  = 7 * 24 * time.Hour
)

func listingKey(owner string) string   { return "users_" + owner + "_repos_full" }
func processedKey(owner string) string { return "processed_repos_" + owner }
func fallbackKey(owner string) string  { return processedKey(owner) + "_fallback" }

// Aggregator 分页拉取、过滤、并发补全并缓存仓库集合
type Aggregator struct {
	source   port.RepositorySource
	filter   port.Filter
	analyzer port.Analyzer
	cache    port.Cache
	logger   *zap.Logger
}

// NewAggregator 创建聚合器。cache 可以是一个禁用的缓存。
func NewAggregator(
	source port.RepositorySource,
	filter port.Filter,
	analyzer port.Analyzer,
	cache port.Cache,
	logger *zap.Logger,
) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		source:   source,
		filter:   filter,
		analyzer: analyzer,
		cache:    cache,
		logger:   logger,
	}
}

// ListRepositories 拉取 owner 的全部仓库。
// 某一页失败时返回已拿到的部分；只有第一页就出现网络错误时才返回错误。
func (a *Aggregator) ListRepositories(ctx context.Context, owner string) ([]domain.RepositorySummary, error) {
	var cached []domain.RepositorySummary
	if a.cache.GetInto(ctx, listingKey(owner), &cached) {
		a.logger.Debug("repository listing served from cache", zap.String("owner", owner), zap.Int("count", len(cached)))
		return cached, nil
	}

	repos := []domain.RepositorySummary{}
	partial := false
	for page := 1; ; page++ {
		items, err := a.source.ListUserRepos(ctx, owner, page, PageSize)
		if err != nil {
			if len(repos) == 0 && page == 1 && common.HasCode(err, common.ErrCodeUpstreamNetwork) {
				return nil, err
			}
			a.logger.Warn("failed to fetch repository page, returning partial listing",
				zap.String("owner", owner),
				zap.Int("page", page),
				zap.Error(err),
			)
			partial = true
			break
		}
		repos = append(repos, items...)
		if len(items) < PageSize {
			break
		}
	}

	a.logger.Info("repositories listed", zap.String("owner", owner), zap.Int("count", len(repos)))
	if !partial && len(repos) > 0 {
		a.cache.Put(ctx, listingKey(owner), repos, listingTTL)
	}
	return repos, nil
}

// GetProcessedRepositories 返回聚合后的仓库集合，按 updated_at 倒序。
// 上游网络故障时，如果有长期保存的备份就返回备份。
func (a *Aggregator) GetProcessedRepositories(ctx context.Context, owner string) ([]domain.RepositoryDetail, error) {
	var cached []domain.RepositoryDetail
	if a.cache.GetInto(ctx, processedKey(owner), &cached) && len(cached) > 0 {
		a.logger.Info("processed repositories served from cache", zap.String("owner", owner), zap.Int("count", len(cached)))
		return cached, nil
	}

	start := time.Now()
	repos, err := a.ListRepositories(ctx, owner)
	if err != nil {
		if common.HasCode(err, common.ErrCodeUpstreamNetwork) {
			if fallback, ok := a.fallback(ctx, owner, err); ok {
				return fallback, nil
			}
		}
		return nil, err
	}

	eligible := a.filter.FilterForks(repos, owner)
	details, complete, failures := a.analyzer.AnalyzeAll(ctx, eligible)
	sorted := domain.SortByUpdatedDesc(details)

	a.logger.Info("repositories processed",
		zap.String("owner", owner),
		zap.Int("listed", len(repos)),
		zap.Int("processed", len(sorted)),
		zap.Bool("complete", complete),
		zap.Duration("elapsed", time.Since(start)),
	)

	// 列表来自缓存而 GitHub 已经不可达时，每个仓库都会失败
	if len(eligible) > 0 && len(sorted) == 0 && common.HasCode(failures, common.ErrCodeUpstreamNetwork) {
		if fallback, ok := a.fallback(ctx, owner, failures); ok {
			return fallback, nil
		}
		return nil, common.WrapError(common.ErrCodeUpstreamNetwork, "GitHub 不可达，没有可用的仓库数据", failures)
	}

	if complete && len(sorted) > 0 {
		a.cache.Put(ctx, processedKey(owner), sorted, processedTTL)
		a.cache.Put(ctx, fallbackKey(owner), sorted, fallbackTTL)
	}
	return sorted, nil
}

// fallback 读取长期保存的备份
func (a *Aggregator) fallback(ctx context.Context, owner string, cause error) ([]domain.RepositoryDetail, bool) {
	var fallback []domain.RepositoryDetail
	if !a.cache.GetInto(ctx, fallbackKey(owner), &fallback) || len(fallback) == 0 {
		return nil, false
	}
	a.logger.Warn("GitHub unreachable, serving fallback copy",
		zap.String("owner", owner),
		zap.Int("count", len(fallback)),
		zap.Error(cause),
	)
	return fallback, true
}

// GetRepository 仓库详情，原样透传上游响应
func (a *Aggregator) GetRepository(ctx context.Context, owner, repo string) (*domain.UpstreamResponse, error) {
	return a.source.GetRepository(ctx, owner, repo)
}

// GetReadme README 原始响应，原样透传
func (a *Aggregator) GetReadme(ctx context.Context, owner, repo string) (*domain.UpstreamResponse, error) {
	return a.source.GetReadmeResponse(ctx, owner, repo)
}
