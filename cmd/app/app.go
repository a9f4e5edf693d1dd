package main

import (
	"context"
	"io"

	"portfolio-bff/internal/adapter/analyzer"
	"portfolio-bff/internal/adapter/cache"
	"portfolio-bff/internal/adapter/filter"
	"portfolio-bff/internal/adapter/github"
	"portfolio-bff/internal/adapter/llm"
	"portfolio-bff/internal/adapter/objectstore"
	"portfolio-bff/internal/adapter/repository"
	"portfolio-bff/internal/common"
	"portfolio-bff/internal/config"
	"portfolio-bff/internal/service"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app 组装好的全部组件
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	cache     *cache.Store
	client    *github.Client
	extractor *github.MetadataExtractor
	portfolio *service.PortfolioService
	closers   []io.Closer
}

// newLogger 生产环境输出 JSON，--dev 时输出可读格式
func newLogger(cfg config.Log) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, common.WrapError(common.ErrCodeConfiguration, "invalid log.level", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// openBlob 按配置选择缓存后端。返回 nil 表示不缓存。
func openBlob(cfg config.Cache) (cache.Blob, error) {
	if !cfg.Active() {
		return nil, nil
	}
	switch cfg.Backend {
	case config.BackendMinio:
		return objectstore.NewMinioBlob(objectstore.Config{
			Endpoint:  cfg.Minio.Endpoint,
			Bucket:    cfg.Minio.Bucket,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			UseSSL:    cfg.Minio.UseSSL,
			Prefix:    cfg.Minio.Prefix,
		})
	case config.BackendPostgres:
		return repository.NewPostgresBlobStore(cfg.Postgres.DSN)
	case config.BackendSQLite:
		return repository.NewSQLiteBlobStore(cfg.SQLite.Path)
	default:
		return nil, nil
	}
}

// buildApp 按依赖顺序创建组件。缓存和 LLM 初始化失败只会关闭对应能力。
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	blob, err := openBlob(cfg.Cache)
	if err != nil {
		logger.Warn("cache backend unavailable", zap.String("backend", cfg.Cache.Backend), zap.Error(err))
		blob = nil
	}
	a.cache = cache.Open(ctx, blob,
		cache.WithLogger(logger.Named("cache")),
		cache.WithDefaultTTL(cfg.Cache.TTL),
	)

	exec, err := github.NewExecutor(cfg.GitHub.Token,
		github.WithBaseURL(cfg.GitHub.BaseURL),
		github.WithCache(a.cache),
		github.WithTimeout(cfg.GitHub.Timeout),
		github.WithRequestsPerSecond(cfg.GitHub.RequestsPerSecond),
		github.WithExecutorLogger(logger.Named("github")),
	)
	if err != nil {
		return nil, common.WrapError(common.ErrCodeConfiguration, "GitHub 客户端初始化失败", err)
	}
	a.client = github.NewClient(exec)
	a.extractor = github.NewMetadataExtractor(a.client, logger.Named("metadata"), cfg.Aggregator.ScanSubdirManifests)

	repoAnalyzer := analyzer.NewRepoAnalyzer(a.client, a.extractor, logger.Named("analyzer"))
	repoAnalyzer.SetMaxGoroutines(cfg.Aggregator.Concurrency)
	repoAnalyzer.SetRepoTimeout(cfg.Aggregator.RepoTimeout)

	aggregator := service.NewAggregator(a.client, filter.NewRepoFilter(logger), repoAnalyzer, a.cache, logger.Named("aggregator"))

	completer, llmErr := llm.New(ctx, llm.Config{
		Provider:     cfg.LLM.Provider,
		GroqAPIKey:   cfg.LLM.GroqAPIKey,
		GeminiAPIKey: cfg.LLM.GeminiAPIKey,
		Model:        cfg.LLM.Model,
		Logger:       logger.Named("llm"),
	})
	if llmErr != nil {
		logger.Warn("LLM provider unavailable, query endpoint disabled", zap.Error(llmErr))
		completer = nil
	}
	if c, ok := completer.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	a.portfolio = service.NewPortfolioService(cfg.GitHub.Username, aggregator, a.client, a.cache,
		service.WithCompleter(completer, llmErr),
		service.WithTokenConfigured(exec.HasToken()),
		service.WithLogger(logger.Named("portfolio")),
	)
	return a, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("failed to close component", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
