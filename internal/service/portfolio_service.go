package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"portfolio-bff/internal/common"
	"portfolio-bff/internal/domain"
	"portfolio-bff/internal/port"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 健康检查的状态值
const (
	StatusOK            = "ok"
	StatusHealthy       = "healthy"
	StatusDegraded      = "degraded"
	StatusDisabled      = "disabled"
	StatusNotConfigured = "not_configured"
	StatusUnreachable   = "unreachable"
)

const systemPromptTemplate = `You are an AI assistant that helps users understand the portfolio projects of GitHub user %s.
Use the following structured information about the GitHub repositories to answer questions.

%s

When answering:
1. Focus on the structured metadata, technology signatures, and demonstrated competencies
2. Reference specific projects and their architecture patterns when relevant
3. Highlight relationships between components in monorepo structures
4. Organize your response with clear sections and bullet points
5. Emphasize technical skills shown in the projects

Respond specifically and accurately about the projects listed above.
If asked about a specific technology, framework, or architecture pattern, check the metadata first before the general repository information.`

// QueryResult 问答结果，附带用于回答的仓库集合
type QueryResult struct {
	Response     string                    `json:"response"`
	Repositories []domain.RepositoryDetail `json:"repositories"`
}

// HealthReport 各外部依赖的状态
type HealthReport struct {
	Status       string                  `json:"status"`
	Dependencies map[string]string       `json:"dependencies"`
	LLMProvider  string                  `json:"llm_provider,omitempty"`
	RateLimit    *domain.RateLimitStatus `json:"rate_limit,omitempty"`
}

// PortfolioService 处理作品集相关的业务逻辑
type PortfolioService struct {
	username        string
	aggregator      *Aggregator
	source          port.RepositorySource
	cache           port.Cache
	completer       port.Completer
	completerErr    error
	tokenConfigured bool
	logger          *zap.Logger
}

// Option 配置 PortfolioService
type Option func(*PortfolioService)

// WithCompleter 设置 LLM。err 非空时表示 LLM 不可用的原因，问答接口会返回它。
func WithCompleter(c port.Completer, err error) Option {
	return func(s *PortfolioService) {
		s.completer = c
		s.completerErr = err
	}
}

// WithTokenConfigured 是否配置了 GitHub token
func WithTokenConfigured(ok bool) Option {
	return func(s *PortfolioService) {
		s.tokenConfigured = ok
	}
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(s *PortfolioService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewPortfolioService 创建新的作品集服务
func NewPortfolioService(username string, aggregator *Aggregator, source port.RepositorySource, cache port.Cache, opts ...Option) *PortfolioService {
	s := &PortfolioService{
		username:   username,
		aggregator: aggregator,
		source:     source,
		cache:      cache,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Username 作品集对应的 GitHub 用户
func (s *PortfolioService) Username() string {
	return s.username
}

func (s *PortfolioService) requireToken() error {
	if !s.tokenConfigured {
		s.logger.Error("GitHub token not configured")
		return common.NewError(common.ErrCodeConfiguration, "GitHub token not configured")
	}
	return nil
}

// ListRepositories 配置用户的仓库列表
func (s *PortfolioService) ListRepositories(ctx context.Context) ([]domain.RepositorySummary, error) {
	if err := s.requireToken(); err != nil {
		return nil, err
	}
	return s.aggregator.ListRepositories(ctx, s.username)
}

// ProcessedRepositories 聚合后的仓库集合
func (s *PortfolioService) ProcessedRepositories(ctx context.Context) ([]domain.RepositoryDetail, error) {
	if err := s.requireToken(); err != nil {
		return nil, err
	}
	return s.aggregator.GetProcessedRepositories(ctx, s.username)
}

// GetRepository 仓库详情透传
func (s *PortfolioService) GetRepository(ctx context.Context, owner, repo string) (*domain.UpstreamResponse, error) {
	if err := s.requireToken(); err != nil {
		return nil, err
	}
	return s.aggregator.GetRepository(ctx, owner, repo)
}

// GetReadme README 透传
func (s *PortfolioService) GetReadme(ctx context.Context, owner, repo string) (*domain.UpstreamResponse, error) {
	if err := s.requireToken(); err != nil {
		return nil, err
	}
	return s.aggregator.GetReadme(ctx, owner, repo)
}

// Context 生成给 LLM 的上下文文本
func (s *PortfolioService) Context(ctx context.Context) (string, []domain.RepositoryDetail, error) {
	repos, err := s.ProcessedRepositories(ctx)
	if err != nil {
		return "", nil, err
	}
	return SerializeContext(repos), repos, nil
}

// Query 用作品集上下文回答问题
func (s *PortfolioService) Query(ctx context.Context, query string) (*QueryResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, common.NewError(common.ErrCodeInvalidInput, "Missing query parameter")
	}

	log := s.logger.With(zap.String("request_id", "req-"+uuid.NewString()))
	log.Info("processing portfolio query", zap.String("query", preview(query, 100)))

	if s.completer == nil {
		err := s.completerErr
		if err == nil {
			err = common.NewError(common.ErrCodeConfiguration, "AI service not configured")
		}
		log.Error("LLM provider not configured", zap.Error(err))
		return nil, err
	}

	start := time.Now()
	contextText, repos, err := s.Context(ctx)
	if err != nil {
		log.Error("failed to build portfolio context", zap.Error(err))
		return nil, err
	}
	log.Info("context generated",
		zap.Int("repositories", len(repos)),
		zap.Int("chars", len(contextText)),
		zap.Duration("elapsed", time.Since(start)),
	)

	systemPrompt := fmt.Sprintf(systemPromptTemplate, s.username, contextText)

	start = time.Now()
	answer, err := s.completer.Complete(ctx, systemPrompt, query)
	if err != nil {
		log.Error("LLM completion failed", zap.String("provider", s.completer.Name()), zap.Error(err))
		if common.CodeOf(err) != "" {
			return nil, err
		}
		return nil, common.WrapError(common.ErrCodeAIProcessing, "AI assistant failed to answer", err)
	}
	answer = strings.TrimSpace(answer)
	log.Info("LLM responded",
		zap.String("provider", s.completer.Name()),
		zap.Int("chars", len(answer)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &QueryResult{Response: answer, Repositories: repos}, nil
}

// Health 检查各依赖的状态。只要 GitHub 可达就认为服务健康。
func (s *PortfolioService) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:       StatusHealthy,
		Dependencies: make(map[string]string, 3),
	}

	switch {
	case !s.tokenConfigured:
		report.Dependencies["github"] = StatusNotConfigured
		report.Status = StatusDegraded
	default:
		status, err := s.source.RateLimit(ctx)
		if err != nil {
			s.logger.Warn("GitHub health check failed", zap.Error(err))
			report.Dependencies["github"] = StatusUnreachable
			report.Status = StatusDegraded
		} else {
			report.Dependencies["github"] = StatusOK
			report.RateLimit = status
		}
	}

	if s.cache == nil || !s.cache.Enabled() {
		report.Dependencies["cache"] = StatusDisabled
	} else if err := s.cache.Ping(ctx); err != nil {
		s.logger.Warn("cache health check failed", zap.Error(err))
		report.Dependencies["cache"] = StatusUnreachable
	} else {
		report.Dependencies["cache"] = StatusOK
	}

	if s.completer == nil {
		report.Dependencies["llm"] = StatusNotConfigured
	} else {
		report.Dependencies["llm"] = StatusOK
		report.LLMProvider = s.completer.Name()
	}

	return report
}
