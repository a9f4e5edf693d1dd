package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"portfolio-bff/internal/domain"

	"github.com/stretchr/testify/mock"
)

// MockSource 模拟 RepositorySource 接口
type MockSource struct {
	mock.Mock
}

func (m *MockSource) ListUserRepos(ctx context.Context, owner string, page, perPage int) ([]domain.RepositorySummary, error) {
	args := m.Called(ctx, owner, page, perPage)
	repos, _ := args.Get(0).([]domain.RepositorySummary)
	return repos, args.Error(1)
}

func (m *MockSource) GetLanguages(ctx context.Context, owner, repo string) ([]string, error) {
	args := m.Called(ctx, owner, repo)
	langs, _ := args.Get(0).([]string)
	return langs, args.Error(1)
}

func (m *MockSource) GetReadme(ctx context.Context, owner, repo string) (string, error) {
	args := m.Called(ctx, owner, repo)
	return args.String(0), args.Error(1)
}

func (m *MockSource) GetForkParent(ctx context.Context, owner, repo string) (string, error) {
	args := m.Called(ctx, owner, repo)
	return args.String(0), args.Error(1)
}

func (m *MockSource) GetRepository(ctx context.Context, owner, repo string) (*domain.UpstreamResponse, error) {
	args := m.Called(ctx, owner, repo)
	resp, _ := args.Get(0).(*domain.UpstreamResponse)
	return resp, args.Error(1)
}

func (m *MockSource) GetReadmeResponse(ctx context.Context, owner, repo string) (*domain.UpstreamResponse, error) {
	args := m.Called(ctx, owner, repo)
	resp, _ := args.Get(0).(*domain.UpstreamResponse)
	return resp, args.Error(1)
}

func (m *MockSource) RateLimit(ctx context.Context) (*domain.RateLimitStatus, error) {
	args := m.Called(ctx)
	status, _ := args.Get(0).(*domain.RateLimitStatus)
	return status, args.Error(1)
}

// MockExtractor 模拟 MetadataExtractor 接口
type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) ExtractMetadata(ctx context.Context, owner, repo string) domain.AuxMetadata {
	args := m.Called(ctx, owner, repo)
	return args.Get(0).(domain.AuxMetadata)
}

// MockAnalyzer 模拟 Analyzer 接口
type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) AnalyzeAll(ctx context.Context, repos []domain.RepositorySummary) ([]domain.RepositoryDetail, bool, error) {
	args := m.Called(ctx, repos)
	return args.Get(0).([]domain.RepositoryDetail), args.Bool(1), args.Error(2)
}

// MockCompleter 模拟 Completer 接口
type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, systemPrompt, query string) (string, error) {
	args := m.Called(ctx, systemPrompt, query)
	return args.String(0), args.Error(1)
}

func (m *MockCompleter) Name() string {
	return "mock"
}

// memoryCache 内存版 port.Cache，不处理过期
type memoryCache struct {
	mu      sync.Mutex
	data    map[string]json.RawMessage
	ttls    map[string]time.Duration
	enabled bool
	pingErr error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		data:    make(map[string]json.RawMessage),
		ttls:    make(map[string]time.Duration),
		enabled: true,
	}
}

func (c *memoryCache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return nil, false
	}
	v, ok := c.data[key]
	return v, ok
}

func (c *memoryCache) GetInto(ctx context.Context, key string, v any) bool {
	data, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (c *memoryCache) Put(ctx context.Context, key string, payload any, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return false
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	c.data[key] = data
	c.ttls[key] = ttl
	return true
}

func (c *memoryCache) Enabled() bool { return c.enabled }

func (c *memoryCache) Ping(ctx context.Context) error { return c.pingErr }

func (c *memoryCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}
