package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"portfolio-bff/internal/common"

	"github.com/stretchr/testify/require"
)

// mapCache 内存版 port.Cache，不处理过期
type mapCache struct {
	mu   sync.Mutex
	data map[string]json.RawMessage
	puts int
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string]json.RawMessage)}
}

func (c *mapCache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *mapCache) GetInto(ctx context.Context, key string, v any) bool {
	data, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (c *mapCache) Put(ctx context.Context, key string, payload any, ttl time.Duration) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = data
	c.puts++
	return true
}

func (c *mapCache) Enabled() bool                  { return true }
func (c *mapCache) Ping(ctx context.Context) error { return nil }

func (c *mapCache) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	return keys
}

// sleepRecorder 记录状态机的等待时长，不真正 sleep
type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

// setupMockGitHubServer 创建一个模拟的 GitHub API 服务器
func setupMockGitHubServer(t *testing.T, handler http.HandlerFunc, opts ...ExecutorOption) (*httptest.Server, *Executor, *sleepRecorder) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	recorder := &sleepRecorder{}
	all := append([]ExecutorOption{
		WithBaseURL(server.URL),
		WithRetryOptions(common.WithSleeper(recorder.sleep)),
	}, opts...)

	exec, err := NewExecutor("ghp_test_token", all...)
	require.NoError(t, err)
	return server, exec, recorder
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
