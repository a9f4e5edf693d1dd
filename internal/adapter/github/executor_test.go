package github

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"portfolio-bff/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestExecutor_CachesSuccessfulGet(t *testing.T) {
	var hits int32
	cache := newMapCache()
	_, exec, _ := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/users/yungryce/repos", r.URL.Path)
		assert.Equal(t, "Bearer ghp_test_token", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, []map[string]any{{"name": "portfolio"}})
	}, WithCache(cache))

	ctx := context.Background()
	call := Call{Endpoint: "users/yungryce/repos", Params: url.Values{"page": {"1"}}}

	first, err := exec.Request(ctx, call)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, first.StatusCode)
	assert.True(t, first.JSON)
	assert.False(t, first.Cached)

	second, err := exec.Request(ctx, call)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.JSONEq(t, string(first.Body), string(second.Body))
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestExecutor_CacheKeyIncludesQuery(t *testing.T) {
	var hits int32
	cache := newMapCache()
	_, exec, _ := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusOK, []map[string]any{{"page": r.URL.Query().Get("page")}})
	}, WithCache(cache))

	ctx := context.Background()
	for _, page := range []string{"1", "2", "1"} {
		_, err := exec.Request(ctx, Call{Endpoint: "users/a/repos", Params: url.Values{"page": {page}}})
		require.NoError(t, err)
	}

	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
	assert.ElementsMatch(t, []string{"users/a/repos?page=1", "users/a/repos?page=2"}, cache.keys())
}

func TestExecutor_NoCacheAndNonGetBypassCache(t *testing.T) {
	var hits int32
	cache := newMapCache()
	_, exec, _ := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}, WithCache(cache))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := exec.Request(ctx, Call{Endpoint: "rate_limit", NoCache: true})
		require.NoError(t, err)
		_, err = exec.Request(ctx, Call{Method: http.MethodPost, Endpoint: "markdown", Body: map[string]string{"text": "x"}})
		require.NoError(t, err)
	}

	assert.EqualValues(t, 4, atomic.LoadInt32(&hits))
	assert.Zero(t, cache.puts)
}

func TestExecutor_NonSuccessIsReturnedNotCached(t *testing.T) {
	var hits int32
	cache := newMapCache()
	_, exec, recorder := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
	}, WithCache(cache))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		resp, err := exec.Request(ctx, Call{Endpoint: "repos/a/missing"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.False(t, resp.OK())
		assert.Contains(t, resp.Text(), "Not Found")
	}

	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
	assert.Zero(t, cache.puts)
	assert.Empty(t, recorder.recorded())
}

func TestExecutor_RawAndNonJSONBodies(t *testing.T) {
	cache := newMapCache()
	_, exec, _ := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/a/b/readme":
			assert.Equal(t, rawMediaType, r.Header.Get("Accept"))
			fmt.Fprint(w, "# Title\n\n## Technology Signature\nGo")
		default:
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, "<html>not json</html>")
		}
	}, WithCache(cache))

	ctx := context.Background()

	readme, err := exec.Request(ctx, Call{Endpoint: "repos/a/b/readme", Raw: true})
	require.NoError(t, err)
	assert.False(t, readme.JSON)
	assert.Equal(t, "# Title\n\n## Technology Signature\nGo", readme.Text())

	cached, err := exec.Request(ctx, Call{Endpoint: "repos/a/b/readme", Raw: true})
	require.NoError(t, err)
	assert.True(t, cached.Cached)
	assert.False(t, cached.JSON)
	assert.Equal(t, readme.Text(), cached.Text())

	broken, err := exec.Request(ctx, Call{Endpoint: "repos/a/b"})
	require.NoError(t, err)
	assert.False(t, broken.JSON)
	assert.Equal(t, "<html>not json</html>", broken.Text())
}

func TestExecutor_RateLimitWaitsAndRetries(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var hits int32

	tests := []struct {
		name   string
		status int
	}{
		{name: "403 配额耗尽", status: http.StatusForbidden},
		{name: "429 配额耗尽", status: http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			atomic.StoreInt32(&hits, 0)
			_, exec, recorder := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
				if atomic.AddInt32(&hits, 1) == 1 {
					w.Header().Set("X-RateLimit-Limit", "5000")
					w.Header().Set("X-RateLimit-Remaining", "0")
					w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(5*time.Second).Unix(), 10))
					writeJSON(w, tt.status, map[string]string{"message": "API rate limit exceeded"})
					return
				}
				writeJSON(w, http.StatusOK, map[string]string{"full_name": "a/b"})
			}, WithExecutorClock(func() time.Time { return now }))

			resp, err := exec.Request(context.Background(), Call{Endpoint: "repos/a/b", NoCache: true})
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
			// 等待到重置时间再多等 1 秒
			assert.Equal(t, []time.Duration{6 * time.Second}, recorder.recorded())
		})
	}
}

func TestExecutor_LongRateLimitReturnsResponse(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var hits int32
	_, exec, recorder := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(time.Hour).Unix(), 10))
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "API rate limit exceeded"})
	}, WithExecutorClock(func() time.Time { return now }))

	resp, err := exec.Request(context.Background(), Call{Endpoint: "repos/a/b"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
	assert.Empty(t, recorder.recorded())
}

func TestExecutor_PlainForbiddenIsNotRateLimit(t *testing.T) {
	var hits int32
	_, exec, recorder := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("X-RateLimit-Remaining", "4999")
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "Resource not accessible"})
	})

	resp, err := exec.Request(context.Background(), Call{Endpoint: "repos/a/private"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
	assert.Empty(t, recorder.recorded())
}

func TestExecutor_TransportFailureRetriesThenFails(t *testing.T) {
	// 先启动再关闭，得到一个拒绝连接的地址
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	recorder := &sleepRecorder{}
	exec, err := NewExecutor("", WithBaseURL(deadURL), WithRetryOptions(common.WithSleeper(recorder.sleep)))
	require.NoError(t, err)

	resp, err := exec.Request(context.Background(), Call{Endpoint: "users/a/repos"})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, common.HasCode(err, common.ErrCodeUpstreamNetwork))
	assert.Contains(t, err.Error(), "retry failed after 3 attempts")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, recorder.recorded())
}

func TestExecutor_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, exec, _ := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach here due to context cancellation")
	})

	resp, err := exec.Request(ctx, Call{Endpoint: "users/a/repos"})
	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, common.HasCode(err, common.ErrCodeUpstreamNetwork))
}

func TestExecutor_InvalidEndpoint(t *testing.T) {
	_, exec, _ := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach here")
	})

	_, err := exec.Request(context.Background(), Call{Endpoint: "repos/%zz"})
	require.Error(t, err)
	assert.True(t, common.HasCode(err, common.ErrCodeInvalidInput))
}

func TestNewExecutor(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)

	anon, err := NewExecutor("", WithExecutorLogger(zap.New(core)))
	require.NoError(t, err)
	assert.False(t, anon.HasToken())
	assert.Equal(t, 1, logs.FilterMessage("GITHUB_TOKEN not set, using unauthenticated GitHub client").Len())
	assert.Equal(t, DefaultTimeout, anon.timeout)
	assert.Nil(t, anon.limiter)

	authed, err := NewExecutor("ghp_x", WithTimeout(3*time.Second), WithRequestsPerSecond(10), WithBaseURL("http://ghe.local/api/v3"))
	require.NoError(t, err)
	assert.True(t, authed.HasToken())
	assert.Equal(t, 3*time.Second, authed.timeout)
	assert.NotNil(t, authed.limiter)
	assert.Equal(t, "http://ghe.local/api/v3/", authed.client.BaseURL.String())

	_, err = NewExecutor("", WithBaseURL("http://bad host/"))
	assert.Error(t, err)
}

func TestExecutor_LogsDNSFailuresDistinctly(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	exec, err := NewExecutor("t", WithExecutorLogger(zap.New(core)))
	require.NoError(t, err)

	exec.logTransportError("users/a/repos", 1, &net.DNSError{Err: "no such host", Name: "api.github.com"})
	exec.logTransportError("users/a/repos", 2, fmt.Errorf("dial tcp: i/o timeout"))

	dns := logs.FilterMessage("DNS resolution failed").All()
	require.Len(t, dns, 1)
	assert.Equal(t, zapcore.ErrorLevel, dns[0].Level)
	assert.Equal(t, "api.github.com", dns[0].ContextMap()["host"])
	assert.Equal(t, 1, logs.FilterMessage("GitHub request failed").Len())
}
