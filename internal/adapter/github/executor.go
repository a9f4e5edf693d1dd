package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"portfolio-bff/internal/common"
	"portfolio-bff/internal/domain"
	"portfolio-bff/internal/port"

	"github.com/google/go-github/v53/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout 单次请求超时
	DefaultTimeout = 10 * time.Second

	rawMediaType = "application/vnd.github.v3.raw"
)

// Call 描述一次上游请求
type Call struct {
	Method   string // 默认 GET
	Endpoint string // 相对路径，例如 "users/yungryce/repos"
	Params   url.Values
	Body     any
	// Raw 要求返回原始文件内容而不是 JSON
	Raw bool
	// NoCache 跳过缓存读写
	NoCache bool
}

// Executor 负责发请求：缓存、重试、限流等待都在这里
type Executor struct {
	client     *github.Client
	httpClient *http.Client
	cache      port.Cache
	limiter    *rate.Limiter
	timeout    time.Duration
	retryOpts  []common.Option
	logger     *zap.Logger
	nowFunc    func() time.Time
	hasToken   bool
}

// ExecutorOption 配置 Executor
type ExecutorOption func(*Executor) error

// WithBaseURL 指向 GitHub Enterprise 或测试服务器
func WithBaseURL(rawURL string) ExecutorOption {
	return func(e *Executor) error {
		if rawURL == "" {
			return nil
		}
		if !strings.HasSuffix(rawURL, "/") {
			rawURL += "/"
		}
		u, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("无效的 base url %q: %w", rawURL, err)
		}
		e.client.BaseURL = u
		return nil
	}
}

// WithCache 设置缓存。nil 或未启用的缓存等同于不缓存。
func WithCache(c port.Cache) ExecutorOption {
	return func(e *Executor) error {
		e.cache = c
		return nil
	}
}

// WithTimeout 设置单次请求超时
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) error {
		if d > 0 {
			e.timeout = d
		}
		return nil
	}
}

// WithRequestsPerSecond 出站限速，<= 0 表示不限速
func WithRequestsPerSecond(rps float64) ExecutorOption {
	return func(e *Executor) error {
		if rps > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
		return nil
	}
}

// WithRetryOptions 透传给重试状态机
func WithRetryOptions(opts ...common.Option) ExecutorOption {
	return func(e *Executor) error {
		e.retryOpts = append(e.retryOpts, opts...)
		return nil
	}
}

// WithExecutorLogger 设置日志
func WithExecutorLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) error {
		if logger != nil {
			e.logger = logger
		}
		return nil
	}
}

// WithExecutorClock 测试时注入当前时间，用于计算限流等待时长
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) error {
		if now != nil {
			e.nowFunc = now
		}
		return nil
	}
}

// NewExecutor 初始化 GitHub 客户端
// token: GitHub Personal Access Token (如果是空字符串，就是匿名访问，限制 60次/小时)
func NewExecutor(token string, opts ...ExecutorOption) (*Executor, error) {
	var httpClient *http.Client
	if token == "" {
		httpClient = &http.Client{}
	} else {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	e := &Executor{
		client:     github.NewClient(httpClient),
		httpClient: httpClient,
		timeout:    DefaultTimeout,
		logger:     zap.NewNop(),
		nowFunc:    time.Now,
		hasToken:   token != "",
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	if !e.hasToken {
		e.logger.Warn("GITHUB_TOKEN not set, using unauthenticated GitHub client")
	}
	return e, nil
}

// HasToken 是否配置了 token
func (e *Executor) HasToken() bool {
	return e.hasToken
}

// cachedPayload 缓存里存的响应体
type cachedPayload struct {
	JSON json.RawMessage `json:"json,omitempty"`
	Text *string         `json:"text,omitempty"`
}

func (e *Executor) cacheEnabled() bool {
	return e.cache != nil && e.cache.Enabled()
}

// cacheKey 包含查询参数，不同分页不会共用一个 key
func cacheKey(call Call) string {
	key := strings.TrimLeft(call.Endpoint, "/")
	if q := call.Params.Encode(); q != "" {
		key += "?" + q
	}
	if call.Raw {
		key += "#raw"
	}
	return key
}

// Request 执行一次请求。
// 非 2xx 不是错误，原样返回；只有网络层面重试耗尽才返回 UPSTREAM_NETWORK_ERROR。
func (e *Executor) Request(ctx context.Context, call Call) (*domain.UpstreamResponse, error) {
	method := call.Method
	if method == "" {
		method = http.MethodGet
	}
	endpoint := strings.TrimLeft(call.Endpoint, "/")
	if q := call.Params.Encode(); q != "" {
		endpoint += "?" + q
	}

	// 先构造一次请求，URL 或 body 有问题时直接失败，不进入重试
	if _, err := e.client.NewRequest(method, endpoint, call.Body); err != nil {
		return nil, common.WrapError(common.ErrCodeInvalidInput, "无法构造请求 "+endpoint, err)
	}

	cacheable := method == http.MethodGet && !call.NoCache && e.cacheEnabled()
	key := cacheKey(call)
	if cacheable {
		var payload cachedPayload
		if e.cache.GetInto(ctx, key, &payload) {
			e.logger.Debug("serving from cache", zap.String("endpoint", endpoint))
			return payload.response(), nil
		}
	}

	var resp *domain.UpstreamResponse
	step, err := common.Run(ctx, func(ctx context.Context, n int) common.Outcome {
		r, wait, limited, err := e.send(ctx, method, endpoint, call)
		if err != nil {
			e.logTransportError(endpoint, n, err)
			return common.Outcome{Kind: common.OutcomeTransportError, Err: err}
		}
		resp = r
		if limited {
			e.logger.Warn("GitHub rate limit exceeded",
				zap.String("endpoint", endpoint),
				zap.Duration("reset_in", wait),
			)
			return common.Outcome{Kind: common.OutcomeRateLimited, Wait: wait}
		}
		return common.Outcome{Kind: common.OutcomeResponse}
	}, e.retryOpts...)
	if err != nil {
		return nil, common.WrapError(common.ErrCodeUpstreamNetwork, "GitHub 请求失败: "+endpoint, err)
	}

	e.logger.Debug("GitHub request finished",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Int("attempts", step.Attempt),
		zap.Int("rate_limit_waits", step.RateLimitWaits),
	)

	if cacheable && resp.OK() {
		e.cache.Put(ctx, key, newCachedPayload(resp), 0)
	}
	return resp, nil
}

// send 发一次 HTTP 请求。返回的 limited 表示配额耗尽，wait 是到重置的时间。
func (e *Executor) send(ctx context.Context, method, endpoint string, call Call) (*domain.UpstreamResponse, time.Duration, bool, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, 0, false, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := e.client.NewRequest(method, endpoint, call.Body)
	if err != nil {
		return nil, 0, false, err
	}
	if call.Raw {
		req.Header.Set("Accept", rawMediaType)
	}

	httpResp, err := e.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, 0, false, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, 0, false, fmt.Errorf("读取响应失败: %w", err)
	}

	resp := &domain.UpstreamResponse{
		StatusCode: httpResp.StatusCode,
		Body:       data,
		JSON:       !call.Raw && json.Valid(data),
	}
	wait, limited := rateLimitWait(httpResp, data, e.nowFunc())
	return resp, wait, limited, nil
}

// rateLimitWait 判断响应是否为配额耗尽，并给出等待时长。
// 计算不出等待时长时 wait 为 0，状态机不会等待。
func rateLimitWait(resp *http.Response, body []byte, now time.Time) (time.Duration, bool) {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	checkErr := github.CheckResponse(resp)

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	switch {
	case errors.As(checkErr, &rateErr):
		return rateErr.Rate.Reset.Time.Sub(now), true
	case errors.As(checkErr, &abuseErr):
		if abuseErr.RetryAfter != nil {
			return *abuseErr.RetryAfter, true
		}
		return 0, true
	}

	// 429 不一定被 go-github 识别，直接看响应头
	if resp.Header.Get("X-RateLimit-Remaining") == "0" {
		reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
		if err != nil {
			return 0, true
		}
		return time.Unix(reset, 0).Sub(now), true
	}
	return 0, false
}

func (e *Executor) logTransportError(endpoint string, attempt int, err error) {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		e.logger.Error("DNS resolution failed",
			zap.String("host", dnsErr.Name),
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return
	}
	e.logger.Warn("GitHub request failed",
		zap.String("endpoint", endpoint),
		zap.Int("attempt", attempt),
		zap.Error(err),
	)
}

func newCachedPayload(resp *domain.UpstreamResponse) cachedPayload {
	if resp.JSON {
		return cachedPayload{JSON: json.RawMessage(resp.Body)}
	}
	text := string(resp.Body)
	return cachedPayload{Text: &text}
}

func (p cachedPayload) response() *domain.UpstreamResponse {
	resp := &domain.UpstreamResponse{StatusCode: http.StatusOK, Cached: true}
	if p.Text != nil {
		resp.Body = []byte(*p.Text)
		return resp
	}
	resp.Body = []byte(p.JSON)
	resp.JSON = true
	return resp
}
