package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"portfolio-bff/internal/common"
	"portfolio-bff/internal/domain"

	"github.com/google/go-github/v53/github"
)

// Client 实现了 port.RepositorySource 接口
type Client struct {
	exec *Executor
}

// NewClient 基于 Executor 提供常用的 GitHub 接口
func NewClient(exec *Executor) *Client {
	return &Client{exec: exec}
}

// Executor 返回底层执行器
func (c *Client) Executor() *Executor {
	return c.exec
}

func repoPath(owner, repo string) string {
	return "repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}

// statusError 把非 2xx 响应转换成 UPSTREAM_RESPONSE_ERROR
func statusError(endpoint string, resp *domain.UpstreamResponse) error {
	return common.NewError(common.ErrCodeUpstreamResponse,
		fmt.Sprintf("%s 返回状态码 %d", endpoint, resp.StatusCode))
}

// ListUserRepos 拉取一页仓库，按更新时间排序。
// 返回值不是数组时视为空页。
func (c *Client) ListUserRepos(ctx context.Context, owner string, page, perPage int) ([]domain.RepositorySummary, error) {
	endpoint := "users/" + url.PathEscape(owner) + "/repos"
	resp, err := c.exec.Request(ctx, Call{
		Endpoint: endpoint,
		Params: url.Values{
			"page":     {strconv.Itoa(page)},
			"per_page": {strconv.Itoa(perPage)},
			"sort":     {"updated"},
		},
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, statusError(endpoint, resp)
	}

	var items []*github.Repository
	if !resp.JSON || resp.Decode(&items) != nil {
		return []domain.RepositorySummary{}, nil
	}

	repos := make([]domain.RepositorySummary, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		repos = append(repos, toSummary(item))
	}
	return repos, nil
}

// toSummary 将 GitHub 的数据结构转换为我们的 Domain 实体
func toSummary(item *github.Repository) domain.RepositorySummary {
	topics := item.Topics
	if topics == nil {
		topics = []string{}
	}
	return domain.RepositorySummary{
		ID:          item.GetID(),
		Name:        item.GetName(),
		FullName:    item.GetFullName(),
		Description: item.GetDescription(),
		Language:    item.GetLanguage(),
		Topics:      topics,
		Stars:       item.GetStargazersCount(),
		UpdatedAt:   item.GetUpdatedAt().Time,
		URL:         item.GetHTMLURL(),
		IsFork:      item.GetFork(),
		ForkParent:  item.GetParent().GetFullName(),
		Owner:       item.GetOwner().GetLogin(),
	}
}

// GetLanguages 按 API 返回顺序给出语言名
func (c *Client) GetLanguages(ctx context.Context, owner, repo string) ([]string, error) {
	endpoint := repoPath(owner, repo) + "/languages"
	resp, err := c.exec.Request(ctx, Call{Endpoint: endpoint})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, statusError(endpoint, resp)
	}
	langs, err := objectKeys(resp.Body)
	if err != nil {
		return nil, common.WrapError(common.ErrCodeParse, "无法解析语言列表", err)
	}
	return langs, nil
}

// objectKeys 按出现顺序返回 JSON 对象的顶层 key。
// map 会丢失顺序，所以这里逐个 token 读取。
func objectKeys(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}

	keys := []string{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		keys = append(keys, key)

		// 跳过对应的值
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// GetReadme 原始 README 文本，不存在时返回空串
func (c *Client) GetReadme(ctx context.Context, owner, repo string) (string, error) {
	resp, err := c.GetReadmeResponse(ctx, owner, repo)
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if !resp.OK() {
		return "", statusError(repoPath(owner, repo)+"/readme", resp)
	}
	return resp.Text(), nil
}

// GetReadmeResponse README 原始响应，原样透传
func (c *Client) GetReadmeResponse(ctx context.Context, owner, repo string) (*domain.UpstreamResponse, error) {
	return c.exec.Request(ctx, Call{Endpoint: repoPath(owner, repo) + "/readme", Raw: true})
}

// GetRepository 仓库详情，原样透传
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*domain.UpstreamResponse, error) {
	return c.exec.Request(ctx, Call{Endpoint: repoPath(owner, repo)})
}

// GetForkParent fork 的上游仓库全名
func (c *Client) GetForkParent(ctx context.Context, owner, repo string) (string, error) {
	endpoint := repoPath(owner, repo)
	resp, err := c.GetRepository(ctx, owner, repo)
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", statusError(endpoint, resp)
	}

	var detail github.Repository
	if err := resp.Decode(&detail); err != nil {
		return "", common.WrapError(common.ErrCodeParse, "无法解析仓库详情", err)
	}
	parent := detail.GetParent().GetFullName()
	if parent == "" {
		return "", common.NewError(common.ErrCodeNotFound, endpoint+" 没有 parent 信息")
	}
	return parent, nil
}

// GetFileContent 读取文件原始内容。文件不存在时 found 为 false。
func (c *Client) GetFileContent(ctx context.Context, owner, repo, path string) (content string, found bool, err error) {
	endpoint := repoPath(owner, repo) + "/contents/" + path
	resp, err := c.exec.Request(ctx, Call{Endpoint: endpoint, Raw: true})
	if err != nil {
		return "", false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if !resp.OK() {
		return "", false, statusError(endpoint, resp)
	}
	return resp.Text(), true, nil
}

// ListContents 列出目录内容
func (c *Client) ListContents(ctx context.Context, owner, repo, path string) ([]*github.RepositoryContent, error) {
	endpoint := repoPath(owner, repo) + "/contents/" + path
	resp, err := c.exec.Request(ctx, Call{Endpoint: endpoint})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, statusError(endpoint, resp)
	}

	var entries []*github.RepositoryContent
	if err := resp.Decode(&entries); err != nil {
		return nil, common.WrapError(common.ErrCodeParse, endpoint+" 不是目录", err)
	}
	return entries, nil
}

// RateLimit 查询 core 配额，不走缓存
func (c *Client) RateLimit(ctx context.Context) (*domain.RateLimitStatus, error) {
	resp, err := c.exec.Request(ctx, Call{Endpoint: "rate_limit", NoCache: true})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, statusError("rate_limit", resp)
	}

	var payload struct {
		Resources *github.RateLimits `json:"resources"`
	}
	if err := resp.Decode(&payload); err != nil {
		return nil, common.WrapError(common.ErrCodeParse, "无法解析 rate_limit", err)
	}
	core := payload.Resources.GetCore()
	if core == nil {
		return nil, common.NewError(common.ErrCodeParse, "rate_limit 缺少 core 配额")
	}
	return &domain.RateLimitStatus{
		Limit:     core.Limit,
		Remaining: core.Remaining,
		Reset:     core.Reset.Time,
	}, nil
}
