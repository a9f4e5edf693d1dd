package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"portfolio-bff/internal/common"
	"portfolio-bff/internal/domain"
	"portfolio-bff/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// MockPortfolio 模拟 Portfolio 接口
type MockPortfolio struct {
	mock.Mock
}

func (m *MockPortfolio) ListRepositories(ctx context.Context) ([]domain.RepositorySummary, error) {
	args := m.Called(ctx)
	repos, _ := args.Get(0).([]domain.RepositorySummary)
	return repos, args.Error(1)
}

func (m *MockPortfolio) ProcessedRepositories(ctx context.Context) ([]domain.RepositoryDetail, error) {
	args := m.Called(ctx)
	repos, _ := args.Get(0).([]domain.RepositoryDetail)
	return repos, args.Error(1)
}

func (m *MockPortfolio) GetRepository(ctx context.Context, owner, repo string) (*domain.UpstreamResponse, error) {
	args := m.Called(ctx, owner, repo)
	resp, _ := args.Get(0).(*domain.UpstreamResponse)
	return resp, args.Error(1)
}

func (m *MockPortfolio) GetReadme(ctx context.Context, owner, repo string) (*domain.UpstreamResponse, error) {
	args := m.Called(ctx, owner, repo)
	resp, _ := args.Get(0).(*domain.UpstreamResponse)
	return resp, args.Error(1)
}

func (m *MockPortfolio) Query(ctx context.Context, query string) (*service.QueryResult, error) {
	args := m.Called(ctx, query)
	result, _ := args.Get(0).(*service.QueryResult)
	return result, args.Error(1)
}

func (m *MockPortfolio) Health(ctx context.Context) service.HealthReport {
	args := m.Called(ctx)
	return args.Get(0).(service.HealthReport)
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestListRepositories(t *testing.T) {
	p := new(MockPortfolio)
	p.On("ListRepositories", mock.Anything).Return([]domain.RepositorySummary{
		{Name: "portfolio", FullName: "yungryce/portfolio", Topics: []string{}},
	}, nil)

	rec := do(t, NewServer(p, nil), http.MethodGet, "/api/github/repos", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var repos []domain.RepositorySummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &repos))
	require.Len(t, repos, 1)
	assert.Equal(t, "yungryce/portfolio", repos[0].FullName)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "未配置 token",
			err:        common.NewError(common.ErrCodeConfiguration, "GitHub token not configured"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "GitHub token not configured",
		},
		{
			name:       "GitHub 不可达",
			err:        common.WrapError(common.ErrCodeUpstreamNetwork, "GitHub 请求失败", errors.New("no such host")),
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "GitHub 请求失败",
		},
		{
			name:       "不存在",
			err:        common.NewError(common.ErrCodeNotFound, "missing"),
			wantStatus: http.StatusNotFound,
			wantError:  "missing",
		},
		{
			name:       "普通错误",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := new(MockPortfolio)
			p.On("ProcessedRepositories", mock.Anything).Return(nil, tt.err)

			rec := do(t, NewServer(p, nil), http.MethodGet, "/api/portfolio/repos", "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, decodeError(t, rec).Error)
		})
	}
}

func TestGetRepository_PassThrough(t *testing.T) {
	p := new(MockPortfolio)
	p.On("GetRepository", mock.Anything, "yungryce", "portfolio").
		Return(&domain.UpstreamResponse{StatusCode: http.StatusOK, Body: []byte(`{"id":1}`), JSON: true}, nil)
	p.On("GetRepository", mock.Anything, "yungryce", "gone").
		Return(&domain.UpstreamResponse{StatusCode: http.StatusNotFound, Body: []byte(`{"message":"Not Found"}`), JSON: true}, nil)
	s := NewServer(p, nil)

	rec := do(t, s, http.MethodGet, "/api/github/repos/yungryce/portfolio", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":1}`, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	rec = do(t, s, http.MethodGet, "/api/github/repos/yungryce/gone", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"message":"Not Found"}`, rec.Body.String())
}

func TestGetReadme(t *testing.T) {
	p := new(MockPortfolio)
	p.On("GetReadme", mock.Anything, "yungryce", "portfolio").
		Return(&domain.UpstreamResponse{StatusCode: http.StatusOK, Body: []byte("# Portfolio\n")}, nil)
	p.On("GetReadme", mock.Anything, "yungryce", "empty").
		Return(&domain.UpstreamResponse{StatusCode: http.StatusNotFound, Body: []byte(`{"message":"Not Found"}`)}, nil)
	s := NewServer(p, nil)

	rec := do(t, s, http.MethodGet, "/api/github/repos/yungryce/portfolio/readme", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# Portfolio\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	rec = do(t, s, http.MethodGet, "/api/github/repos/yungryce/empty/readme", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "README not found", decodeError(t, rec).Error)
}

func TestQuery(t *testing.T) {
	p := new(MockPortfolio)
	p.On("Query", mock.Anything, "What stack?").Return(&service.QueryResult{
		Response:     "Go and Shell.",
		Repositories: []domain.RepositoryDetail{{RepositorySummary: domain.RepositorySummary{Name: "portfolio"}}},
	}, nil)

	rec := do(t, NewServer(p, nil), http.MethodPost, "/api/portfolio/query", `{"query":"What stack?"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var result service.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "Go and Shell.", result.Response)
	require.Len(t, result.Repositories, 1)
	assert.Equal(t, "portfolio", result.Repositories[0].Name)
}

func TestQuery_BadRequests(t *testing.T) {
	p := new(MockPortfolio)
	p.On("Query", mock.Anything, "").
		Return(nil, common.NewError(common.ErrCodeInvalidInput, "Missing query parameter"))
	s := NewServer(p, nil)

	rec := do(t, s, http.MethodPost, "/api/portfolio/query", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing query parameter", decodeError(t, rec).Error)

	rec = do(t, s, http.MethodPost, "/api/portfolio/query", `{"query":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, common.ErrCodeInvalidInput, decodeError(t, rec).Code)

	rec = do(t, s, http.MethodGet, "/api/portfolio/query", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	p := new(MockPortfolio)
	p.On("Health", mock.Anything).Return(service.HealthReport{
		Status:       service.StatusDegraded,
		Dependencies: map[string]string{"github": "unreachable", "cache": "ok", "llm": "not_configured"},
	})

	rec := do(t, NewServer(p, nil), http.MethodGet, "/api/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","dependencies":{"github":"unreachable","cache":"ok","llm":"not_configured"}}`, rec.Body.String())
}

func TestRequestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	p := new(MockPortfolio)
	p.On("ListRepositories", mock.Anything).Return(nil, common.NewError(common.ErrCodeConfiguration, "GitHub token not configured"))

	rec := do(t, NewServer(p, zap.New(core)), http.MethodGet, "/api/github/repos", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	entries := logs.FilterMessage("request failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/api/github/repos", fields["uri"])
	assert.EqualValues(t, http.StatusInternalServerError, fields["status"])
	assert.NotEmpty(t, fields["request_id"])

	assert.Equal(t, 1, logs.FilterMessage("request error").Len())
}

func TestUnknownRoute(t *testing.T) {
	rec := do(t, NewServer(new(MockPortfolio), nil), http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", decodeError(t, rec).Error)
}
