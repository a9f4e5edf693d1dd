// Package httpapi 对外暴露的 HTTP 接口
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"portfolio-bff/internal/common"
	"portfolio-bff/internal/domain"
	"portfolio-bff/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Portfolio 接口层依赖的业务能力，由 service.PortfolioService 实现
type Portfolio interface {
	ListRepositories(ctx context.Context) ([]domain.RepositorySummary, error)
	ProcessedRepositories(ctx context.Context) ([]domain.RepositoryDetail, error)
	GetRepository(ctx context.Context, owner, repo string) (*domain.UpstreamResponse, error)
	GetReadme(ctx context.Context, owner, repo string) (*domain.UpstreamResponse, error)
	Query(ctx context.Context, query string) (*service.QueryResult, error)
	Health(ctx context.Context) service.HealthReport
}

var _ Portfolio = (*service.PortfolioService)(nil)

// ErrorBody 错误响应
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Server HTTP 服务
type Server struct {
	echo      *echo.Echo
	portfolio Portfolio
	logger    *zap.Logger
}

// NewServer 注册路由和中间件
func NewServer(portfolio Portfolio, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, portfolio: portfolio, logger: logger}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())
	e.Use(s.requestLogger())

	api := e.Group("/api")
	api.GET("/github/repos", s.listRepositories)
	api.GET("/github/repos/:username/:repo", s.getRepository)
	api.GET("/github/repos/:username/:repo/readme", s.getReadme)
	api.GET("/portfolio/repos", s.processedRepositories)
	api.POST("/portfolio/query", s.query)
	api.GET("/health", s.health)

	return s
}

// Handler 用于 httptest 或挂到其他 server 上
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start 阻塞直到 Shutdown 被调用
func (s *Server) Start(addr string) error {
	s.logger.Info("HTTP server listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				s.logger.Warn("request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			s.logger.Info("request", fields...)
			return nil
		},
	})
}

// statusFor 错误码到 HTTP 状态码
func statusFor(err error) int {
	switch common.CodeOf(err) {
	case common.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case common.ErrCodeNotFound:
		return http.StatusNotFound
	case common.ErrCodeUpstreamNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) ErrorBody {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		body := ErrorBody{Error: appErr.Message, Code: appErr.Code}
		if appErr.Err != nil {
			body.Message = appErr.Err.Error()
		}
		return body
	}
	return ErrorBody{Error: "Internal server error", Message: err.Error(), Code: common.ErrCodeInternal}
}

// handleError 统一的错误出口，echo 自身的错误 (404 路由、405) 保持原状态码
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		msg := http.StatusText(httpErr.Code)
		if m, ok := httpErr.Message.(string); ok {
			msg = m
		}
		_ = c.JSON(httpErr.Code, ErrorBody{Error: msg})
		return
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request error", zap.String("path", c.Path()), zap.Error(err))
	}
	_ = c.JSON(status, errorBody(err))
}

func (s *Server) listRepositories(c echo.Context) error {
	repos, err := s.portfolio.ListRepositories(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, repos)
}

func (s *Server) processedRepositories(c echo.Context) error {
	repos, err := s.portfolio.ProcessedRepositories(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, repos)
}

// getRepository 上游状态码和响应体原样返回
func (s *Server) getRepository(c echo.Context) error {
	resp, err := s.portfolio.GetRepository(c.Request().Context(), c.Param("username"), c.Param("repo"))
	if err != nil {
		return err
	}
	if !resp.OK() {
		s.logger.Warn("GitHub returned non-2xx status",
			zap.String("repo", c.Param("username")+"/"+c.Param("repo")),
			zap.Int("status", resp.StatusCode),
		)
	}
	return c.Blob(resp.StatusCode, echo.MIMEApplicationJSON, resp.Body)
}

func (s *Server) getReadme(c echo.Context) error {
	owner, repo := c.Param("username"), c.Param("repo")
	resp, err := s.portfolio.GetReadme(c.Request().Context(), owner, repo)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusOK {
		return c.Blob(http.StatusOK, echo.MIMETextPlainCharsetUTF8, resp.Body)
	}
	s.logger.Warn("failed to fetch README",
		zap.String("repo", owner+"/"+repo),
		zap.Int("status", resp.StatusCode),
	)
	return c.JSON(resp.StatusCode, ErrorBody{Error: "README not found"})
}

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) query(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return common.WrapError(common.ErrCodeInvalidInput, "Invalid request body", err)
	}

	start := time.Now()
	result, err := s.portfolio.Query(c.Request().Context(), req.Query)
	if err != nil {
		return err
	}
	s.logger.Info("portfolio query processed",
		zap.Int("repositories", len(result.Repositories)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return c.JSON(http.StatusOK, result)
}

// health 始终返回 200，依赖状态放在响应体里
func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, s.portfolio.Health(c.Request().Context()))
}
