// Package llm 封装问答用的大模型。
package llm

import (
	"context"
	"fmt"
	"strings"

	"portfolio-bff/internal/common"
	"portfolio-bff/internal/port"

	"go.uber.org/zap"
)

// 支持的提供方
const (
	ProviderGroq   = "groq"
	ProviderGemini = "gemini"
)

// 生成参数，两个提供方一致
const (
	Temperature = 0.2
	MaxTokens   = 1000
)

// Config 选择提供方以及对应的密钥
type Config struct {
	Provider     string
	GroqAPIKey   string
	GeminiAPIKey string
	Model        string // 为空时使用提供方的默认模型
	BaseURL      string // 仅对 groq 生效
	RetryOpts    []common.Option
	Logger       *zap.Logger
}

// New 按配置创建 Completer。密钥缺失返回 CONFIGURATION_ERROR，
// 调用方应只关闭问答能力，其他接口照常工作。
func New(ctx context.Context, cfg Config) (port.Completer, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderGroq:
		if cfg.GroqAPIKey == "" {
			return nil, common.NewError(common.ErrCodeConfiguration, "GROQ_API_KEY not set")
		}
		return NewGroq(cfg), nil
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, common.NewError(common.ErrCodeConfiguration, "GEMINI_API_KEY not set")
		}
		g, err := NewGemini(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, common.NewError(common.ErrCodeConfiguration,
			fmt.Sprintf("unknown LLM provider %q", cfg.Provider))
	}
}

// complete 带重试地调用一次模型。permanent 为 true 的错误不再重试。
func complete(ctx context.Context, logger *zap.Logger, opts []common.Option, call func(ctx context.Context) (string, bool, error)) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		answer  string
		lastErr error
		stopped bool
	)
	err := common.Do(ctx, func() error {
		text, permanent, err := call(ctx)
		if err == nil {
			answer = text
			return nil
		}
		lastErr = err
		if permanent {
			stopped = true
			return nil
		}
		logger.Warn("LLM request failed, retrying", zap.Error(err))
		return err
	}, opts...)
	if stopped {
		return "", lastErr
	}
	if err != nil {
		return "", err
	}
	return answer, nil
}
