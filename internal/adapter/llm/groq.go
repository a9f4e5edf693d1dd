package llm

import (
	"context"
	"errors"
	"net/http"

	"portfolio-bff/internal/common"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	// GroqBaseURL Groq 的 OpenAI 兼容接口
	GroqBaseURL = "https://api.groq.com/openai/v1"
	// GroqModel 默认模型
	GroqModel = "llama-3.1-8b-instant"
)

// Groq 通过 OpenAI 兼容协议调用 Groq
type Groq struct {
	client    *openai.Client
	model     string
	retryOpts []common.Option
	logger    *zap.Logger
}

// NewGroq 创建 Groq 客户端，不校验密钥
func NewGroq(cfg Config) *Groq {
	clientConfig := openai.DefaultConfig(cfg.GroqAPIKey)
	clientConfig.BaseURL = GroqBaseURL
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = GroqModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Groq{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     model,
		retryOpts: cfg.RetryOpts,
		logger:    logger.With(zap.String("provider", ProviderGroq)),
	}
}

// Name 提供方名称
func (g *Groq) Name() string {
	return ProviderGroq
}

// Complete 发送 system + user 两条消息，返回第一条回复
func (g *Groq) Complete(ctx context.Context, systemPrompt, query string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
		Temperature: Temperature,
		MaxTokens:   MaxTokens,
	}

	answer, err := complete(ctx, g.logger, g.retryOpts, func(ctx context.Context) (string, bool, error) {
		resp, err := g.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", !retryable(err), err
		}
		if len(resp.Choices) == 0 {
			return "", true, errors.New("empty chat response")
		}
		return resp.Choices[0].Message.Content, false, nil
	})
	if err != nil {
		return "", common.WrapError(common.ErrCodeAIProcessing, "Groq 调用失败", err)
	}
	return answer, nil
}

// retryable 只有 429 和 5xx 值得重试，其余 4xx 是请求本身的问题
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusRetryable(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusRetryable(reqErr.HTTPStatusCode)
	}
	return true
}

func statusRetryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
