package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"portfolio-bff/internal/common"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// newGenaiClient 测试时替换
var newGenaiClient = genai.NewClient

// GeminiModel 默认模型
const GeminiModel = "gemini-2.5-flash-lite"

// Gemini 通过 generative-ai-go 调用 Gemini
type Gemini struct {
	client    *genai.Client
	model     string
	retryOpts []common.Option
	logger    *zap.Logger
}

// NewGemini 创建 Gemini 客户端
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	client, err := newGenaiClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, common.WrapError(common.ErrCodeConfiguration, "Gemini 初始化失败", err)
	}
	model := cfg.Model
	if model == "" {
		model = GeminiModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gemini{
		client:    client,
		model:     model,
		retryOpts: cfg.RetryOpts,
		logger:    logger.With(zap.String("provider", ProviderGemini)),
	}, nil
}

// Name 提供方名称
func (g *Gemini) Name() string {
	return ProviderGemini
}

// Close 释放底层连接
func (g *Gemini) Close() error {
	return g.client.Close()
}

// Complete system prompt 走 SystemInstruction，问题作为用户输入
func (g *Gemini) Complete(ctx context.Context, systemPrompt, query string) (string, error) {
	// GenerativeModel 带状态，每次调用单独创建，避免并发请求互相覆盖
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(Temperature)
	model.SetMaxOutputTokens(MaxTokens)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}

	answer, err := complete(ctx, g.logger, g.retryOpts, func(ctx context.Context) (string, bool, error) {
		resp, err := model.GenerateContent(ctx, genai.Text(query))
		if err != nil {
			return "", !geminiRetryable(err), err
		}
		text, err := responseText(resp)
		if err != nil {
			return "", true, err
		}
		return text, false, nil
	})
	if err != nil {
		return "", common.WrapError(common.ErrCodeAIProcessing, "Gemini 调用失败", err)
	}
	return answer, nil
}

// responseText 拼接第一个候选的所有文本片段
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("AI 返回内容为空")
	}
	content := resp.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return "", errors.New("AI 返回内容为空")
	}

	var b strings.Builder
	for _, part := range content.Parts {
		text, ok := part.(genai.Text)
		if !ok {
			return "", fmt.Errorf("AI 返回格式错误: %T", part)
		}
		b.WriteString(string(text))
	}
	return b.String(), nil
}

func geminiRetryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return statusRetryable(apiErr.Code)
	}
	return true
}
