package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cv-evaluator-go/internal/config"
	"cv-evaluator-go/internal/logger"
	"cv-evaluator-go/internal/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var chatTracer = otel.Tracer("cv-evaluator-go/llm/chat")

const (
	defaultChatTimeout = 120 * time.Second
	defaultTemperature = 0.2
)

// Message OpenAI兼容的对话消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatClient OpenAI兼容的chat completions客户端
// 适用于任何暴露 /chat/completions 端点的服务
type ChatClient struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	httpClient  *http.Client
}

// NewChatClient 创建chat completions客户端
func NewChatClient(cfg config.LLMConfig) (*ChatClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("LLM API密钥不能为空")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("LLM API地址不能为空")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("LLM模型名称不能为空")
	}

	timeout := defaultChatTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	logger.Info().
		Str("base_url", cfg.BaseURL).
		Str("model", cfg.Model).
		Msg("初始化LLM chat客户端")

	return &ChatClient{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		temperature: temperature,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

type chatCompletionChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Model   string                 `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
	Usage   chatUsage              `json:"usage"`
	Error   *apiError              `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// Generate 发送对话并返回首个候选的回复内容
func (c *ChatClient) Generate(ctx context.Context, messages []Message) (string, error) {
	ctx, span := chatTracer.Start(ctx, "llm.chat.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", c.model),
			attribute.Int("llm.message_count", len(messages)),
		))
	defer span.End()

	if len(messages) == 0 {
		err := fmt.Errorf("对话消息不能为空")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return "", err
	}

	reqBody := chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return "", fmt.Errorf("序列化chat请求失败: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return "", fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return "", fmt.Errorf("发送LLM请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return "", fmt.Errorf("读取LLM响应失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp chatCompletionResponse
		errMsg := string(body)
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != nil && errResp.Error.Message != "" {
			errMsg = errResp.Error.Message
		}
		err := fmt.Errorf("LLM调用失败, 状态码: %d, 错误: %s", resp.StatusCode, tracing.TruncateString(errMsg, 300))
		tracing.RecordHTTPError(span, err, resp.StatusCode)
		return "", err
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return "", fmt.Errorf("解析LLM响应JSON失败: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		err := fmt.Errorf("LLM返回错误: 类型=%s, 消息=%s", parsed.Error.Type, parsed.Error.Message)
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return "", err
	}
	if len(parsed.Choices) == 0 {
		err := fmt.Errorf("LLM响应不包含任何候选")
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return "", err
	}

	content := parsed.Choices[0].Message.Content
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", parsed.Usage.PromptTokens),
		attribute.Int("llm.completion_tokens", parsed.Usage.CompletionTokens),
	)
	logger.Debug().
		Str("model", c.model).
		Int("prompt_tokens", parsed.Usage.PromptTokens).
		Int("completion_tokens", parsed.Usage.CompletionTokens).
		Dur("duration", time.Since(start)).
		Msg("LLM调用完成")

	return content, nil
}
