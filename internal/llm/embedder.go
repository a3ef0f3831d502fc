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

var embedderTracer = otel.Tracer("cv-evaluator-go/llm/embedder")

const defaultEmbedTimeout = 60 * time.Second

// Embedder OpenAI兼容的embeddings客户端
type Embedder struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	httpClient *http.Client
}

// NewEmbedder 创建embeddings客户端
func NewEmbedder(cfg config.EmbeddingConfig) (*Embedder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("Embedding API密钥不能为空")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("Embedding API地址不能为空")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("Embedding模型名称不能为空")
	}

	timeout := defaultEmbedTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	return &Embedder{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Dimensions 返回配置的向量维度
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingDataEntry struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingResponse struct {
	Object string               `json:"object"`
	Data   []embeddingDataEntry `json:"data"`
	Model  string               `json:"model"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

// EmbedStrings 将文本批量转换为向量，结果顺序与输入一致
func (e *Embedder) EmbedStrings(ctx context.Context, texts []string) ([][]float64, error) {
	ctx, span := embedderTracer.Start(ctx, "llm.embedder.embed_strings",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", e.model),
			attribute.Int("llm.text_count", len(texts)),
		))
	defer span.End()

	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	reqBody := embeddingRequest{
		Input: texts,
		Model: e.model,
	}
	if e.dimensions > 0 {
		reqBody.Dimensions = e.dimensions
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return nil, fmt.Errorf("序列化embedding请求失败: %w", err)
	}

	url := e.baseURL + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, fmt.Errorf("发送embedding请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, fmt.Errorf("读取embedding响应失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp embeddingResponse
		errMsg := string(body)
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != nil && errResp.Error.Message != "" {
			errMsg = errResp.Error.Message
		}
		err := fmt.Errorf("embedding调用失败, 状态码: %d, 错误: %s", resp.StatusCode, tracing.TruncateString(errMsg, 300))
		tracing.RecordHTTPError(span, err, resp.StatusCode)
		return nil, err
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, fmt.Errorf("解析embedding响应JSON失败: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		err := fmt.Errorf("embedding服务返回错误: 类型=%s, 消息=%s", parsed.Error.Type, parsed.Error.Message)
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, err
	}
	if len(parsed.Data) != len(texts) {
		err := fmt.Errorf("embedding响应条目数不匹配: 期望 %d, 实际 %d", len(texts), len(parsed.Data))
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, err
	}

	// 按index还原顺序，服务端不保证返回顺序与输入一致
	embeddings := make([][]float64, len(texts))
	for _, entry := range parsed.Data {
		if entry.Index < 0 || entry.Index >= len(texts) {
			err := fmt.Errorf("embedding响应index越界: %d", entry.Index)
			tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
			return nil, err
		}
		embeddings[entry.Index] = entry.Embedding
	}

	logger.Debug().
		Str("model", e.model).
		Int("texts", len(texts)).
		Int("prompt_tokens", parsed.Usage.PromptTokens).
		Msg("文本向量化完成")

	return embeddings, nil
}
