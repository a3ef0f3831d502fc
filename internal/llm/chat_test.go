package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"cv-evaluator-go/internal/config"
	"cv-evaluator-go/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestChatClient_Generate 正常返回首个候选的内容
func TestChatClient_Generate(t *testing.T) {
	var reqBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "test-model",
			"choices": [
				{"index": 0, "message": {"role": "assistant", "content": "{\"summary\": \"ok\"}"}, "finish_reason": "stop"}
			],
			"usage": {"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120}
		}`))
	}))
	defer server.Close()

	client, err := llm.NewChatClient(config.LLMConfig{
		APIKey:      "test-key",
		BaseURL:     server.URL,
		Model:       "test-model",
		Temperature: 0.2,
	})
	require.NoError(t, err, "应该成功创建chat客户端")

	content, err := client.Generate(context.Background(), []llm.Message{
		{Role: "system", Content: "你是评估助手"},
		{Role: "user", Content: "请评估"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"summary": "ok"}`, content)

	assert.Equal(t, "test-model", reqBody["model"], "请求应携带配置的模型名")
	assert.InDelta(t, 0.2, reqBody["temperature"], 0.001)
	messages := reqBody["messages"].([]interface{})
	require.Len(t, messages, 2)
}

// TestChatClient_Generate_APIError 非200状态码应返回错误
func TestChatClient_Generate_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limit exceeded", "type": "rate_limit"}}`))
	}))
	defer server.Close()

	client, err := llm.NewChatClient(config.LLMConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
	})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), []llm.Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

// TestChatClient_Generate_EmptyChoices 空候选应返回错误
func TestChatClient_Generate_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "chatcmpl-2", "choices": []}`))
	}))
	defer server.Close()

	client, err := llm.NewChatClient(config.LLMConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
	})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), []llm.Message{{Role: "user", Content: "hi"}})
	require.Error(t, err, "空候选列表应返回错误")
}

// TestNewChatClient_Validation 缺少必填配置应拒绝创建
func TestNewChatClient_Validation(t *testing.T) {
	_, err := llm.NewChatClient(config.LLMConfig{BaseURL: "http://x", Model: "m"})
	assert.Error(t, err, "缺少API密钥应返回错误")

	_, err = llm.NewChatClient(config.LLMConfig{APIKey: "k", Model: "m"})
	assert.Error(t, err, "缺少API地址应返回错误")

	_, err = llm.NewChatClient(config.LLMConfig{APIKey: "k", BaseURL: "http://x"})
	assert.Error(t, err, "缺少模型名应返回错误")
}
