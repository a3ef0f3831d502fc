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

// TestEmbedder_EmbedStrings 批量向量化并按index还原顺序
func TestEmbedder_EmbedStrings(t *testing.T) {
	var reqBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))

		// 故意乱序返回，客户端应按index重排
		w.Write([]byte(`{
			"object": "list",
			"data": [
				{"object": "embedding", "embedding": [0.4, 0.5, 0.6], "index": 1},
				{"object": "embedding", "embedding": [0.1, 0.2, 0.3], "index": 0}
			],
			"model": "embed-model",
			"usage": {"prompt_tokens": 10, "total_tokens": 10}
		}`))
	}))
	defer server.Close()

	embedder, err := llm.NewEmbedder(config.EmbeddingConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Model:      "embed-model",
		Dimensions: 3,
	})
	require.NoError(t, err, "应该成功创建embedding客户端")

	vectors, err := embedder.EmbedStrings(context.Background(), []string{"岗位描述", "评分标准"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vectors[0], "第一个向量应对应第一个输入")
	assert.Equal(t, []float64{0.4, 0.5, 0.6}, vectors[1])

	assert.Equal(t, "embed-model", reqBody["model"])
	assert.Equal(t, float64(3), reqBody["dimensions"], "请求应携带配置的维度")
	input := reqBody["input"].([]interface{})
	require.Len(t, input, 2)
}

// TestEmbedder_EmbedStrings_Empty 空输入直接返回空结果，不发请求
func TestEmbedder_EmbedStrings_Empty(t *testing.T) {
	embedder, err := llm.NewEmbedder(config.EmbeddingConfig{
		APIKey:  "test-key",
		BaseURL: "http://127.0.0.1:1",
		Model:   "embed-model",
	})
	require.NoError(t, err)

	vectors, err := embedder.EmbedStrings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

// TestEmbedder_EmbedStrings_CountMismatch 返回条目数不符应报错
func TestEmbedder_EmbedStrings_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [{"embedding": [0.1], "index": 0}], "usage": {}}`))
	}))
	defer server.Close()

	embedder, err := llm.NewEmbedder(config.EmbeddingConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "embed-model",
	})
	require.NoError(t, err)

	_, err = embedder.EmbedStrings(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "不匹配")
}
