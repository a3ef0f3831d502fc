package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"cv-evaluator-go/internal/config"
	"cv-evaluator-go/internal/llm"
	"cv-evaluator-go/internal/storage"
	"cv-evaluator-go/internal/storage/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 测试替身 ---

type fakeStore struct {
	evaluation *models.Evaluation
	loadErr    error

	claimResult bool
	claimErr    error

	completed       bool
	completedScores storage.EvaluationScores
	completeErr     error

	failedReason string
	markFailErr  error
}

func (f *fakeStore) GetEvaluationWithRelations(ctx context.Context, id string) (*models.Evaluation, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.evaluation, nil
}

func (f *fakeStore) ClaimEvaluation(ctx context.Context, id string) (bool, error) {
	return f.claimResult, f.claimErr
}

func (f *fakeStore) MarkEvaluationFailed(ctx context.Context, id string, reason string) error {
	if f.markFailErr != nil {
		return f.markFailErr
	}
	f.failedReason = reason
	return nil
}

func (f *fakeStore) CompleteEvaluation(ctx context.Context, id string, scores storage.EvaluationScores) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed = true
	f.completedScores = scores
	return nil
}

type fakeVectors struct {
	upserts       [][]storage.VectorPoint
	searchCalls   int
	searchFilters []map[string]interface{}
	searchResults []storage.SearchResult
	searchErr     error
	upsertErr     error
}

func (f *fakeVectors) UpsertPoints(ctx context.Context, points []storage.VectorPoint) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, points)
	return nil
}

func (f *fakeVectors) Search(ctx context.Context, vector []float64, limit int, filter map[string]interface{}) ([]storage.SearchResult, error) {
	f.searchCalls++
	f.searchFilters = append(f.searchFilters, filter)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchResults, nil
}

type scriptedChat struct {
	response   string
	err        error
	lastPrompt string
}

func (f *scriptedChat) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	if len(messages) > 0 {
		f.lastPrompt = messages[len(messages)-1].Content
	}
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedStrings(ctx context.Context, texts []string) ([][]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{0.1, 0.2, 0.3}
	}
	return out, nil
}

type fakeExtractor struct {
	texts map[string]string
}

func (f *fakeExtractor) Extract(ctx context.Context, data []byte, filename string) string {
	return f.texts[filename]
}

func (f *fakeExtractor) ExtractFile(ctx context.Context, filePath string) string {
	return f.texts[filePath]
}

type fakeDocs struct {
	objects map[string][]byte
}

func (f *fakeDocs) DownloadDocument(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("对象 %s 不存在", key)
	}
	return data, nil
}

type fakeCache struct {
	vectors map[string][]float64
	sets    int
}

func (f *fakeCache) GetJobVector(ctx context.Context, jobID, kind string) ([]float64, error) {
	if v, ok := f.vectors[jobID+":"+kind]; ok {
		return v, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeCache) SetJobVector(ctx context.Context, jobID, kind string, vector []float64) error {
	if f.vectors == nil {
		f.vectors = make(map[string][]float64)
	}
	f.vectors[jobID+":"+kind] = vector
	f.sets++
	return nil
}

// --- 测试用例 ---

func testEvaluation() *models.Evaluation {
	return &models.Evaluation{
		EvaluationID: "eval-1",
		CandidateID:  "cand-1",
		JobID:        "job-1",
		Status:       models.EvaluationStatusProcessing,
		Candidate: &models.Candidate{
			CandidateID:     "cand-1",
			Name:            "张三",
			CVFilePath:      "/uploads/cv-1.pdf",
			ProjectFilePath: "/uploads/project-1.pdf",
		},
		Job: &models.JobVacancy{
			JobID:          "job-1",
			Title:          "后端工程师",
			Description:    "负责候选人评估服务的后端开发与维护，要求扎实的Go语言功底，熟悉MySQL、Redis、RabbitMQ与向量检索，具备大模型应用集成经验者优先，能够独立完成模块设计与上线。",
			StudyCaseBrief: "实现一个RAG评估流水线。",
		},
	}
}

func newTestPipeline(t *testing.T, store *fakeStore, vectors *fakeVectors, chat ChatModel, embedder *fakeEmbedder, extractor *fakeExtractor, cache *fakeCache) *Pipeline {
	t.Helper()
	p, err := NewPipeline(PipelineDeps{
		Store:     store,
		Vectors:   vectors,
		Chat:      chat,
		Embedder:  embedder,
		Extractor: extractor,
		Documents: &fakeDocs{},
		Cache:     cache,
	}, &config.PipelineConfig{TopK: 5, QueryPrefixChars: 2000, MinContentLength: 50})
	require.NoError(t, err)
	return p
}

func longText(base string) string {
	return base + strings.Repeat(" 经验丰富的后端开发工程师。", 20)
}

// TestPipeline_Run_HappyPath 完整流水线执行成功
func TestPipeline_Run_HappyPath(t *testing.T) {
	store := &fakeStore{evaluation: testEvaluation()}
	vectors := &fakeVectors{
		searchResults: []storage.SearchResult{
			{ID: "p1", Score: 0.9, Payload: map[string]interface{}{"text": "要求Go经验"}},
		},
	}
	chat := &scriptedChat{response: validResultJSON}
	embedder := &fakeEmbedder{}
	extractor := &fakeExtractor{texts: map[string]string{
		"/uploads/cv-1.pdf":      longText("简历内容"),
		"/uploads/project-1.pdf": longText("项目报告"),
	}}
	cache := &fakeCache{}

	p := newTestPipeline(t, store, vectors, chat, embedder, extractor, cache)
	err := p.Run(context.Background(), "eval-1")
	require.NoError(t, err, "流水线应执行成功")

	require.True(t, store.completed, "评估应被标记为COMPLETED")
	assert.InDelta(t, 78.0, store.completedScores.CVMatchRate, 0.001)
	assert.InDelta(t, 3.35, store.completedScores.ProjectScore, 0.001)
	assert.NotEmpty(t, store.completedScores.OverallSummary)
	assert.NotEmpty(t, store.completedScores.RawResultJSON, "应保留原始评分JSON")

	// 岗位上下文upsert使用确定性point ID
	require.GreaterOrEqual(t, len(vectors.upserts), 1)
	jobPoints := vectors.upserts[0]
	require.Len(t, jobPoints, 2, "应写入岗位描述与评分标准两个点")
	assert.Equal(t, storage.StablePointID("job-1", "job_description"), jobPoints[0].ID)
	assert.Equal(t, storage.StablePointID("job-1", "scoring_rubric"), jobPoints[1].ID)

	// 两路检索均限定岗位
	assert.Equal(t, 2, vectors.searchCalls, "应执行两路检索")
	for _, filter := range vectors.searchFilters {
		must := filter["must"].([]map[string]interface{})
		assert.Equal(t, "jobId", must[0]["key"])
	}

	// 评估结果尽力入库：第二次upsert带identifier payload
	require.Len(t, vectors.upserts, 2, "评估结果应写入向量库")
	resultPoint := vectors.upserts[1][0]
	assert.Equal(t, "eval-1", resultPoint.Payload["identifier"])
	assert.Equal(t, "evaluation_result", resultPoint.Payload["type"])
	assert.NotEqual(t, storage.StablePointID("job-1", "evaluation_result"), resultPoint.ID, "评估结果应使用随机point ID")

	// 岗位向量应写入缓存
	assert.Equal(t, 2, cache.sets, "两类岗位上下文向量都应缓存")

	// 提示词应包含检索片段与原文
	assert.Contains(t, chat.lastPrompt, "要求Go经验")
	assert.Contains(t, chat.lastPrompt, "后端工程师")
	assert.Contains(t, chat.lastPrompt, "Job description usable: true")
}

// TestPipeline_Run_CachedJobVectors 缓存命中时不再为岗位上下文调用embedding
func TestPipeline_Run_CachedJobVectors(t *testing.T) {
	store := &fakeStore{evaluation: testEvaluation()}
	vectors := &fakeVectors{}
	chat := &scriptedChat{response: validResultJSON}
	embedder := &fakeEmbedder{}
	extractor := &fakeExtractor{texts: map[string]string{
		"/uploads/cv-1.pdf":      longText("简历内容"),
		"/uploads/project-1.pdf": longText("项目报告"),
	}}
	cache := &fakeCache{vectors: map[string][]float64{
		"job-1:job_description": {0.1, 0.2, 0.3},
		"job-1:scoring_rubric":  {0.4, 0.5, 0.6},
	}}

	p := newTestPipeline(t, store, vectors, chat, embedder, extractor, cache)
	require.NoError(t, p.Run(context.Background(), "eval-1"))

	// embedding只用于查询前缀和结果索引，各一次
	assert.Equal(t, 2, embedder.calls, "岗位上下文向量应全部来自缓存")
	assert.Equal(t, 0, cache.sets)
}

// TestPipeline_Run_LLMError LLM调用失败应返回对应哨兵错误
func TestPipeline_Run_LLMError(t *testing.T) {
	store := &fakeStore{evaluation: testEvaluation()}
	chat := &scriptedChat{err: errors.New("connection refused")}
	extractor := &fakeExtractor{texts: map[string]string{
		"/uploads/cv-1.pdf":      longText("简历内容"),
		"/uploads/project-1.pdf": longText("项目报告"),
	}}

	p := newTestPipeline(t, store, &fakeVectors{}, chat, &fakeEmbedder{}, extractor, &fakeCache{})
	err := p.Run(context.Background(), "eval-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLLMInvocationFailed), "应返回LLM调用失败哨兵错误")
	assert.False(t, store.completed)
}

// TestPipeline_Run_InvalidResult 无法通过校验的LLM输出应返回结果无效错误
func TestPipeline_Run_InvalidResult(t *testing.T) {
	store := &fakeStore{evaluation: testEvaluation()}
	chat := &scriptedChat{response: `{"cv": null, "project": null, "summary": ""}`}
	extractor := &fakeExtractor{texts: map[string]string{
		"/uploads/cv-1.pdf":      longText("简历内容"),
		"/uploads/project-1.pdf": longText("项目报告"),
	}}

	p := newTestPipeline(t, store, &fakeVectors{}, chat, &fakeEmbedder{}, extractor, &fakeCache{})
	err := p.Run(context.Background(), "eval-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResultInvalid))
	assert.False(t, store.completed, "校验失败不应写入COMPLETED")
}

// TestPipeline_Run_EmbeddingError 向量化失败应返回对应哨兵错误
func TestPipeline_Run_EmbeddingError(t *testing.T) {
	store := &fakeStore{evaluation: testEvaluation()}
	extractor := &fakeExtractor{texts: map[string]string{
		"/uploads/cv-1.pdf":      longText("简历内容"),
		"/uploads/project-1.pdf": longText("项目报告"),
	}}

	p := newTestPipeline(t, store, &fakeVectors{}, &scriptedChat{response: validResultJSON},
		&fakeEmbedder{err: errors.New("embedding service down")}, extractor, &fakeCache{})
	err := p.Run(context.Background(), "eval-1")
	require.Error(t, err)
	// 岗位上下文向量化先失败
	assert.True(t, errors.Is(err, ErrJobContextIndexFailed) || errors.Is(err, ErrEmbeddingFailed))
}

// TestPipeline_Run_SearchError 检索失败应返回对应哨兵错误
func TestPipeline_Run_SearchError(t *testing.T) {
	store := &fakeStore{evaluation: testEvaluation()}
	vectors := &fakeVectors{searchErr: errors.New("qdrant unavailable")}
	extractor := &fakeExtractor{texts: map[string]string{
		"/uploads/cv-1.pdf":      longText("简历内容"),
		"/uploads/project-1.pdf": longText("项目报告"),
	}}

	p := newTestPipeline(t, store, vectors, &scriptedChat{response: validResultJSON}, &fakeEmbedder{}, extractor, &fakeCache{})
	err := p.Run(context.Background(), "eval-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetrievalFailed))
}

// TestPipeline_Run_LoadError 加载评估记录失败应返回对应哨兵错误
func TestPipeline_Run_LoadError(t *testing.T) {
	store := &fakeStore{loadErr: errors.New("record not found")}

	p := newTestPipeline(t, store, &fakeVectors{}, &scriptedChat{response: validResultJSON}, &fakeEmbedder{},
		&fakeExtractor{texts: map[string]string{}}, &fakeCache{})
	err := p.Run(context.Background(), "eval-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEvaluationLoadFailed))
}

// TestPipeline_Run_ShortContentDoesNotAbort 内容过短不应中止流水线
func TestPipeline_Run_ShortContentDoesNotAbort(t *testing.T) {
	store := &fakeStore{evaluation: testEvaluation()}
	chat := &scriptedChat{response: validResultJSON}
	extractor := &fakeExtractor{texts: map[string]string{
		"/uploads/cv-1.pdf":      "太短",
		"/uploads/project-1.pdf": "",
	}}

	p := newTestPipeline(t, store, &fakeVectors{}, chat, &fakeEmbedder{}, extractor, &fakeCache{})
	err := p.Run(context.Background(), "eval-1")
	require.NoError(t, err, "内容有效性只影响提示词，不中止评估")
	assert.True(t, store.completed)
	assert.Contains(t, chat.lastPrompt, "CV content usable: false")
	assert.Contains(t, chat.lastPrompt, "Project report content usable: false")
}

// TestPipeline_Run_ShortJobDescriptionFlagged 岗位描述过短应写入校验标记但不中止
func TestPipeline_Run_ShortJobDescriptionFlagged(t *testing.T) {
	evaluation := testEvaluation()
	evaluation.Job.Description = "后端开发。"
	store := &fakeStore{evaluation: evaluation}
	chat := &scriptedChat{response: validResultJSON}
	extractor := &fakeExtractor{texts: map[string]string{
		"/uploads/cv-1.pdf":      longText("简历内容"),
		"/uploads/project-1.pdf": longText("项目报告"),
	}}

	p := newTestPipeline(t, store, &fakeVectors{}, chat, &fakeEmbedder{}, extractor, &fakeCache{})
	require.NoError(t, p.Run(context.Background(), "eval-1"))
	assert.True(t, store.completed)
	assert.Contains(t, chat.lastPrompt, "Job description usable: false")
	assert.Contains(t, chat.lastPrompt, "CV content usable: true")
}

// TestPipeline_Run_ContentLengthCountsRunes 长度阈值按字符数而非字节数判定
// 20个汉字共60字节，按字节算会误判为内容达标
func TestPipeline_Run_ContentLengthCountsRunes(t *testing.T) {
	store := &fakeStore{evaluation: testEvaluation()}
	chat := &scriptedChat{response: validResultJSON}
	extractor := &fakeExtractor{texts: map[string]string{
		"/uploads/cv-1.pdf":      strings.Repeat("验", 20),
		"/uploads/project-1.pdf": longText("项目报告"),
	}}

	p := newTestPipeline(t, store, &fakeVectors{}, chat, &fakeEmbedder{}, extractor, &fakeCache{})
	require.NoError(t, p.Run(context.Background(), "eval-1"))
	assert.Contains(t, chat.lastPrompt, "CV content usable: false")
	assert.Contains(t, chat.lastPrompt, "Project report content usable: true")
}

// TestPrefix 查询前缀截断不应切断多字节字符
func TestPrefix(t *testing.T) {
	assert.Equal(t, "abc", prefix("abc", 10))
	assert.Equal(t, "abcde", prefix("abcdefgh", 5))

	// "评估" UTF-8共6字节，在4字节处截断应退回到完整字符边界
	s := "评估"
	cut := prefix(s, 4)
	assert.Equal(t, "评", cut)
}
