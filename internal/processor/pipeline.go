package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"cv-evaluator-go/internal/config"
	"cv-evaluator-go/internal/constants"
	"cv-evaluator-go/internal/logger"
	"cv-evaluator-go/internal/storage"
	"cv-evaluator-go/internal/storage/models"
	"cv-evaluator-go/internal/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var pipelineTracer = otel.Tracer("cv-evaluator-go/processor/pipeline")

// 确保Pipeline实现了PipelineRunner接口
var _ PipelineRunner = (*Pipeline)(nil)

// Pipeline 评估流水线
// 编排一次评估的全部步骤：加载记录、索引岗位上下文、提取文档文本、
// 检索增强、LLM评分、严格校验并落库
type Pipeline struct {
	store     EvaluationStore
	vectors   VectorStore
	chat      ChatModel
	embedder  TextEmbedder
	extractor DocumentExtractor
	documents DocumentStore
	cache     VectorCache

	topK             int
	queryPrefixChars int
	minContentLength int
}

// PipelineDeps 流水线依赖，全部通过注入提供
type PipelineDeps struct {
	Store     EvaluationStore
	Vectors   VectorStore
	Chat      ChatModel
	Embedder  TextEmbedder
	Extractor DocumentExtractor
	Documents DocumentStore
	Cache     VectorCache
}

// NewPipeline 创建评估流水线
func NewPipeline(deps PipelineDeps, cfg *config.PipelineConfig) (*Pipeline, error) {
	if deps.Store == nil || deps.Vectors == nil || deps.Chat == nil || deps.Embedder == nil || deps.Extractor == nil {
		return nil, fmt.Errorf("流水线缺少必要依赖")
	}

	p := &Pipeline{
		store:            deps.Store,
		vectors:          deps.Vectors,
		chat:             deps.Chat,
		embedder:         deps.Embedder,
		extractor:        deps.Extractor,
		documents:        deps.Documents,
		cache:            deps.Cache,
		topK:             5,
		queryPrefixChars: 2000,
		minContentLength: 50,
	}
	if cfg != nil {
		if cfg.TopK > 0 {
			p.topK = cfg.TopK
		}
		if cfg.QueryPrefixChars > 0 {
			p.queryPrefixChars = cfg.QueryPrefixChars
		}
		if cfg.MinContentLength > 0 {
			p.minContentLength = cfg.MinContentLength
		}
	}
	return p, nil
}

// Run 执行一次评估
// 返回的错误已分类为哨兵错误，由调用方决定是否标记FAILED
func (p *Pipeline) Run(ctx context.Context, evaluationID string) error {
	ctx, span := pipelineTracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(attribute.String("evaluation.id", evaluationID))

	// 1. 加载评估记录及其关联
	evaluation, err := p.store.GetEvaluationWithRelations(ctx, evaluationID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return newPipelineError(evaluationID, "load", ErrEvaluationLoadFailed, err)
	}
	if evaluation.Candidate == nil || evaluation.Job == nil {
		return newPipelineError(evaluationID, "load", ErrEvaluationLoadFailed,
			fmt.Errorf("评估记录缺少候选人或岗位关联"))
	}
	span.SetAttributes(
		attribute.String("candidate.id", evaluation.CandidateID),
		attribute.String("job.id", evaluation.JobID),
	)

	// 2. 索引岗位上下文(岗位描述+评分标准)，确定性point ID保证覆盖而非累积
	if err := p.indexJobContext(ctx, evaluation.Job); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return newPipelineError(evaluationID, "index_job_context", ErrJobContextIndexFailed, err)
	}

	// 3. 获取并提取候选人文档文本
	cvText, err := p.resolveDocumentText(ctx, evaluation.Candidate.CVObjectKey, evaluation.Candidate.CVFilePath)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExternal)
		return newPipelineError(evaluationID, "cv_document", ErrDocumentAccessFailed, err)
	}
	projectText, err := p.resolveDocumentText(ctx, evaluation.Candidate.ProjectObjectKey, evaluation.Candidate.ProjectFilePath)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExternal)
		return newPipelineError(evaluationID, "project_document", ErrDocumentAccessFailed, err)
	}

	// 4. 内容有效性检查：只记录，不中止，由LLM在评分中体现
	cvValid := p.contentValid(cvText)
	projectValid := p.contentValid(projectText)
	jobValid := p.contentValid(evaluation.Job.Description)
	if !cvValid {
		logger.Ctx(ctx).Warn().Str("evaluation_id", evaluationID).Msg("简历内容过短或无法提取")
	}
	if !projectValid {
		logger.Ctx(ctx).Warn().Str("evaluation_id", evaluationID).Msg("项目报告内容过短或无法提取")
	}
	if !jobValid {
		logger.Ctx(ctx).Warn().Str("evaluation_id", evaluationID).Str("job_id", evaluation.JobID).Msg("岗位描述内容过短")
	}

	// 5. 将两段查询前缀一次性向量化
	queries := []string{
		prefix(cvText, p.queryPrefixChars),
		prefix(projectText, p.queryPrefixChars),
	}
	queryVectors, err := p.embedder.EmbedStrings(ctx, queries)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return newPipelineError(evaluationID, "embed_queries", ErrEmbeddingFailed, err)
	}
	if len(queryVectors) != 2 {
		return newPipelineError(evaluationID, "embed_queries", ErrEmbeddingFailed,
			fmt.Errorf("期望2个查询向量, 实际 %d", len(queryVectors)))
	}

	// 6. 两路并发检索，过滤条件限定本岗位
	cvContext, projectContext, err := p.retrieveContexts(ctx, evaluation.JobID, queryVectors[0], queryVectors[1])
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return newPipelineError(evaluationID, "retrieve", ErrRetrievalFailed, err)
	}

	// 7. 组装提示词并调用LLM
	messages := BuildEvaluationMessages(PromptInput{
		JobTitle:       evaluation.Job.Title,
		JobDescription: evaluation.Job.Description,
		StudyCaseBrief: evaluation.Job.StudyCaseBrief,
		CVText:         cvText,
		ProjectText:    projectText,
		CVContext:      cvContext,
		ProjectContext: projectContext,
		CVValid:        cvValid,
		ProjectValid:   projectValid,
		JobValid:       jobValid,
	})
	rawResponse, err := p.chat.Generate(ctx, messages)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return newPipelineError(evaluationID, "llm", ErrLLMInvocationFailed, err)
	}

	// 8. 严格解析与校验，失败即流水线错误，绝不静默补默认值
	result, err := ParseScoringResult(rawResponse)
	if err != nil {
		logger.Ctx(ctx).Error().
			Err(err).
			Str("evaluation_id", evaluationID).
			Str("raw_response", tracing.TruncateString(rawResponse, 500)).
			Msg("LLM返回结果校验失败")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return newPipelineError(evaluationID, "parse_result", ErrResultInvalid, err)
	}

	rawResultJSON, err := json.Marshal(result)
	if err != nil {
		return newPipelineError(evaluationID, "marshal_result", ErrResultInvalid, err)
	}

	// 9. 写入评分并置为COMPLETED
	scores := storage.EvaluationScores{
		CVMatchRate:     result.CV.MatchRate,
		CVFeedback:      result.CV.Feedback,
		ProjectScore:    result.Project.WeightedScore,
		ProjectFeedback: result.Project.Feedback,
		OverallSummary:  result.Summary,
		RawResultJSON:   rawResultJSON,
	}
	if err := p.store.CompleteEvaluation(ctx, evaluationID, scores); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return newPipelineError(evaluationID, "persist", ErrPersistResultFailed, err)
	}

	logger.Ctx(ctx).Info().
		Str("evaluation_id", evaluationID).
		Float64("cv_match_rate", result.CV.MatchRate).
		Float64("project_score", result.Project.WeightedScore).
		Msg("评估完成")

	// 10. 尽力而为地把评估结果入向量库，失败只记日志
	p.indexEvaluationResult(ctx, evaluation, result, rawResultJSON)

	return nil
}

// indexJobContext 将岗位描述与评分标准向量化并写入向量库
// 向量走Redis缓存避免重复向量化；point ID由(jobId, 类型)确定性派生
func (p *Pipeline) indexJobContext(ctx context.Context, job *models.JobVacancy) error {
	contexts := []struct {
		kind string
		text string
	}{
		{constants.VectorTypeJobDescription, job.Description},
		{constants.VectorTypeScoringRubric, scoringRubricText},
	}

	points := make([]storage.VectorPoint, 0, len(contexts))
	for _, c := range contexts {
		vector, err := p.jobContextVector(ctx, job.JobID, c.kind, c.text)
		if err != nil {
			return fmt.Errorf("向量化岗位上下文 %s 失败: %w", c.kind, err)
		}
		points = append(points, storage.VectorPoint{
			ID:     storage.StablePointID(job.JobID, c.kind),
			Vector: vector,
			Payload: map[string]interface{}{
				"jobId": job.JobID,
				"type":  c.kind,
				"text":  c.text,
			},
		})
	}

	if err := p.vectors.UpsertPoints(ctx, points); err != nil {
		return fmt.Errorf("写入岗位上下文向量失败: %w", err)
	}
	return nil
}

// jobContextVector 取缓存的岗位上下文向量，未命中则向量化并回填
func (p *Pipeline) jobContextVector(ctx context.Context, jobID, kind, text string) ([]float64, error) {
	if p.cache != nil {
		if vector, err := p.cache.GetJobVector(ctx, jobID, kind); err == nil {
			return vector, nil
		} else if err != storage.ErrNotFound {
			logger.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Str("kind", kind).Msg("读取岗位向量缓存失败")
		}
	}

	vectors, err := p.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("期望1个向量, 实际 %d", len(vectors))
	}

	if p.cache != nil {
		if err := p.cache.SetJobVector(ctx, jobID, kind, vectors[0]); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Str("kind", kind).Msg("写入岗位向量缓存失败")
		}
	}
	return vectors[0], nil
}

// resolveDocumentText 获取文档内容并提取文本
// 优先读对象存储归档，没有归档则读本地上传路径；提取失败返回空文本
func (p *Pipeline) resolveDocumentText(ctx context.Context, objectKey, filePath string) (string, error) {
	if objectKey != "" && p.documents != nil {
		data, err := p.documents.DownloadDocument(ctx, objectKey)
		if err != nil {
			return "", fmt.Errorf("从对象存储下载 %s 失败: %w", objectKey, err)
		}
		return p.extractor.Extract(ctx, data, filepath.Base(objectKey)), nil
	}
	if filePath == "" {
		return "", fmt.Errorf("评估记录没有关联任何文档")
	}
	return p.extractor.ExtractFile(ctx, filePath), nil
}

// retrieveContexts 两路并发检索岗位上下文
func (p *Pipeline) retrieveContexts(ctx context.Context, jobID string, cvVector, projectVector []float64) ([]string, []string, error) {
	filter := storage.MatchFilter("jobId", jobID)

	var (
		wg             sync.WaitGroup
		cvResults      []storage.SearchResult
		projectResults []storage.SearchResult
		cvErr          error
		projectErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		cvResults, cvErr = p.vectors.Search(ctx, cvVector, p.topK, filter)
	}()
	go func() {
		defer wg.Done()
		projectResults, projectErr = p.vectors.Search(ctx, projectVector, p.topK, filter)
	}()
	wg.Wait()

	if cvErr != nil {
		return nil, nil, fmt.Errorf("检索简历相关上下文失败: %w", cvErr)
	}
	if projectErr != nil {
		return nil, nil, fmt.Errorf("检索项目相关上下文失败: %w", projectErr)
	}

	return snippetsFromResults(cvResults), snippetsFromResults(projectResults), nil
}

// snippetsFromResults 从检索结果的payload中取文本片段
func snippetsFromResults(results []storage.SearchResult) []string {
	snippets := make([]string, 0, len(results))
	for _, r := range results {
		if text, ok := r.Payload["text"].(string); ok && strings.TrimSpace(text) != "" {
			snippets = append(snippets, text)
		}
	}
	return snippets
}

// indexEvaluationResult 将评估结果入向量库供后续相似检索
// 每次评估用全新的随机point ID，payload带identifier回溯到评估记录
func (p *Pipeline) indexEvaluationResult(ctx context.Context, evaluation *models.Evaluation, result *ScoringResult, rawJSON []byte) {
	vectors, err := p.embedder.EmbedStrings(ctx, []string{prefix(string(rawJSON), p.queryPrefixChars)})
	if err != nil || len(vectors) != 1 {
		logger.Ctx(ctx).Warn().Err(err).Str("evaluation_id", evaluation.EvaluationID).Msg("评估结果向量化失败，跳过入库")
		return
	}

	point := storage.VectorPoint{
		ID:     uuid.NewString(),
		Vector: vectors[0],
		Payload: map[string]interface{}{
			"type":         constants.VectorTypeEvaluationResult,
			"identifier":   evaluation.EvaluationID,
			"jobId":        evaluation.JobID,
			"candidateId":  evaluation.CandidateID,
			"cvMatchRate":  result.CV.MatchRate,
			"projectScore": result.Project.WeightedScore,
		},
	}
	if err := p.vectors.UpsertPoints(ctx, []storage.VectorPoint{point}); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("evaluation_id", evaluation.EvaluationID).Msg("评估结果写入向量库失败")
	}
}

// contentValid 文本去除首尾空白后按字符数(而非字节数)判定长度是否达标
func (p *Pipeline) contentValid(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) > p.minContentLength
}

// prefix 取字符串前n个字节，避免把超长全文发给embedding服务
// 不在多字节字符中间截断
func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for i := n; i > 0; i-- {
		if utf8.RuneStart(s[i]) {
			return s[:i]
		}
	}
	return ""
}
