package processor

import (
	"context"
	"time"

	"cv-evaluator-go/internal/llm"
	"cv-evaluator-go/internal/storage"
	"cv-evaluator-go/internal/storage/models"
)

// EvaluationStore 评估记录的持久化操作
type EvaluationStore interface {
	// GetEvaluationWithRelations 加载评估记录及其候选人与岗位关联
	GetEvaluationWithRelations(ctx context.Context, evaluationID string) (*models.Evaluation, error)

	// ClaimEvaluation 以守卫更新认领评估任务(QUEUED→PROCESSING)，返回是否认领成功
	ClaimEvaluation(ctx context.Context, evaluationID string) (bool, error)

	// MarkEvaluationFailed 将评估标记为FAILED并记录失败原因
	MarkEvaluationFailed(ctx context.Context, evaluationID string, reason string) error

	// CompleteEvaluation 写入评分结果并将状态置为COMPLETED
	CompleteEvaluation(ctx context.Context, evaluationID string, scores storage.EvaluationScores) error
}

// VectorStore 向量库的写入与检索
type VectorStore interface {
	UpsertPoints(ctx context.Context, points []storage.VectorPoint) error
	Search(ctx context.Context, queryVector []float64, limit int, filter map[string]interface{}) ([]storage.SearchResult, error)
}

// ChatModel 对话式大模型
type ChatModel interface {
	Generate(ctx context.Context, messages []llm.Message) (string, error)
}

// TextEmbedder 文本向量化
type TextEmbedder interface {
	EmbedStrings(ctx context.Context, texts []string) ([][]float64, error)
}

// DocumentExtractor 文档文本提取，内容不可提取时返回空字符串
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte, filename string) string
	ExtractFile(ctx context.Context, filePath string) string
}

// DocumentStore 原始文档的对象存储读取
type DocumentStore interface {
	DownloadDocument(ctx context.Context, objectKey string) ([]byte, error)
}

// VectorCache 岗位上下文向量的缓存
type VectorCache interface {
	GetJobVector(ctx context.Context, jobID, kind string) ([]float64, error)
	SetJobVector(ctx context.Context, jobID, kind string, vector []float64) error
}

// Locker 分布式锁，防止同一评估被并发重复处理
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error)
}

// TaskQueue 评估任务的消费入口
type TaskQueue interface {
	StartConsumer(prefetchCount int, handler func([]byte) storage.ConsumeResult) (chan<- struct{}, error)
}

// PipelineRunner 评估流水线的执行入口
type PipelineRunner interface {
	Run(ctx context.Context, evaluationID string) error
}
