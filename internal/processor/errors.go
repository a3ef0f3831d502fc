package processor

import (
	"errors"
	"fmt"
)

// 流水线各阶段的基础错误类型
// Worker只依赖这些哨兵错误做分类，任何一类都会把评估标记为FAILED
var (
	ErrEvaluationLoadFailed  = errors.New("加载评估记录失败")
	ErrDocumentAccessFailed  = errors.New("获取候选人文档失败")
	ErrJobContextIndexFailed = errors.New("索引岗位上下文失败")
	ErrEmbeddingFailed       = errors.New("文本向量化失败")
	ErrRetrievalFailed       = errors.New("向量检索失败")
	ErrLLMInvocationFailed   = errors.New("LLM调用失败")
	ErrResultInvalid         = errors.New("LLM返回结果无效")
	ErrPersistResultFailed   = errors.New("持久化评估结果失败")
)

// PipelineError 包含详细上下文的流水线错误
type PipelineError struct {
	EvaluationID string
	Stage        string
	BaseErr      error
	Detail       string
}

func (e *PipelineError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (阶段:%s, 评估ID:%s): %s", e.BaseErr, e.Stage, e.EvaluationID, e.Detail)
	}
	return fmt.Sprintf("%s (阶段:%s, 评估ID:%s)", e.BaseErr, e.Stage, e.EvaluationID)
}

func (e *PipelineError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *PipelineError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

func newPipelineError(evaluationID, stage string, baseErr error, cause error) error {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	return &PipelineError{
		EvaluationID: evaluationID,
		Stage:        stage,
		BaseErr:      baseErr,
		Detail:       detail,
	}
}
