package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"cv-evaluator-go/internal/logger"
	"cv-evaluator-go/internal/storage"
	"cv-evaluator-go/internal/storage/models"

	"github.com/gofrs/uuid/v5"
)

// EvaluationHandler 评估任务的创建与查询
type EvaluationHandler struct {
	storage *storage.Storage
	queue   *storage.EvaluationQueue
}

// NewEvaluationHandler 创建评估处理器
func NewEvaluationHandler(storage *storage.Storage, queue *storage.EvaluationQueue) *EvaluationHandler {
	return &EvaluationHandler{storage: storage, queue: queue}
}

// EvaluateRequest 发起评估请求
type EvaluateRequest struct {
	CandidateID string `json:"candidate_id"`
	JobID       string `json:"job_id"`
}

// EvaluateResponse 发起评估响应
type EvaluateResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// HandleEvaluate 创建评估记录并入队
// 记录先以QUEUED状态落库，投递失败则回滚为FAILED避免悬空记录
func (h *EvaluationHandler) HandleEvaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResponse, error) {
	if req.CandidateID == "" || req.JobID == "" {
		return nil, fmt.Errorf("candidate_id与job_id不能为空")
	}

	// 引用完整性前置校验，入队后的流水线假定关联存在
	if _, err := h.storage.MySQL.GetCandidateByID(ctx, req.CandidateID); err != nil {
		return nil, fmt.Errorf("候选人 %s 不存在: %w", req.CandidateID, err)
	}
	if _, err := h.storage.MySQL.GetJobVacancyByID(ctx, req.JobID); err != nil {
		return nil, fmt.Errorf("岗位 %s 不存在: %w", req.JobID, err)
	}

	uuidV7, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("生成评估ID失败: %w", err)
	}

	evaluation := &models.Evaluation{
		EvaluationID: uuidV7.String(),
		CandidateID:  req.CandidateID,
		JobID:        req.JobID,
		Status:       models.EvaluationStatusQueued,
	}
	if err := h.storage.MySQL.CreateEvaluation(ctx, evaluation); err != nil {
		return nil, fmt.Errorf("创建评估记录失败: %w", err)
	}

	if err := h.queue.Enqueue(ctx, evaluation.EvaluationID); err != nil {
		logger.Error().Err(err).Str("evaluation_id", evaluation.EvaluationID).Msg("评估任务投递失败")
		if markErr := h.storage.MySQL.MarkEvaluationFailed(ctx, evaluation.EvaluationID, "任务投递失败: "+err.Error()); markErr != nil {
			logger.Error().Err(markErr).Str("evaluation_id", evaluation.EvaluationID).Msg("回滚评估状态失败")
		}
		return nil, fmt.Errorf("评估任务投递失败: %w", err)
	}

	return &EvaluateResponse{
		ID:     evaluation.EvaluationID,
		Status: evaluation.Status,
	}, nil
}

// ResultResponse 评估结果查询响应
// 未完成时只返回id与status；完成后携带全部评分字段
type ResultResponse struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Result *ResultPayload `json:"result,omitempty"`
	Error  string         `json:"error_message,omitempty"`
}

// ResultPayload COMPLETED评估的评分内容
type ResultPayload struct {
	CVMatchRate     float64         `json:"cv_match_rate"`
	CVFeedback      string          `json:"cv_feedback"`
	ProjectScore    float64         `json:"project_score"`
	ProjectFeedback string          `json:"project_feedback"`
	OverallSummary  string          `json:"overall_summary"`
	Detail          json.RawMessage `json:"detail,omitempty"`
}

// HandleResult 查询评估状态与结果
// 记录不存在时返回storage.ErrEvaluationNotFound，由路由层映射为404
func (h *EvaluationHandler) HandleResult(ctx context.Context, evaluationID string) (*ResultResponse, error) {
	evaluation, err := h.storage.MySQL.GetEvaluationByID(ctx, evaluationID)
	if err != nil {
		return nil, err
	}

	resp := &ResultResponse{
		ID:     evaluation.EvaluationID,
		Status: evaluation.Status,
	}

	switch evaluation.Status {
	case models.EvaluationStatusCompleted:
		payload := &ResultPayload{}
		if evaluation.CVMatchRate != nil {
			payload.CVMatchRate = *evaluation.CVMatchRate
		}
		if evaluation.CVFeedback != nil {
			payload.CVFeedback = *evaluation.CVFeedback
		}
		if evaluation.ProjectScore != nil {
			payload.ProjectScore = *evaluation.ProjectScore
		}
		if evaluation.ProjectFeedback != nil {
			payload.ProjectFeedback = *evaluation.ProjectFeedback
		}
		if evaluation.OverallSummary != nil {
			payload.OverallSummary = *evaluation.OverallSummary
		}
		if len(evaluation.RawResultJSON) > 0 {
			payload.Detail = json.RawMessage(evaluation.RawResultJSON)
		}
		resp.Result = payload
	case models.EvaluationStatusFailed:
		if evaluation.ErrorMessage != nil {
			resp.Error = *evaluation.ErrorMessage
		}
	}

	return resp, nil
}
