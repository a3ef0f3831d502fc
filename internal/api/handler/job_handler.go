package handler

import (
	"context"
	"fmt"
	"strings"

	"cv-evaluator-go/internal/storage"
	"cv-evaluator-go/internal/storage/models"

	"github.com/gofrs/uuid/v5"
)

// JobHandler 岗位管理处理器
type JobHandler struct {
	storage *storage.Storage
}

// NewJobHandler 创建岗位处理器
func NewJobHandler(storage *storage.Storage) *JobHandler {
	return &JobHandler{storage: storage}
}

// CreateJobRequest 创建岗位请求
type CreateJobRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	StudyCaseBrief string `json:"study_case_brief"`
}

// CreateJobResponse 创建岗位响应
type CreateJobResponse struct {
	JobID string `json:"job_id"`
}

// CreateJob 创建岗位
func (h *JobHandler) CreateJob(ctx context.Context, req CreateJobRequest) (*CreateJobResponse, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("岗位标题不能为空")
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, fmt.Errorf("岗位描述不能为空")
	}

	uuidV7, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("生成岗位ID失败: %w", err)
	}

	job := &models.JobVacancy{
		JobID:          uuidV7.String(),
		Title:          req.Title,
		Description:    req.Description,
		StudyCaseBrief: req.StudyCaseBrief,
	}
	if err := h.storage.MySQL.CreateJobVacancy(ctx, job); err != nil {
		return nil, fmt.Errorf("创建岗位失败: %w", err)
	}

	return &CreateJobResponse{JobID: job.JobID}, nil
}

// GetJob 查询岗位
func (h *JobHandler) GetJob(ctx context.Context, jobID string) (*models.JobVacancy, error) {
	return h.storage.MySQL.GetJobVacancyByID(ctx, jobID)
}

// ListJobs 分页查询岗位
func (h *JobHandler) ListJobs(ctx context.Context, limit, offset int) ([]models.JobVacancy, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return h.storage.MySQL.ListJobVacancies(ctx, limit, offset)
}
