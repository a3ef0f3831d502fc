package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cv-evaluator-go/internal/config"
	"cv-evaluator-go/internal/logger"
	"cv-evaluator-go/internal/storage"
	"cv-evaluator-go/internal/storage/models"

	"github.com/gofrs/uuid/v5"
)

// CandidateHandler 候选人材料上传处理器
type CandidateHandler struct {
	cfg     *config.Config
	storage *storage.Storage
}

// NewCandidateHandler 创建候选人处理器
func NewCandidateHandler(cfg *config.Config, storage *storage.Storage) *CandidateHandler {
	return &CandidateHandler{cfg: cfg, storage: storage}
}

// UploadedFile 一个multipart上传文件
type UploadedFile struct {
	Reader   io.Reader
	Size     int64
	Filename string
}

// CandidateUploadResponse 候选人创建响应
type CandidateUploadResponse struct {
	CandidateID string `json:"candidate_id"`
}

// HandleCandidateUpload 接收候选人的简历与项目报告
// 文件同时落本地上传目录与MinIO归档；任一文件写入失败则整个请求失败
func (h *CandidateHandler) HandleCandidateUpload(ctx context.Context, name, email, phone string, cv, project UploadedFile) (*CandidateUploadResponse, error) {
	if cv.Reader == nil || project.Reader == nil {
		return nil, fmt.Errorf("必须同时上传简历与项目报告")
	}

	uuidV7, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("生成候选人ID失败: %w", err)
	}
	candidateID := uuidV7.String()

	cvPath, cvKey, err := h.storeDocument(ctx, candidateID, "cv", cv)
	if err != nil {
		return nil, fmt.Errorf("保存简历文件失败: %w", err)
	}
	projectPath, projectKey, err := h.storeDocument(ctx, candidateID, "project", project)
	if err != nil {
		return nil, fmt.Errorf("保存项目报告失败: %w", err)
	}

	candidate := &models.Candidate{
		CandidateID:      candidateID,
		Name:             name,
		Email:            email,
		Phone:            phone,
		CVFilePath:       cvPath,
		CVObjectKey:      cvKey,
		ProjectFilePath:  projectPath,
		ProjectObjectKey: projectKey,
	}
	if err := h.storage.MySQL.CreateCandidate(ctx, candidate); err != nil {
		return nil, fmt.Errorf("创建候选人记录失败: %w", err)
	}

	logger.Info().
		Str("candidate_id", candidateID).
		Str("cv_object_key", cvKey).
		Str("project_object_key", projectKey).
		Msg("候选人材料上传完成")

	return &CandidateUploadResponse{CandidateID: candidateID}, nil
}

// storeDocument 文件双写：本地上传目录供流水线直读，MinIO归档供跨实例访问
// 返回本地路径与对象键；MinIO归档失败只记警告，对象键为空
func (h *CandidateHandler) storeDocument(ctx context.Context, candidateID, kind string, file UploadedFile) (string, string, error) {
	data, err := io.ReadAll(file.Reader)
	if err != nil {
		return "", "", fmt.Errorf("读取上传内容失败: %w", err)
	}

	ext := filepath.Ext(file.Filename)
	if ext == "" {
		ext = ".pdf"
	}

	uploadDir := h.cfg.Pipeline.UploadDir
	if uploadDir == "" {
		uploadDir = "uploads"
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return "", "", fmt.Errorf("创建上传目录失败: %w", err)
	}

	localPath := filepath.Join(uploadDir, fmt.Sprintf("%s-%s%s", candidateID, kind, ext))
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("写入本地文件失败: %w", err)
	}

	objectKey, err := h.storage.MinIO.UploadCandidateDocument(ctx, candidateID, kind, ext, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		logger.Warn().Err(err).Str("candidate_id", candidateID).Str("kind", kind).Msg("文档归档到MinIO失败，仅保留本地副本")
		return localPath, "", nil
	}

	return localPath, objectKey, nil
}

// GetCandidate 查询候选人
func (h *CandidateHandler) GetCandidate(ctx context.Context, candidateID string) (*models.Candidate, error) {
	return h.storage.MySQL.GetCandidateByID(ctx, candidateID)
}

// ListCandidates 分页查询候选人
func (h *CandidateHandler) ListCandidates(ctx context.Context, limit, offset int) ([]models.Candidate, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return h.storage.MySQL.ListCandidates(ctx, limit, offset)
}
