package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cv-evaluator-go/internal/config"
	"cv-evaluator-go/internal/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

// ObjectStorage 对象存储接口
type ObjectStorage interface {
	// UploadDocument 上传文档到指定对象键
	UploadDocument(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) (string, error)

	// UploadCandidateDocument 按候选人组织对象键并上传
	UploadCandidateDocument(ctx context.Context, candidateID, kind, fileExt string, reader io.Reader, size int64) (string, error)

	// DownloadDocument 下载文档内容
	DownloadDocument(ctx context.Context, objectKey string) ([]byte, error)

	// GetPresignedURL 获取预签名下载URL
	GetPresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)

	// DeleteDocument 删除文档
	DeleteDocument(ctx context.Context, objectKey string) error
}

// 确保MinIO实现了ObjectStorage接口
var _ ObjectStorage = (*MinIO)(nil)

// MinIO 提供对象存储功能
type MinIO struct {
	client *minio.Client
	cfg    *config.MinIOConfig
	bucket string
}

// NewMinIO 创建MinIO客户端
func NewMinIO(cfg *config.MinIOConfig) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if cfg.DocumentsBucket == "" {
		return nil, fmt.Errorf("MinIO存储桶名称不能为空")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client: client,
		cfg:    cfg,
		bucket: cfg.DocumentsBucket,
	}

	if err := m.ensureBucketExists(cfg.DocumentsBucket, cfg.Location); err != nil {
		return nil, fmt.Errorf("确保文档存储桶 %s 存在失败: %w", cfg.DocumentsBucket, err)
	}

	// 设置生命周期规则
	if cfg.DocumentExpireDays > 0 {
		if err := m.setupBucketLifecycle(context.Background(), cfg.DocumentsBucket, "expire-documents", cfg.DocumentExpireDays); err != nil {
			logger.Warn().Err(err).Str("bucket", cfg.DocumentsBucket).Msg("设置对象生命周期规则失败")
		}
	}

	logger.Info().
		Str("endpoint", cfg.Endpoint).
		Str("bucket", cfg.DocumentsBucket).
		Msg("MinIO客户端初始化成功")
	return m, nil
}

// ensureBucketExists 确保存储桶存在
func (m *MinIO) ensureBucketExists(bucketName, location string) error {
	exists, err := m.client.BucketExists(context.Background(), bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if !exists {
		err = m.client.MakeBucket(context.Background(), bucketName, minio.MakeBucketOptions{Region: location})
		if err != nil {
			return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
		}
		logger.Info().Str("bucket", bucketName).Msg("已创建MinIO存储桶")
	}
	return nil
}

// setupBucketLifecycle 为指定存储桶设置过期规则
func (m *MinIO) setupBucketLifecycle(ctx context.Context, bucketName, ruleID string, expiryDays int) error {
	lc := lifecycle.NewConfiguration()
	lc.Rules = []lifecycle.Rule{
		{
			ID:     ruleID,
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(expiryDays),
			},
		},
	}
	return m.client.SetBucketLifecycle(ctx, bucketName, lc)
}

// UploadDocument 上传文档到指定对象键
func (m *MinIO) UploadDocument(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) (string, error) {
	info, err := m.client.PutObject(ctx, m.bucket, objectKey, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("上传对象 %s/%s 失败: %w", m.bucket, objectKey, err)
	}

	logger.Debug().
		Str("object_key", objectKey).
		Int64("size", info.Size).
		Str("etag", info.ETag).
		Msg("文档上传完成")
	return objectKey, nil
}

// UploadCandidateDocument 按候选人组织对象键并上传
// 对象键形如: candidate/{candidateID}/{kind}{ext}
func (m *MinIO) UploadCandidateDocument(ctx context.Context, candidateID, kind, fileExt string, reader io.Reader, size int64) (string, error) {
	objectKey := fmt.Sprintf("candidate/%s/%s%s", candidateID, kind, fileExt)
	return m.UploadDocument(ctx, objectKey, reader, size, getContentType(fileExt))
}

// uploadDocumentFromBytes 从字节数组上传 (私有辅助方法)
func (m *MinIO) uploadDocumentFromBytes(ctx context.Context, objectKey string, data []byte, contentType string) (string, error) {
	return m.UploadDocument(ctx, objectKey, bytes.NewReader(data), int64(len(data)), contentType)
}

// DownloadDocument 下载文档内容
func (m *MinIO) DownloadDocument(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", m.bucket, objectKey, err)
	}
	defer obj.Close()

	// Stat可以区分对象不存在与读取失败
	stat, err := obj.Stat()
	if err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 状态失败: %w", m.bucket, objectKey, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s/%s 数据失败: %w", m.bucket, objectKey, err)
	}

	logger.Debug().
		Str("object_key", objectKey).
		Int64("size", stat.Size).
		Msg("文档下载完成")
	return data, nil
}

// GetPresignedURL 获取预签名下载URL
func (m *MinIO) GetPresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	presignedURL, err := m.client.PresignedGetObject(ctx, m.bucket, objectKey, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("生成MinIO预签名URL失败: %w", err)
	}
	return presignedURL.String(), nil
}

// DeleteDocument 删除文档
func (m *MinIO) DeleteDocument(ctx context.Context, objectKey string) error {
	err := m.client.RemoveObject(ctx, m.bucket, objectKey, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("删除对象 %s 失败: %w", objectKey, err)
	}
	return nil
}

// 根据文件扩展名推断内容类型
func getContentType(ext string) string {
	ext = strings.ToLower(ext)
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	default:
		return "application/octet-stream"
	}
}
