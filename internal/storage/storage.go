package storage

import (
	"context"
	"fmt"

	"cv-evaluator-go/internal/config"
	"cv-evaluator-go/internal/logger"
)

// Storage 存储管理器，聚合所有存储相关依赖
type Storage struct {
	// 对象存储
	MinIO *MinIO

	// 消息队列
	RabbitMQ *RabbitMQ

	// 向量数据库
	Qdrant *Qdrant

	// 关系型数据库
	MySQL *MySQL

	// 键值存储
	Redis *Redis
}

// NewStorage 创建存储管理器
// 评估流水线的每个环节都依赖这些组件，任何一个初始化失败都直接返回错误
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	storage := &Storage{}
	var err error

	storage.MySQL, err = NewMySQL(&cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("初始化MySQL失败: %w", err)
	}
	logger.Info().Str("host", cfg.MySQL.Host).Msg("MySQL客户端初始化成功")

	storage.MinIO, err = NewMinIO(&cfg.MinIO)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("初始化MinIO失败: %w", err)
	}

	storage.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("初始化RabbitMQ失败: %w", err)
	}

	storage.Qdrant, err = NewQdrant(&cfg.Qdrant)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("初始化Qdrant失败: %w", err)
	}
	logger.Info().Str("endpoint", cfg.Qdrant.Endpoint).Str("collection", cfg.Qdrant.Collection).Msg("Qdrant客户端初始化成功")

	storage.Redis, err = NewRedisAdapter(&cfg.Redis)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("初始化Redis失败: %w", err)
	}
	logger.Info().Str("address", cfg.Redis.Address).Msg("Redis客户端初始化成功")

	return storage, nil
}

// Close 关闭所有连接
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			logger.Error().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}

	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			logger.Error().Err(err).Msg("关闭MySQL连接失败")
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.Error().Err(err).Msg("关闭Redis连接失败")
		}
	}
	// Qdrant和MinIO的HTTP客户端无需显式关闭
}
