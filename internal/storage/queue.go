package storage

import (
	"context"
	"fmt"
	"time"

	"cv-evaluator-go/internal/config"
)

// EvaluationTask 评估任务消息体
type EvaluationTask struct {
	EvaluationID string    `json:"evaluation_id"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// EvaluationQueue 评估任务队列，封装exchange/queue/binding的拓扑声明
type EvaluationQueue struct {
	mq         MessageQueue
	exchange   string
	routingKey string
	queueName  string
}

// NewEvaluationQueue 创建评估任务队列并声明拓扑
func NewEvaluationQueue(mq MessageQueue, cfg *config.RabbitMQConfig) (*EvaluationQueue, error) {
	if mq == nil {
		return nil, fmt.Errorf("消息队列实例不能为空")
	}

	q := &EvaluationQueue{
		mq:         mq,
		exchange:   cfg.EvaluationExchange,
		routingKey: cfg.EvaluationRoutingKey,
		queueName:  cfg.EvaluationQueue,
	}

	if err := mq.EnsureExchange(q.exchange, "direct", true); err != nil {
		return nil, fmt.Errorf("声明评估exchange失败: %w", err)
	}
	if err := mq.EnsureQueue(q.queueName, true); err != nil {
		return nil, fmt.Errorf("声明评估队列失败: %w", err)
	}
	if err := mq.BindQueue(q.queueName, q.exchange, q.routingKey); err != nil {
		return nil, fmt.Errorf("绑定评估队列失败: %w", err)
	}

	return q, nil
}

// Enqueue 投递评估任务，持久化消息保证broker重启不丢
func (q *EvaluationQueue) Enqueue(ctx context.Context, evaluationID string) error {
	task := EvaluationTask{
		EvaluationID: evaluationID,
		EnqueuedAt:   time.Now(),
	}
	if err := q.mq.PublishJSON(ctx, q.exchange, q.routingKey, task, true); err != nil {
		return fmt.Errorf("投递评估任务失败: %w", err)
	}
	return nil
}

// StartConsumer 以给定的预取数启动评估任务消费者
func (q *EvaluationQueue) StartConsumer(prefetchCount int, handler func([]byte) ConsumeResult) (chan<- struct{}, error) {
	return q.mq.StartConsumer(q.queueName, prefetchCount, handler)
}
