package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cv-evaluator-go/internal/constants"
	"cv-evaluator-go/internal/logger"
	"cv-evaluator-go/internal/storage"
)

// Worker 评估任务消费者
// 从队列取任务、认领评估记录、执行流水线，并保证任何流水线错误
// 都落成终态FAILED，不留下卡在PROCESSING的记录
type Worker struct {
	queue    TaskQueue
	pipeline PipelineRunner
	store    EvaluationStore
	locker   Locker

	prefetch int
	lockTTL  time.Duration
	stopCh   chan<- struct{}
}

// WorkerConfig Worker的运行参数
type WorkerConfig struct {
	PrefetchCount int
	LockTTL       time.Duration
}

// NewWorker 创建评估任务消费者
func NewWorker(queue TaskQueue, pipeline PipelineRunner, store EvaluationStore, locker Locker, cfg WorkerConfig) (*Worker, error) {
	if queue == nil || pipeline == nil || store == nil {
		return nil, fmt.Errorf("Worker缺少必要依赖")
	}

	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 5
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = constants.DefaultEvaluationLockTTL
	}

	return &Worker{
		queue:    queue,
		pipeline: pipeline,
		store:    store,
		locker:   locker,
		prefetch: prefetch,
		lockTTL:  lockTTL,
	}, nil
}

// Start 启动消费
func (w *Worker) Start() error {
	stopCh, err := w.queue.StartConsumer(w.prefetch, w.handleDelivery)
	if err != nil {
		return fmt.Errorf("启动评估任务消费者失败: %w", err)
	}
	w.stopCh = stopCh
	logger.Info().Int("prefetch", w.prefetch).Msg("评估Worker已启动")
	return nil
}

// Stop 停止消费
func (w *Worker) Stop() {
	if w.stopCh != nil {
		close(w.stopCh)
		w.stopCh = nil
	}
}

// handleDelivery 处理单条队列消息
// 返回值语义：Ack=处理完毕(包括已落库的业务失败)；NackRequeue=瞬时故障重试；
// NackDiscard=消息本身不可处理
func (w *Worker) handleDelivery(body []byte) storage.ConsumeResult {
	var task storage.EvaluationTask
	if err := json.Unmarshal(body, &task); err != nil || task.EvaluationID == "" {
		logger.Error().Err(err).Str("body", string(body)).Msg("评估任务消息体无效，丢弃")
		return storage.ConsumeNackDiscard
	}

	ctx := context.Background()
	log := logger.Info().Str("evaluation_id", task.EvaluationID)
	log.Msg("收到评估任务")

	// 同一评估的重复投递靠锁拦截
	if w.locker != nil {
		lockKey := fmt.Sprintf(constants.KeyEvaluationLock, task.EvaluationID)
		lockValue, err := w.locker.AcquireLock(ctx, lockKey, w.lockTTL)
		if err != nil {
			logger.Warn().Err(err).Str("evaluation_id", task.EvaluationID).Msg("获取评估锁失败，稍后重试")
			return storage.ConsumeNackRequeue
		}
		if lockValue == "" {
			logger.Warn().Str("evaluation_id", task.EvaluationID).Msg("评估正在被其他Worker处理，丢弃重复投递")
			return storage.ConsumeAck
		}
		defer func() {
			if _, err := w.locker.ReleaseLock(ctx, lockKey, lockValue); err != nil {
				logger.Warn().Err(err).Str("evaluation_id", task.EvaluationID).Msg("释放评估锁失败")
			}
		}()
	}

	// 守卫更新认领任务，认领失败说明已被处理过
	claimed, err := w.store.ClaimEvaluation(ctx, task.EvaluationID)
	if err != nil {
		logger.Warn().Err(err).Str("evaluation_id", task.EvaluationID).Msg("认领评估任务失败，稍后重试")
		return storage.ConsumeNackRequeue
	}
	if !claimed {
		logger.Warn().Str("evaluation_id", task.EvaluationID).Msg("评估不在QUEUED状态，跳过")
		return storage.ConsumeAck
	}

	if err := w.pipeline.Run(ctx, task.EvaluationID); err != nil {
		logger.Error().Err(err).Str("evaluation_id", task.EvaluationID).Msg("评估流水线执行失败")

		// FAILED是终态，写入成功即确认消息；写入失败才重试投递
		if markErr := w.store.MarkEvaluationFailed(ctx, task.EvaluationID, err.Error()); markErr != nil {
			logger.Error().Err(markErr).Str("evaluation_id", task.EvaluationID).Msg("标记评估失败状态时出错")
			return storage.ConsumeNackRequeue
		}
		return storage.ConsumeAck
	}

	return storage.ConsumeAck
}
