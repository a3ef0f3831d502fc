package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cv-evaluator-go/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	handler  func([]byte) storage.ConsumeResult
	prefetch int
	startErr error
}

func (f *fakeQueue) StartConsumer(prefetchCount int, handler func([]byte) storage.ConsumeResult) (chan<- struct{}, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.prefetch = prefetchCount
	f.handler = handler
	return make(chan struct{}), nil
}

type fakePipeline struct {
	err    error
	runIDs []string
}

func (f *fakePipeline) Run(ctx context.Context, evaluationID string) error {
	f.runIDs = append(f.runIDs, evaluationID)
	return f.err
}

type fakeLocker struct {
	lockValue  string
	acquireErr error
	released   int
}

func (f *fakeLocker) AcquireLock(ctx context.Context, key string, expiration time.Duration) (string, error) {
	return f.lockValue, f.acquireErr
}

func (f *fakeLocker) ReleaseLock(ctx context.Context, key, value string) (bool, error) {
	f.released++
	return true, nil
}

func taskBody(t *testing.T, evaluationID string) []byte {
	t.Helper()
	body, err := json.Marshal(storage.EvaluationTask{EvaluationID: evaluationID, EnqueuedAt: time.Now()})
	require.NoError(t, err)
	return body
}

func startedWorker(t *testing.T, queue *fakeQueue, pipeline *fakePipeline, store *fakeStore, locker *fakeLocker) *Worker {
	t.Helper()
	w, err := NewWorker(queue, pipeline, store, locker, WorkerConfig{PrefetchCount: 3, LockTTL: time.Minute})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NotNil(t, queue.handler, "启动后应注册消费处理函数")
	return w
}

// TestWorker_HappyPath 正常任务执行后确认消息
func TestWorker_HappyPath(t *testing.T) {
	queue := &fakeQueue{}
	pipeline := &fakePipeline{}
	store := &fakeStore{claimResult: true}
	locker := &fakeLocker{lockValue: "lock-1"}

	startedWorker(t, queue, pipeline, store, locker)
	assert.Equal(t, 3, queue.prefetch, "预取数应传递给消费者")

	result := queue.handler(taskBody(t, "eval-1"))
	assert.Equal(t, storage.ConsumeAck, result)
	assert.Equal(t, []string{"eval-1"}, pipeline.runIDs)
	assert.Equal(t, 1, locker.released, "处理完成应释放锁")
	assert.Empty(t, store.failedReason)
}

// TestWorker_PipelineError 流水线失败应标记FAILED后确认消息
func TestWorker_PipelineError(t *testing.T) {
	queue := &fakeQueue{}
	pipeline := &fakePipeline{err: newPipelineError("eval-1", "llm", ErrLLMInvocationFailed, errors.New("timeout"))}
	store := &fakeStore{claimResult: true}

	startedWorker(t, queue, pipeline, store, &fakeLocker{lockValue: "lock-1"})

	result := queue.handler(taskBody(t, "eval-1"))
	assert.Equal(t, storage.ConsumeAck, result, "FAILED是终态，消息应被确认而非重新入队")
	assert.Contains(t, store.failedReason, "LLM调用失败")
}

// TestWorker_MarkFailedError 无法写入FAILED状态时应重新入队
func TestWorker_MarkFailedError(t *testing.T) {
	queue := &fakeQueue{}
	pipeline := &fakePipeline{err: errors.New("boom")}
	store := &fakeStore{claimResult: true, markFailErr: errors.New("db down")}

	startedWorker(t, queue, pipeline, store, &fakeLocker{lockValue: "lock-1"})

	result := queue.handler(taskBody(t, "eval-1"))
	assert.Equal(t, storage.ConsumeNackRequeue, result)
}

// TestWorker_InvalidMessage 损坏的消息体应直接丢弃
func TestWorker_InvalidMessage(t *testing.T) {
	queue := &fakeQueue{}
	pipeline := &fakePipeline{}
	store := &fakeStore{claimResult: true}

	startedWorker(t, queue, pipeline, store, &fakeLocker{lockValue: "lock-1"})

	assert.Equal(t, storage.ConsumeNackDiscard, queue.handler([]byte("not json")))
	assert.Equal(t, storage.ConsumeNackDiscard, queue.handler([]byte(`{"enqueued_at": "2026-01-01T00:00:00Z"}`)), "缺少评估ID的消息应丢弃")
	assert.Empty(t, pipeline.runIDs)
}

// TestWorker_LockHeld 锁被占用时丢弃重复投递
func TestWorker_LockHeld(t *testing.T) {
	queue := &fakeQueue{}
	pipeline := &fakePipeline{}
	store := &fakeStore{claimResult: true}
	locker := &fakeLocker{lockValue: ""} // 未获得锁

	startedWorker(t, queue, pipeline, store, locker)

	result := queue.handler(taskBody(t, "eval-1"))
	assert.Equal(t, storage.ConsumeAck, result, "重复投递应被确认丢弃")
	assert.Empty(t, pipeline.runIDs, "不应执行流水线")
}

// TestWorker_ClaimRejected 认领失败说明已被处理，确认消息即可
func TestWorker_ClaimRejected(t *testing.T) {
	queue := &fakeQueue{}
	pipeline := &fakePipeline{}
	store := &fakeStore{claimResult: false}

	startedWorker(t, queue, pipeline, store, &fakeLocker{lockValue: "lock-1"})

	result := queue.handler(taskBody(t, "eval-1"))
	assert.Equal(t, storage.ConsumeAck, result)
	assert.Empty(t, pipeline.runIDs)
}

// TestWorker_ClaimError 认领时数据库故障应重新入队
func TestWorker_ClaimError(t *testing.T) {
	queue := &fakeQueue{}
	pipeline := &fakePipeline{}
	store := &fakeStore{claimErr: errors.New("db down")}

	startedWorker(t, queue, pipeline, store, &fakeLocker{lockValue: "lock-1"})

	result := queue.handler(taskBody(t, "eval-1"))
	assert.Equal(t, storage.ConsumeNackRequeue, result)
}
