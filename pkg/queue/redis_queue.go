package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"feepay/pkg/redis"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// RecheckTask 超时未结束交易的复查任务
type RecheckTask struct {
	ID             string    `json:"id"`
	TransactionID  uint64    `json:"transaction_id"`
	TenantID       string    `json:"tenant_id"`
	GatewayOrderID string    `json:"gateway_order_id"`
	Attempt        int       `json:"attempt"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// Options 队列配置
type Options struct {
	Prefix string
	// StatusTTL 任务状态和去重标记的保存时间
	StatusTTL time.Duration
	RateLimit int
	RateBurst int
}

// QueueService Redis 列表实现的任务队列
type QueueService struct {
	client      *redis.RedisClient
	prefix      string
	timeout     time.Duration
	rateLimiter *rate.Limiter
	metrics     *QueueMetrics
}

// NewQueueService 创建新的队列服务实例
func NewQueueService(client *redis.RedisClient, opts Options) *QueueService {
	if opts.Prefix == "" {
		opts.Prefix = "feepay:queue"
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = 5 * time.Minute
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 1000
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = opts.RateLimit
	}

	return &QueueService{
		client:      client,
		prefix:      opts.Prefix,
		timeout:     opts.StatusTTL,
		rateLimiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		metrics:     NewQueueMetrics(),
	}
}

// Metrics 队列指标
func (q *QueueService) Metrics() *QueueMetrics {
	return q.metrics
}

// PushTask 将任务推送到队列
//
// 同一笔交易在处理完成前只会入队一次，重复推送返回 false。
func (q *QueueService) PushTask(ctx context.Context, task *RecheckTask) (bool, error) {
	// 应用限流
	if err := q.rateLimiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 开始计时
	start := time.Now()
	defer func() {
		q.metrics.RecordPushLatency(time.Since(start))
	}()

	if task.ID == "" {
		task.ID = strconv.FormatUint(task.TransactionID, 10)
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}

	// 去重标记
	ok, err := q.client.Client.SetNX(ctx, q.inflightKey(task.TransactionID), task.ID, q.timeout).Result()
	if err != nil {
		q.metrics.RecordError(OpPush)
		return false, fmt.Errorf("failed to mark task: %w", err)
	}
	if !ok {
		return false, nil
	}

	if err := q.push(ctx, task); err != nil {
		q.client.Client.Del(ctx, q.inflightKey(task.TransactionID))
		return false, err
	}
	return true, nil
}

// Requeue 处理失败的任务重新入队，不检查去重标记
func (q *QueueService) Requeue(ctx context.Context, task *RecheckTask) error {
	task.Attempt++
	task.EnqueuedAt = time.Now()
	return q.push(ctx, task)
}

func (q *QueueService) push(ctx context.Context, task *RecheckTask) error {
	// 序列化任务
	taskJSON, err := json.Marshal(task)
	if err != nil {
		q.metrics.RecordError(OpPush)
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	// 使用事务确保原子性
	pipe := q.client.Client.TxPipeline()
	pipe.LPush(ctx, q.tasksKey(), taskJSON)
	pipe.Set(ctx, q.statusKey(task.ID), string(TaskPending), q.timeout)

	if _, err := pipe.Exec(ctx); err != nil {
		q.metrics.RecordError(OpPush)
		return fmt.Errorf("failed to push task: %w", err)
	}

	q.metrics.RecordSuccess(OpPush)
	return nil
}

// PopTask 从队列中获取任务，wait 时间内没有任务返回 nil
func (q *QueueService) PopTask(ctx context.Context, wait time.Duration) (*RecheckTask, error) {
	start := time.Now()
	result, err := q.client.Client.BRPop(ctx, wait, q.tasksKey()).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		q.metrics.RecordError(OpPop)
		return nil, fmt.Errorf("failed to pop task from queue: %w", err)
	}
	q.metrics.RecordPopLatency(time.Since(start))

	if len(result) != 2 {
		q.metrics.RecordError(OpPop)
		return nil, fmt.Errorf("invalid result from queue")
	}

	var task RecheckTask
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		q.metrics.RecordError(OpPop)
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	q.metrics.RecordSuccess(OpPop)
	q.metrics.RecordWait(task.EnqueuedAt)
	return &task, nil
}

// Done 任务处理结束，记录状态并清除去重标记
func (q *QueueService) Done(ctx context.Context, task *RecheckTask, status TaskStatus) error {
	pipe := q.client.Client.TxPipeline()
	pipe.Set(ctx, q.statusKey(task.ID), string(status), q.timeout)
	pipe.Del(ctx, q.inflightKey(task.TransactionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to finish task: %w", err)
	}
	return nil
}

// UpdateTaskStatus 更新任务状态
func (q *QueueService) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus) error {
	if err := q.client.Client.Set(ctx, q.statusKey(taskID), string(status), q.timeout).Err(); err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return nil
}

// GetTaskStatus 获取任务状态，任务不存在时返回空字符串
func (q *QueueService) GetTaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	status, err := q.client.Client.Get(ctx, q.statusKey(taskID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", nil // 任务不存在
		}
		return "", fmt.Errorf("failed to get task status: %w", err)
	}
	return TaskStatus(status), nil
}

// Len 队列长度
func (q *QueueService) Len(ctx context.Context) (int64, error) {
	return q.client.Client.LLen(ctx, q.tasksKey()).Result()
}

// Ping 检查队列服务健康状态
func (q *QueueService) Ping() error {
	return q.client.Ping()
}

func (q *QueueService) tasksKey() string {
	return q.prefix + ":recheck"
}

func (q *QueueService) statusKey(taskID string) string {
	return q.prefix + ":status:" + taskID
}

func (q *QueueService) inflightKey(transactionID uint64) string {
	return q.prefix + ":inflight:" + strconv.FormatUint(transactionID, 10)
}
