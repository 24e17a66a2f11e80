package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"feepay/pkg/logger"
)

// Handler 处理单个复查任务
type Handler func(ctx context.Context, task *RecheckTask) error

// Worker 队列工作器
type Worker struct {
	queueService *QueueService
	handler      Handler
	stopChan     chan struct{}
	stopOnce     sync.Once
	metrics      *QueueMetrics // 性能指标
	wg           sync.WaitGroup
	config       WorkerConfig
}

// WorkerConfig 工作器配置
type WorkerConfig struct {
	WorkerCount     int           // 并发工作器数量
	MaxRetries      int           // 最大重试次数
	RetryInterval   time.Duration // 重试间隔
	ShutdownTimeout time.Duration // 关闭超时时间
	TaskTimeout     time.Duration // 单个任务处理超时
	PollInterval    time.Duration // 空队列时的阻塞等待时间
}

// NewWorker 创建新的工作器组
func NewWorker(qs *QueueService, handler Handler, config WorkerConfig) *Worker {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4 // 默认工作器数量
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = time.Second
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = 20 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}

	return &Worker{
		queueService: qs,
		handler:      handler,
		stopChan:     make(chan struct{}),
		metrics:      qs.Metrics(),
		config:       config,
	}
}

// Start 启动工作器组
func (w *Worker) Start() {
	for i := 0; i < w.config.WorkerCount; i++ {
		w.wg.Add(1)
		go w.startWorker(i)
	}
}

// startWorker 启动单个工作器
func (w *Worker) startWorker(id int) {
	defer w.wg.Done()

	logger.InfoString("Worker", "Start", fmt.Sprintf("Worker %d started", id))

	for {
		select {
		case <-w.stopChan:
			logger.InfoString("Worker", "Stop", fmt.Sprintf("Worker %d stopping", id))
			return
		default:
		}

		if err := w.processNextTask(context.Background()); err != nil {
			logger.ErrorString("Worker", "Error", fmt.Sprintf("Worker %d error: %v", id, err))
			// 错误恢复延迟
			select {
			case <-w.stopChan:
			case <-time.After(time.Second):
			}
		}
	}
}

// processNextTask 取出一个任务并处理，队列为空时返回 nil
func (w *Worker) processNextTask(ctx context.Context) error {
	task, err := w.queueService.PopTask(ctx, w.config.PollInterval)
	if err != nil {
		return fmt.Errorf("pop task error: %w", err)
	}
	if task == nil {
		return nil
	}
	return w.handleTask(ctx, task)
}

// handleTask 处理单个任务，失败时按配置重新入队
func (w *Worker) handleTask(ctx context.Context, task *RecheckTask) error {
	start := time.Now()
	defer func() {
		w.metrics.RecordProcessLatency(time.Since(start))
	}()

	// 更新状态为处理中
	if err := w.queueService.UpdateTaskStatus(ctx, task.ID, TaskRunning); err != nil {
		logger.ErrorString("Worker", "UpdateStatus", err.Error())
	}

	taskCtx, cancel := context.WithTimeout(ctx, w.config.TaskTimeout)
	err := w.handler(taskCtx, task)
	cancel()

	if err == nil {
		w.metrics.RecordSuccess(OpProcess)
		return w.queueService.Done(ctx, task, TaskCompleted)
	}

	w.metrics.RecordError(OpProcess)
	if task.Attempt < w.config.MaxRetries {
		logger.Warn("Worker",
			zap.String("task_id", task.ID),
			zap.Int("attempt", task.Attempt),
			zap.Error(err),
		)
		select {
		case <-w.stopChan:
		case <-time.After(w.config.RetryInterval):
		}
		if requeueErr := w.queueService.Requeue(ctx, task); requeueErr != nil {
			logger.ErrorString("Worker", "Requeue", requeueErr.Error())
			_ = w.queueService.Done(ctx, task, TaskFailed)
		}
		return nil
	}

	if doneErr := w.queueService.Done(ctx, task, TaskFailed); doneErr != nil {
		logger.ErrorString("Worker", "UpdateStatus", doneErr.Error())
	}
	return fmt.Errorf("process task %s error: %w", task.ID, err)
}

// Stop 优雅关闭工作器组
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })

	// 等待所有工作器完成
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.InfoString("Worker", "Stop", "All workers stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		logger.WarnString("Worker", "Stop", "Worker shutdown timed out")
	}
}
