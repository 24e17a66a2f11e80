package bootstrap

import (
	"context"
	"time"

	"feepay/pkg/config"
	"feepay/pkg/logger"
	"feepay/pkg/payment/sweeper"
	"feepay/pkg/queue"
	"feepay/pkg/redis"
)

// SetupQueue 创建复查队列，Redis 未初始化或未启用清理时返回 nil
func SetupQueue() *queue.QueueService {
	if !config.GetBool("payment.sweep.enabled") {
		logger.InfoString("Queue", "Setup", "过期交易清理未启用")
		return nil
	}

	client := redis.GetRedis(redis.QueueDB)
	if client == nil {
		logger.ErrorString("Queue", "Setup", "Redis manager not initialized")
		return nil
	}

	return queue.NewQueueService(client, queue.Options{
		Prefix:    config.GetString("redis.queue_prefix", "feepay:queue"),
		StatusTTL: config.GetDuration("redis.queue_timeout", 300),
		RateLimit: config.GetInt("queue.rate_limit", 50),
		RateBurst: config.GetInt("queue.rate_burst", 100),
	})
}

// StartSweeper 启动定时扫描和队列工作器，返回停止函数
func StartSweeper(ctx context.Context, qs *queue.QueueService, sw *sweeper.Sweeper) func() {
	if qs == nil || sw == nil {
		return func() {}
	}

	worker := queue.NewWorker(qs, sw.Recheck, queue.WorkerConfig{
		WorkerCount:     config.GetInt("queue.worker_count", 4),
		MaxRetries:      config.GetInt("queue.retry_times", 3),
		RetryInterval:   time.Duration(config.GetInt("queue.retry_delay", 1)) * time.Second,
		ShutdownTimeout: 30 * time.Second,
	})
	worker.Start()

	ctx, cancel := context.WithCancel(ctx)
	go sw.Run(ctx)

	logger.InfoString("Queue", "Setup", "过期交易清理启动成功")
	return func() {
		cancel()
		worker.Stop()
	}
}
