package queue

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricOperation 定义指标操作类型
type MetricOperation string

const (
	OpPush    MetricOperation = "push"
	OpPop     MetricOperation = "pop"
	OpProcess MetricOperation = "process"
)

// LatencyStats 延迟统计
type LatencyStats struct {
	mu    sync.Mutex
	count int64
	total time.Duration
	min   time.Duration
	max   time.Duration
}

// LatencySnapshot 延迟统计快照
type LatencySnapshot struct {
	Count int64         `json:"count"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
}

// QueueMetrics 队列指标收集器
type QueueMetrics struct {
	successful sync.Map // map[MetricOperation]*atomic.Int64
	failed     sync.Map // map[MetricOperation]*atomic.Int64

	pushLatency    LatencyStats
	popLatency     LatencyStats
	processLatency LatencyStats

	// 等待时间（入队到被取出），毫秒
	avgWaitTime atomic.Int64
	waitSamples atomic.Int64
}

// MetricsSnapshot 指标快照
type MetricsSnapshot struct {
	Successful     map[MetricOperation]int64 `json:"successful"`
	Failed         map[MetricOperation]int64 `json:"failed"`
	PushLatency    LatencySnapshot           `json:"push_latency"`
	PopLatency     LatencySnapshot           `json:"pop_latency"`
	ProcessLatency LatencySnapshot           `json:"process_latency"`
	AvgWaitMillis  int64                     `json:"avg_wait_ms"`
}

// NewQueueMetrics 创建新的指标收集器
func NewQueueMetrics() *QueueMetrics {
	return &QueueMetrics{}
}

// RecordSuccess 记录成功操作
func (m *QueueMetrics) RecordSuccess(op MetricOperation) {
	counter(&m.successful, op).Add(1)
}

// RecordError 记录失败操作
func (m *QueueMetrics) RecordError(op MetricOperation) {
	counter(&m.failed, op).Add(1)
}

// RecordWait 记录任务从入队到被取出的等待时间
func (m *QueueMetrics) RecordWait(enqueuedAt time.Time) {
	if enqueuedAt.IsZero() {
		return
	}
	wait := time.Since(enqueuedAt).Milliseconds()
	n := m.waitSamples.Add(1)
	avg := m.avgWaitTime.Load()
	m.avgWaitTime.Store(avg + (wait-avg)/n)
}

// RecordPushLatency 记录推送延迟
func (m *QueueMetrics) RecordPushLatency(d time.Duration) {
	m.pushLatency.record(d)
}

// RecordPopLatency 记录获取延迟
func (m *QueueMetrics) RecordPopLatency(d time.Duration) {
	m.popLatency.record(d)
}

// RecordProcessLatency 记录处理延迟
func (m *QueueMetrics) RecordProcessLatency(d time.Duration) {
	m.processLatency.record(d)
}

// Snapshot 获取当前指标
func (m *QueueMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Successful:     snapshotCounters(&m.successful),
		Failed:         snapshotCounters(&m.failed),
		PushLatency:    m.pushLatency.snapshot(),
		PopLatency:     m.popLatency.snapshot(),
		ProcessLatency: m.processLatency.snapshot(),
		AvgWaitMillis:  m.avgWaitTime.Load(),
	}
}

// record 记录延迟数据
func (s *LatencyStats) record(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.total += d

	// 更新最小值
	if s.min == 0 || d < s.min {
		s.min = d
	}

	// 更新最大值
	if d > s.max {
		s.max = d
	}
}

func (s *LatencyStats) snapshot() LatencySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := LatencySnapshot{Count: s.count, Min: s.min, Max: s.max}
	if s.count > 0 {
		snap.Avg = s.total / time.Duration(s.count)
	}
	return snap
}

func counter(m *sync.Map, op MetricOperation) *atomic.Int64 {
	if c, ok := m.Load(op); ok {
		return c.(*atomic.Int64)
	}
	c, _ := m.LoadOrStore(op, &atomic.Int64{})
	return c.(*atomic.Int64)
}

func snapshotCounters(m *sync.Map) map[MetricOperation]int64 {
	out := make(map[MetricOperation]int64)
	m.Range(func(key, value interface{}) bool {
		out[key.(MetricOperation)] = value.(*atomic.Int64).Load()
		return true
	})
	return out
}
