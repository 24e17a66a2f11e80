package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feepay/pkg/redis"
)

func newTestQueue(t *testing.T) *QueueService {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.FromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Client.Close() })
	return NewQueueService(client, Options{Prefix: "test:queue", StatusTTL: time.Minute})
}

func TestPushTaskDeduplicatesInflightTransaction(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	queued, err := q.PushTask(ctx, &RecheckTask{TransactionID: 7, TenantID: "t1"})
	require.NoError(t, err)
	assert.True(t, queued)

	queued, err = q.PushTask(ctx, &RecheckTask{TransactionID: 7, TenantID: "t1"})
	require.NoError(t, err)
	assert.False(t, queued)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	status, err := q.GetTaskStatus(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, TaskPending, status)
}

func TestPopTaskAndDoneReleasesMarker(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.PushTask(ctx, &RecheckTask{TransactionID: 9, GatewayOrderID: "order_9"})
	require.NoError(t, err)

	task, err := q.PopTask(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, uint64(9), task.TransactionID)
	assert.Equal(t, "order_9", task.GatewayOrderID)

	require.NoError(t, q.Done(ctx, task, TaskCompleted))
	status, err := q.GetTaskStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, status)

	queued, err := q.PushTask(ctx, &RecheckTask{TransactionID: 9})
	require.NoError(t, err)
	assert.True(t, queued)
}

func TestGetTaskStatusUnknown(t *testing.T) {
	q := newTestQueue(t)

	status, err := q.GetTaskStatus(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, TaskStatus(""), status)
}

func TestWorkerRequeuesFailedTask(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	calls := 0
	w := NewWorker(q, func(ctx context.Context, task *RecheckTask) error {
		calls++
		if calls == 1 {
			return errors.New("database unavailable")
		}
		return nil
	}, WorkerConfig{MaxRetries: 2, RetryInterval: time.Millisecond})

	_, err := q.PushTask(ctx, &RecheckTask{TransactionID: 1})
	require.NoError(t, err)

	require.NoError(t, w.processNextTask(ctx))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, w.processNextTask(ctx))
	assert.Equal(t, 2, calls)

	status, err := q.GetTaskStatus(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, status)

	snap := q.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.Successful[OpProcess])
	assert.Equal(t, int64(1), snap.Failed[OpProcess])
	assert.Equal(t, int64(2), snap.ProcessLatency.Count)
}

func TestWorkerGivesUpAfterMaxRetries(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	w := NewWorker(q, func(ctx context.Context, task *RecheckTask) error {
		return errors.New("boom")
	}, WorkerConfig{MaxRetries: 0})

	_, err := q.PushTask(ctx, &RecheckTask{TransactionID: 2})
	require.NoError(t, err)

	err = w.processNextTask(ctx)
	require.Error(t, err)

	status, err := q.GetTaskStatus(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, status)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLatencyStatsSnapshot(t *testing.T) {
	m := NewQueueMetrics()
	m.RecordPopLatency(10 * time.Millisecond)
	m.RecordPopLatency(30 * time.Millisecond)

	snap := m.Snapshot().PopLatency
	assert.Equal(t, int64(2), snap.Count)
	assert.Equal(t, 20*time.Millisecond, snap.Avg)
	assert.Equal(t, 10*time.Millisecond, snap.Min)
	assert.Equal(t, 30*time.Millisecond, snap.Max)
}
