// Package sweeper 定期复查长时间未结束的支付交易
//
// 扫描器把超过 ExpireAfter 仍处于 initiated / pending 的交易推入复查队列，
// 队列工作器查询网关的权威状态：网关没有这笔支付则标记为过期失败，
// 网关给出结果则交给对账器按 status_query 渠道处理，网关不可用则留给下一轮。
package sweeper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"feepay/app/models/payment"
	"feepay/pkg/logger"
	"feepay/pkg/payment/reconciler"
	"feepay/pkg/payment/types"
	"feepay/pkg/queue"
)

const moduleName = "Sweeper"

// ExpiredReason 过期交易的失败原因
const ExpiredReason = "expired"

// expiryGrace 网关关闭订单后再等待的时间
const expiryGrace = 15 * time.Minute

// TransactionStore 交易存储
type TransactionStore interface {
	FindByID(ctx context.Context, id uint64) (*payment.PaymentTransaction, error)
	FindStale(ctx context.Context, before time.Time, limit int) ([]payment.PaymentTransaction, error)
	TransitionStatus(ctx context.Context, id uint64, from, to payment.Status, fields payment.TransitionFields) error
}

// Queue 复查任务队列
type Queue interface {
	PushTask(ctx context.Context, task *queue.RecheckTask) (bool, error)
}

// GatewayResolver 按租户获取网关
type GatewayResolver interface {
	ForTenant(ctx context.Context, tenantID string) (types.Gateway, error)
}

// Reconciler 对账入口
type Reconciler interface {
	Reconcile(ctx context.Context, ev *types.GatewayEvent) (*reconciler.Result, error)
}

// Options 清理配置
type Options struct {
	Interval    time.Duration
	ExpireAfter time.Duration
	// OrderExpiry 网关侧订单的支付时限，ExpireAfter 不会短于它加上 expiryGrace
	OrderExpiry  time.Duration
	BatchSize    int
	FetchTimeout time.Duration
}

// Sweeper 过期交易清理
type Sweeper struct {
	txns     TransactionStore
	queue    Queue
	gateways GatewayResolver
	rec      Reconciler
	opts     Options
	now      func() time.Time
}

// New 创建清理器
func New(txns TransactionStore, q Queue, gateways GatewayResolver, rec Reconciler, opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Minute
	}
	if opts.ExpireAfter <= 0 {
		opts.ExpireAfter = 2 * time.Hour
	}
	// 网关订单仍可支付时不能判定过期，否则迟到的付款无法入账
	if minimum := opts.OrderExpiry + expiryGrace; opts.OrderExpiry > 0 && opts.ExpireAfter < minimum {
		logger.Warn(moduleName, zap.Duration("expire_after", opts.ExpireAfter), zap.Duration("order_expiry", opts.OrderExpiry),
			zap.String("msg", "过期判定时间短于网关订单时限，已自动延长"))
		opts.ExpireAfter = minimum
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	return &Sweeper{
		txns:     txns,
		queue:    q,
		gateways: gateways,
		rec:      rec,
		opts:     opts,
		now:      time.Now,
	}
}

// Run 按 Interval 周期扫描，直到 ctx 结束
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			logger.Error(moduleName, zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep 扫描一批过期交易并推入复查队列，返回新入队的数量
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	before := s.now().Add(-s.opts.ExpireAfter)
	stale, err := s.txns.FindStale(ctx, before, s.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for i := range stale {
		txn := &stale[i]
		ok, err := s.queue.PushTask(ctx, &queue.RecheckTask{
			TransactionID:  txn.ID,
			TenantID:       txn.TenantID,
			GatewayOrderID: txn.GatewayOrderID,
		})
		if err != nil {
			return queued, err
		}
		if ok {
			queued++
		}
	}

	if len(stale) > 0 {
		logger.Info(moduleName, zap.Int("stale", len(stale)), zap.Int("queued", queued))
	}
	return queued, nil
}

// Recheck 处理一个复查任务，返回错误时队列会重试
func (s *Sweeper) Recheck(ctx context.Context, task *queue.RecheckTask) error {
	txn, err := s.txns.FindByID(ctx, task.TransactionID)
	if errors.Is(err, types.ErrNotFound) {
		logger.Warn(moduleName, zap.Uint64("transaction_id", task.TransactionID), zap.String("msg", "交易不存在"))
		return nil
	}
	if err != nil {
		return err
	}
	if !txn.IsInProgress() {
		return nil
	}

	gw, err := s.gateways.ForTenant(ctx, txn.TenantID)
	if err != nil {
		if errors.Is(err, types.ErrConfiguration) {
			logger.Warn(moduleName, zap.String("tenant_id", txn.TenantID), zap.Error(err))
			return nil
		}
		return err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	status, err := gw.FetchCanonicalStatus(fetchCtx, types.StatusQuery{
		GatewayOrderID:   txn.GatewayOrderID,
		GatewayPaymentID: txn.GatewayPaymentID,
	})
	cancel()

	switch {
	case errors.Is(err, types.ErrGatewayPaymentNotFound):
		return s.expire(ctx, txn)
	case err != nil:
		// 网关不可用或拒绝查询，等下一轮扫描
		logger.Warn(moduleName, zap.Uint64("transaction_id", txn.ID), zap.Error(err))
		return nil
	case status.RawStatus == "":
		return nil
	}

	res, err := s.rec.Reconcile(ctx, &types.GatewayEvent{
		Source:           types.SourceStatusQuery,
		Provider:         gw.Provider(),
		GatewayOrderID:   txn.GatewayOrderID,
		GatewayPaymentID: status.GatewayPaymentID,
		RawStatus:        status.RawStatus,
		Amount:           status.AmountMinor,
		Method:           status.Method,
		ErrorReason:      status.ErrorReason,
		Raw:              status.Raw,
	})
	if err != nil {
		if errors.Is(err, types.ErrValidation) || errors.Is(err, types.ErrConfiguration) {
			logger.Warn(moduleName, zap.Uint64("transaction_id", txn.ID), zap.Error(err))
			return nil
		}
		return err
	}

	logger.Info(moduleName,
		zap.Uint64("transaction_id", txn.ID),
		zap.String("outcome", string(res.Outcome)),
	)
	return nil
}

// expire 网关没有这笔支付：标记为失败
func (s *Sweeper) expire(ctx context.Context, txn *payment.PaymentTransaction) error {
	now := s.now()
	err := s.txns.TransitionStatus(ctx, txn.ID, txn.Status, payment.StatusFailed, payment.TransitionFields{
		FailureReason: ExpiredReason,
		CompletedAt:   &now,
	})
	if errors.Is(err, types.ErrConflict) {
		// 状态已被其他渠道推进
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info(moduleName, zap.Uint64("transaction_id", txn.ID), zap.String("msg", "交易已过期"))
	return nil
}
