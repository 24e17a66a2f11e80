// Package initiator 发起支付：校验账单和金额，在网关下单，保存交易记录
package initiator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"feepay/app/models/invoice"
	"feepay/app/models/payment"
	"feepay/pkg/logger"
	"feepay/pkg/payment/types"
	"feepay/pkg/payment/utils"
	"feepay/pkg/redis"
)

const moduleName = "发起支付"

// InvoiceStore 账单读取
type InvoiceStore interface {
	FindForTenant(ctx context.Context, tenantID string, id uint64) (*invoice.Invoice, error)
}

// TransactionStore 交易存储
type TransactionStore interface {
	FindInProgress(ctx context.Context, invoiceID uint64, since time.Time) (*payment.PaymentTransaction, error)
	Create(ctx context.Context, txn *payment.PaymentTransaction) error
}

// GatewayResolver 按租户获取网关
type GatewayResolver interface {
	ForTenant(ctx context.Context, tenantID string) (types.Gateway, error)
}

// Locker 同一账单同时发起支付时的互斥锁，只用于缩小竞争窗口
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// NoopLocker 未配置 Redis 时使用
type NoopLocker struct{}

// TryLock 总是成功
func (NoopLocker) TryLock(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

// Options 发起支付参数
type Options struct {
	// InProgressWindow 该时间内已发起且未结束的支付会阻止再次发起
	InProgressWindow time.Duration
	// GatewayTimeout 网关下单超时
	GatewayTimeout time.Duration
	// OrderExpiry 网关侧订单的支付时限，需短于过期清理的判定时间
	OrderExpiry time.Duration
	// LockTTL 发起锁的过期时间
	LockTTL time.Duration
	// LockPrefix 锁的 key 前缀
	LockPrefix string
	// CallbackURL 浏览器跳转回调地址
	CallbackURL string
	// NotifyURL 服务端异步通知地址
	NotifyURL string
}

// Request 发起支付请求
type Request struct {
	TenantID  string
	InvoiceID uint64
	Amount    decimal.Decimal
	Payer     types.Payer
}

// Response 发起支付结果
type Response struct {
	OrderID        string                 `json:"order_id"`
	Provider       types.Provider         `json:"provider"`
	GatewayOrderID string                 `json:"gateway_order_id"`
	Amount         string                 `json:"amount"`
	Currency       string                 `json:"currency"`
	CheckoutParams map[string]interface{} `json:"checkout_params"`
}

// Initiator 支付发起器
type Initiator struct {
	invoices InvoiceStore
	txns     TransactionStore
	gateways GatewayResolver
	locker   Locker
	opts     Options
	now      func() time.Time
}

// New 创建支付发起器，locker 为空时不加锁
func New(invoices InvoiceStore, txns TransactionStore, gateways GatewayResolver, locker Locker, opts Options) *Initiator {
	if opts.InProgressWindow <= 0 {
		opts.InProgressWindow = 30 * time.Minute
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 10 * time.Second
	}
	if opts.OrderExpiry <= 0 {
		opts.OrderExpiry = 90 * time.Minute
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 15 * time.Second
	}
	if opts.LockPrefix == "" {
		opts.LockPrefix = "feepay:initiate"
	}
	if locker == nil {
		locker = NoopLocker{}
	}
	return &Initiator{
		invoices: invoices,
		txns:     txns,
		gateways: gateways,
		locker:   locker,
		opts:     opts,
		now:      time.Now,
	}
}

// Initiate 发起支付
//
// 所有校验都在访问网关之前完成；网关下单失败或超时时不保存任何记录。
func (i *Initiator) Initiate(ctx context.Context, req Request) (*Response, error) {
	// 1. 账单存在且可支付
	inv, err := i.invoices.FindForTenant(ctx, req.TenantID, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if !inv.IsPayable() {
		return nil, types.ErrInvoiceNotPayable
	}

	// 2. 0 < 金额 <= 余额，且最多两位小数
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Round(2)) {
		return nil, types.ErrInvalidAmount
	}
	if req.Amount.GreaterThan(inv.BalanceAmount) {
		return nil, types.ErrAmountExceedsBalance
	}

	// 3. 租户已配置网关
	gw, err := i.gateways.ForTenant(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	// 4. 没有进行中的支付
	unlock, err := i.locker.TryLock(ctx, i.lockKey(inv.ID), i.opts.LockTTL)
	if err != nil {
		if errors.Is(err, redis.ErrLockNotAcquired) {
			return nil, types.ErrPaymentInProgress
		}
		// 锁服务不可用时仍依赖数据库检查
		logger.Warn(moduleName, zap.Uint64("invoice_id", inv.ID), zap.Error(err), zap.String("msg", "获取发起锁失败"))
		unlock = func() {}
	}
	defer unlock()

	existing, err := i.txns.FindInProgress(ctx, inv.ID, i.now().Add(-i.opts.InProgressWindow))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, types.ErrPaymentInProgress
	}

	// 5. 网关下单
	orderID := utils.GenerateOrderNo()
	currency := inv.Currency

	gwCtx, cancel := context.WithTimeout(ctx, i.opts.GatewayTimeout)
	defer cancel()

	order, err := gw.CreateOrder(gwCtx, types.OrderRequest{
		OrderID:     orderID,
		AmountMinor: payment.ToMinor(req.Amount),
		Currency:    currency,
		Description: "Fee payment for invoice " + inv.InvoiceNumber,
		Payer:       req.Payer,
		CallbackURL: i.opts.CallbackURL,
		NotifyURL:   i.opts.NotifyURL,
		ExpiresIn:   i.opts.OrderExpiry,
	})
	if err != nil {
		if errors.Is(gwCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, types.ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %v", types.ErrGatewayUnavailable, err)
		}
		logger.Error(moduleName, zap.Uint64("invoice_id", inv.ID), zap.String("order_id", orderID),
			zap.Error(err), zap.String("msg", "网关下单失败"))
		return nil, err
	}

	// 6. 保存交易记录
	txn := &payment.PaymentTransaction{
		OrderID:            orderID,
		GatewayOrderID:     order.GatewayOrderID,
		InvoiceID:          inv.ID,
		TenantID:           req.TenantID,
		Provider:           string(gw.Provider()),
		Amount:             req.Amount,
		Currency:           currency,
		Status:             payment.StatusInitiated,
		RawGatewayResponse: order.Raw,
		PayerName:          req.Payer.Name,
		PayerEmail:         req.Payer.Email,
		PayerPhone:         req.Payer.Phone,
		InitiatedAt:        i.now(),
	}
	if err := i.txns.Create(ctx, txn); err != nil {
		return nil, fmt.Errorf("save payment transaction: %w", err)
	}

	logger.Info(moduleName, zap.Uint64("invoice_id", inv.ID), zap.String("order_id", orderID),
		zap.String("gateway_order_id", order.GatewayOrderID), zap.String("amount", req.Amount.StringFixed(2)),
		zap.String("provider", txn.Provider), zap.String("msg", "支付已发起"))

	return &Response{
		OrderID:        orderID,
		Provider:       gw.Provider(),
		GatewayOrderID: order.GatewayOrderID,
		Amount:         req.Amount.StringFixed(2),
		Currency:       currency,
		CheckoutParams: order.CheckoutParams,
	}, nil
}

func (i *Initiator) lockKey(invoiceID uint64) string {
	return i.opts.LockPrefix + ":" + strconv.FormatUint(invoiceID, 10)
}
