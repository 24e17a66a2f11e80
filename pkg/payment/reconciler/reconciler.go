// Package reconciler 支付结果对账
//
// verify 调用、跳转回调、webhook 以及主动查询得到的事件都经过这里，
// 共用同一个状态机，并保证每笔交易最多入账一次。
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"feepay/app/models/feepayment"
	"feepay/app/models/gatewayevent"
	"feepay/app/models/payment"
	"feepay/app/repositories"
	"feepay/pkg/events"
	"feepay/pkg/logger"
	"feepay/pkg/payment/types"
)

const moduleName = "对账"

// Outcome 对账结果
type Outcome string

const (
	OutcomeCredited         Outcome = "credited"          // 本次事件完成入账
	OutcomeAlreadyProcessed Outcome = "already_processed" // 之前已经入账
	OutcomePending          Outcome = "pending"
	OutcomeFailed           Outcome = "failed"
)

// Result 对账结果
type Result struct {
	Outcome     Outcome
	Transaction *payment.PaymentTransaction
	FeePayment  *feepayment.FeePayment
}

// Succeeded 交易是否已成功（本次入账或之前已入账）
func (r *Result) Succeeded() bool {
	return r != nil && (r.Outcome == OutcomeCredited || r.Outcome == OutcomeAlreadyProcessed)
}

// TransactionStore 交易存储
type TransactionStore interface {
	FindByID(ctx context.Context, id uint64) (*payment.PaymentTransaction, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*payment.PaymentTransaction, error)
	TransitionStatus(ctx context.Context, id uint64, from, to payment.Status, fields payment.TransitionFields) error
}

// Ledger 账本
type Ledger interface {
	FindByTransactionID(ctx context.Context, transactionID uint64) (*feepayment.FeePayment, error)
	Settle(ctx context.Context, txn *payment.PaymentTransaction, fields payment.TransitionFields) (*repositories.Settlement, error)
}

// GatewayResolver 按租户获取网关
type GatewayResolver interface {
	ForTenant(ctx context.Context, tenantID string) (types.Gateway, error)
}

// AuditLog 事件审计日志
type AuditLog interface {
	Create(ctx context.Context, log *gatewayevent.GatewayEventLog) error
}

// Options 对账参数
type Options struct {
	// StatusFetchTimeout 参考性状态查询的超时时间
	StatusFetchTimeout time.Duration
	// MaxRetries 并发冲突后的最大重试次数
	MaxRetries int
}

// Reconciler 对账器
type Reconciler struct {
	txns      TransactionStore
	ledger    Ledger
	gateways  GatewayResolver
	audit     AuditLog
	publisher events.Publisher
	opts      Options
}

// New 创建对账器，publisher 为空时不发布事件
func New(txns TransactionStore, ledger Ledger, gateways GatewayResolver, audit AuditLog, publisher events.Publisher, opts Options) *Reconciler {
	if opts.StatusFetchTimeout <= 0 {
		opts.StatusFetchTimeout = 3 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Reconciler{
		txns:      txns,
		ledger:    ledger,
		gateways:  gateways,
		audit:     audit,
		publisher: publisher,
		opts:      opts,
	}
}

// Reconcile 处理一个标准化后的网关事件
func (r *Reconciler) Reconcile(ctx context.Context, ev *types.GatewayEvent) (*Result, error) {
	if ev == nil || ev.GatewayOrderID == "" {
		return nil, fmt.Errorf("%w: missing gateway order id", types.ErrMalformedEvent)
	}

	txn, err := r.txns.FindByGatewayOrderID(ctx, ev.GatewayOrderID)
	if err != nil {
		if errors.Is(err, types.ErrTransactionNotFound) {
			logger.Warn(moduleName, zap.String("gateway_order_id", ev.GatewayOrderID),
				zap.String("source", string(ev.Source)), zap.String("msg", "未找到对应的交易"))
		}
		r.record(ctx, nil, ev, nil, err)
		return nil, err
	}

	var res *Result
	for attempt := 0; ; attempt++ {
		res, err = r.reconcile(ctx, txn, ev)
		if err == nil || !errors.Is(err, types.ErrConflict) || attempt >= r.opts.MaxRetries {
			break
		}

		// 被并发的请求抢先更新，重新读取后再走一遍（通常会命中幂等分支）
		logger.Debug(moduleName, zap.Uint64("transaction_id", txn.ID), zap.Int("attempt", attempt+1),
			zap.String("msg", "状态冲突，重新读取交易"))
		if txn, err = r.txns.FindByID(ctx, txn.ID); err != nil {
			break
		}
	}

	r.record(ctx, txn, ev, res, err)
	return res, err
}

func (r *Reconciler) reconcile(ctx context.Context, txn *payment.PaymentTransaction, ev *types.GatewayEvent) (*Result, error) {
	// 1. 已成功的交易直接返回，不验签也不访问网关
	if txn.Status == payment.StatusSuccess {
		return r.alreadyProcessed(ctx, txn)
	}

	// 事件格式必须属于创建该交易的网关，否则不能用该网关的规则验签
	if ev.Provider != "" && ev.Provider != types.Provider(txn.Provider) {
		return nil, fmt.Errorf("%w: %s event for %s transaction", types.ErrMalformedEvent, ev.Provider, txn.Provider)
	}

	gw, err := r.gateways.ForTenant(ctx, txn.TenantID)
	if err != nil {
		return nil, err
	}
	if gw.Provider() != types.Provider(txn.Provider) {
		return nil, fmt.Errorf("%w: tenant gateway changed from %s to %s", types.ErrGatewayNotConfigured, txn.Provider, gw.Provider())
	}

	// 2. 验签；主动查询得到的事件和网关本身不签名的事件跳过，后者的状态只认网关查询结果
	if ev.Source != types.SourceStatusQuery && !ev.Unsigned && !gw.VerifySignature(ev) {
		return r.rejectSignature(ctx, txn, ev)
	}

	fields := fieldsFromEvent(ev)

	// 3. 失败是终态，之后的成功事件只记录不入账
	if txn.IsFailed() {
		if ev.RawStatus != "" && gw.MapStatus(ev.RawStatus) == payment.StatusSuccess {
			logger.Warn(moduleName, zap.Uint64("transaction_id", txn.ID), zap.String("order_id", txn.OrderID),
				zap.String("source", string(ev.Source)), zap.String("msg", "已失败的交易收到成功事件，需人工核查"))
		}
		return &Result{Outcome: OutcomeFailed, Transaction: txn}, nil
	}

	// 4. 网关声明的金额必须与交易金额一致
	if ev.Amount > 0 && ev.Amount != txn.AmountMinor() {
		return r.amountMismatch(ctx, txn, ev.Amount, fields)
	}

	// 5. 确定最终状态
	status, err := r.resolveStatus(ctx, gw, txn, ev, &fields)
	if err != nil {
		if errors.Is(err, types.ErrAmountMismatch) {
			return r.amountMismatch(ctx, txn, fields.amount, fields)
		}
		return nil, err
	}

	switch status {
	case payment.StatusSuccess:
		return r.settle(ctx, txn, fields)

	case payment.StatusPending:
		if err := r.txns.TransitionStatus(ctx, txn.ID, txn.Status, payment.StatusPending, fields.TransitionFields); err != nil {
			return nil, err
		}
		txn.Apply(payment.StatusPending, fields.TransitionFields)
		return &Result{Outcome: OutcomePending, Transaction: txn}, nil

	default:
		if fields.FailureReason == "" {
			fields.FailureReason = "payment failed at gateway"
		}
		return r.fail(ctx, txn, fields.TransitionFields)
	}
}

// eventFields 事件中提取的交易字段，外加网关返回的金额
type eventFields struct {
	payment.TransitionFields
	amount int64
}

func fieldsFromEvent(ev *types.GatewayEvent) eventFields {
	return eventFields{
		TransitionFields: payment.TransitionFields{
			GatewayPaymentID:   ev.GatewayPaymentID,
			PaymentMode:        ev.Method,
			Signature:          ev.Signature,
			RawGatewayResponse: rawJSON(ev.Raw),
			FailureReason:      ev.ErrorReason,
		},
		amount: ev.Amount,
	}
}

// resolveStatus 网关未声明状态或声明为处理中时，查询一次网关的权威状态
//
// 查询失败时：签名有效的 verify 调用视为成功；其余渠道使用声明的状态，没有声明则为 pending。
// 未签名事件声明的状态不可信，始终查询网关。
func (r *Reconciler) resolveStatus(ctx context.Context, gw types.Gateway, txn *payment.PaymentTransaction, ev *types.GatewayEvent, fields *eventFields) (payment.Status, error) {
	var declared payment.Status
	if ev.RawStatus != "" && !ev.Unsigned {
		declared = gw.MapStatus(ev.RawStatus)
	}
	if ev.Source == types.SourceStatusQuery || (declared != "" && declared != payment.StatusPending) {
		return declared, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.opts.StatusFetchTimeout)
	defer cancel()

	canonical, err := gw.FetchCanonicalStatus(fetchCtx, types.StatusQuery{
		GatewayOrderID:   txn.GatewayOrderID,
		GatewayPaymentID: ev.GatewayPaymentID,
	})
	if err != nil {
		logger.Warn(moduleName, zap.Uint64("transaction_id", txn.ID), zap.String("source", string(ev.Source)),
			zap.Error(err), zap.String("msg", "查询网关状态失败，使用事件声明的状态"))
		switch {
		case ev.Source == types.SourceVerifyCall:
			return payment.StatusSuccess, nil
		case declared != "":
			return declared, nil
		default:
			return payment.StatusPending, nil
		}
	}

	if canonical.AmountMinor > 0 && canonical.AmountMinor != txn.AmountMinor() {
		fields.amount = canonical.AmountMinor
		return "", types.ErrAmountMismatch
	}
	if canonical.GatewayPaymentID != "" {
		fields.GatewayPaymentID = canonical.GatewayPaymentID
	}
	if canonical.Method != "" {
		fields.PaymentMode = canonical.Method
	}
	switch {
	case canonical.Status == payment.StatusSuccess:
		fields.FailureReason = ""
	case canonical.ErrorReason != "":
		fields.FailureReason = canonical.ErrorReason
	}
	return canonical.Status, nil
}

func (r *Reconciler) settle(ctx context.Context, txn *payment.PaymentTransaction, fields eventFields) (*Result, error) {
	settlement, err := r.ledger.Settle(ctx, txn, fields.TransitionFields)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if fields.CompletedAt == nil {
		fields.CompletedAt = &now
	}
	txn.Apply(payment.StatusSuccess, fields.TransitionFields)

	if !settlement.Created {
		return &Result{Outcome: OutcomeAlreadyProcessed, Transaction: txn, FeePayment: settlement.FeePayment}, nil
	}

	logger.Info(moduleName, zap.Uint64("transaction_id", txn.ID), zap.String("order_id", txn.OrderID),
		zap.Uint64("invoice_id", txn.InvoiceID), zap.String("amount", txn.Amount.StringFixed(2)),
		zap.String("receipt", settlement.FeePayment.ReceiptNumber), zap.String("msg", "入账成功"))

	r.publish(ctx, txn, settlement)
	return &Result{Outcome: OutcomeCredited, Transaction: txn, FeePayment: settlement.FeePayment}, nil
}

func (r *Reconciler) fail(ctx context.Context, txn *payment.PaymentTransaction, fields payment.TransitionFields) (*Result, error) {
	now := time.Now()
	fields.CompletedAt = &now
	if err := r.txns.TransitionStatus(ctx, txn.ID, txn.Status, payment.StatusFailed, fields); err != nil {
		return nil, err
	}
	txn.Apply(payment.StatusFailed, fields)

	logger.Info(moduleName, zap.Uint64("transaction_id", txn.ID), zap.String("order_id", txn.OrderID),
		zap.String("reason", txn.FailureReason), zap.String("msg", "支付失败"))
	return &Result{Outcome: OutcomeFailed, Transaction: txn}, nil
}

func (r *Reconciler) amountMismatch(ctx context.Context, txn *payment.PaymentTransaction, got int64, fields eventFields) (*Result, error) {
	logger.Error(moduleName, zap.Uint64("transaction_id", txn.ID), zap.Int64("expected", txn.AmountMinor()),
		zap.Int64("got", got), zap.String("msg", "网关金额与交易金额不一致"))
	fields.FailureReason = fmt.Sprintf("amount mismatch: expected %d, got %d", txn.AmountMinor(), got)
	return r.fail(ctx, txn, fields.TransitionFields)
}

func (r *Reconciler) rejectSignature(ctx context.Context, txn *payment.PaymentTransaction, ev *types.GatewayEvent) (*Result, error) {
	logger.Warn(moduleName, zap.Uint64("transaction_id", txn.ID), zap.String("order_id", txn.OrderID),
		zap.String("source", string(ev.Source)), zap.String("msg", "签名校验失败"))

	if !txn.Status.IsTerminal() {
		now := time.Now()
		fields := payment.TransitionFields{
			RawGatewayResponse: rawJSON(ev.Raw),
			FailureReason:      "signature verification failed",
			CompletedAt:        &now,
		}
		err := r.txns.TransitionStatus(ctx, txn.ID, txn.Status, payment.StatusFailed, fields)
		if err == nil {
			txn.Apply(payment.StatusFailed, fields)
		} else if !errors.Is(err, types.ErrConflict) {
			return nil, err
		}
	}
	return &Result{Outcome: OutcomeFailed, Transaction: txn}, types.ErrSignatureInvalid
}

func (r *Reconciler) alreadyProcessed(ctx context.Context, txn *payment.PaymentTransaction) (*Result, error) {
	fp, err := r.ledger.FindByTransactionID(ctx, txn.ID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	return &Result{Outcome: OutcomeAlreadyProcessed, Transaction: txn, FeePayment: fp}, nil
}

func (r *Reconciler) publish(ctx context.Context, txn *payment.PaymentTransaction, s *repositories.Settlement) {
	event := events.PaymentRecorded{
		TenantID:      txn.TenantID,
		InvoiceID:     txn.InvoiceID,
		FeePaymentID:  s.FeePayment.ID,
		TransactionID: txn.ID,
		OrderID:       txn.OrderID,
		ReceiptNumber: s.FeePayment.ReceiptNumber,
		Amount:        s.FeePayment.Amount.StringFixed(2),
		Currency:      txn.Currency,
		PaymentMethod: s.FeePayment.PaymentMethod,
		PaidAt:        s.FeePayment.PaymentDate,
	}
	if s.Invoice != nil {
		event.InvoiceStatus = string(s.Invoice.Status)
		event.BalanceAmount = s.Invoice.BalanceAmount.StringFixed(2)
	}

	if err := r.publisher.PublishPaymentRecorded(ctx, event); err != nil {
		logger.Warn(moduleName, zap.Uint64("transaction_id", txn.ID), zap.Error(err), zap.String("msg", "入账事件发布失败"))
	}
}

// record 写入审计日志，失败只记录日志
func (r *Reconciler) record(ctx context.Context, txn *payment.PaymentTransaction, ev *types.GatewayEvent, res *Result, err error) {
	if r.audit == nil {
		return
	}

	entry := &gatewayevent.GatewayEventLog{
		Provider:         string(ev.Provider),
		Source:           string(ev.Source),
		EventType:        ev.EventType,
		GatewayOrderID:   ev.GatewayOrderID,
		GatewayPaymentID: ev.GatewayPaymentID,
		RawStatus:        ev.RawStatus,
		Signature:        ev.Signature,
		Payload:          rawJSON(ev.Raw),
		Outcome:          auditOutcome(res, err),
		ReceivedAt:       time.Now(),
	}
	if txn != nil {
		id := txn.ID
		entry.PaymentTransactionID = &id
		entry.TenantID = txn.TenantID
	}
	if err != nil {
		entry.Error = err.Error()
	}

	if auditErr := r.audit.Create(context.WithoutCancel(ctx), entry); auditErr != nil {
		logger.Error(moduleName, zap.String("gateway_order_id", ev.GatewayOrderID), zap.Error(auditErr),
			zap.String("msg", "写入事件审计日志失败"))
	}
}

func auditOutcome(res *Result, err error) string {
	switch {
	case errors.Is(err, types.ErrSignatureInvalid):
		return gatewayevent.OutcomeSignatureRejected
	case errors.Is(err, types.ErrNotFound):
		return gatewayevent.OutcomeNotFound
	case err != nil:
		return gatewayevent.OutcomeError
	}
	switch res.Outcome {
	case OutcomeCredited:
		return gatewayevent.OutcomeCredited
	case OutcomeAlreadyProcessed:
		return gatewayevent.OutcomeAlreadyProcessed
	case OutcomePending:
		return gatewayevent.OutcomePending
	default:
		return gatewayevent.OutcomeFailed
	}
}

// rawJSON 原始报文不是合法 JSON 时包装为字符串保存
func rawJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return raw
	}
	wrapped, _ := json.Marshal(map[string]string{"raw": string(raw)})
	return wrapped
}
