package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"feepay/app/models/feepayment"
	"feepay/app/models/gatewayevent"
	"feepay/app/models/invoice"
	"feepay/app/models/payment"
	"feepay/app/repositories"
	"feepay/pkg/database/testdb"
	"feepay/pkg/events"
	"feepay/pkg/payment/types"
	"feepay/pkg/payment/utils"
)

const tenantID = "tenant-a"

type fakeGateway struct {
	mu         sync.Mutex
	provider   types.Provider
	badSig     bool
	status     *types.GatewayStatus
	fetchErr   error
	fetchCalls int
}

func (g *fakeGateway) Provider() types.Provider {
	if g.provider != "" {
		return g.provider
	}
	return types.ProviderRazorpay
}

func (g *fakeGateway) CreateOrder(context.Context, types.OrderRequest) (*types.Order, error) {
	return nil, errors.New("not used")
}

func (g *fakeGateway) VerifySignature(ev *types.GatewayEvent) bool {
	return !g.badSig && ev.Signature == "good"
}

func (g *fakeGateway) FetchCanonicalStatus(context.Context, types.StatusQuery) (*types.GatewayStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	if g.status == nil {
		return nil, types.ErrGatewayUnavailable
	}
	return g.status, nil
}

func (g *fakeGateway) MapStatus(raw string) payment.Status {
	switch raw {
	case "captured":
		return payment.StatusSuccess
	case "authorized", "created":
		return payment.StatusPending
	default:
		return payment.StatusFailed
	}
}

type staticResolver struct{ gw types.Gateway }

func (s staticResolver) ForTenant(context.Context, string) (types.Gateway, error) { return s.gw, nil }

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PaymentRecorded
}

func (p *recordingPublisher) PublishPaymentRecorded(_ context.Context, e events.PaymentRecorded) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type fixture struct {
	db        *gorm.DB
	gw        *fakeGateway
	ledger    *repositories.LedgerRepository
	txns      *repositories.TransactionRepository
	publisher *recordingPublisher
	rec       *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testdb.New(t)
	f := &fixture{
		db:        db,
		gw:        &fakeGateway{},
		ledger:    repositories.NewLedgerRepository(db),
		txns:      repositories.NewTransactionRepository(db),
		publisher: &recordingPublisher{},
	}
	f.rec = New(f.txns, f.ledger, staticResolver{gw: f.gw}, repositories.NewGatewayEventRepository(db),
		f.publisher, Options{StatusFetchTimeout: time.Second})
	return f
}

func (f *fixture) invoice(t *testing.T, net int64) *invoice.Invoice {
	t.Helper()
	inv := &invoice.Invoice{
		TenantID:      tenantID,
		InvoiceNumber: "INV-" + utils.GenerateOrderNo(),
		TotalAmount:   decimal.NewFromInt(net),
		Currency:      "INR",
	}
	require.NoError(t, repositories.NewInvoiceRepository(f.db).Create(context.Background(), inv))
	return inv
}

func (f *fixture) transaction(t *testing.T, inv *invoice.Invoice, amount int64) *payment.PaymentTransaction {
	t.Helper()
	orderID := utils.GenerateOrderNo()
	txn := &payment.PaymentTransaction{
		OrderID:        orderID,
		GatewayOrderID: "order_" + orderID,
		InvoiceID:      inv.ID,
		TenantID:       tenantID,
		Provider:       string(types.ProviderRazorpay),
		Amount:         decimal.NewFromInt(amount),
		Currency:       "INR",
	}
	require.NoError(t, f.txns.Create(context.Background(), txn))
	return txn
}

func (f *fixture) reloadInvoice(t *testing.T, id uint64) *invoice.Invoice {
	t.Helper()
	inv, err := repositories.NewInvoiceRepository(f.db).FindForTenant(context.Background(), tenantID, id)
	require.NoError(t, err)
	return inv
}

func (f *fixture) reloadTxn(t *testing.T, id uint64) *payment.PaymentTransaction {
	t.Helper()
	txn, err := f.txns.FindByID(context.Background(), id)
	require.NoError(t, err)
	return txn
}

func (f *fixture) feePayments(t *testing.T, invoiceID uint64) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&feepayment.FeePayment{}).Where("invoice_id = ?", invoiceID).Count(&n).Error)
	return n
}

func webhook(txn *payment.PaymentTransaction, status string) *types.GatewayEvent {
	return &types.GatewayEvent{
		Source:           types.SourceWebhook,
		Provider:         types.ProviderRazorpay,
		EventType:        "payment." + status,
		GatewayOrderID:   txn.GatewayOrderID,
		GatewayPaymentID: "pay_" + txn.OrderID,
		RawStatus:        status,
		Amount:           txn.AmountMinor(),
		Method:           "upi",
		Signature:        "good",
		Raw:              []byte(`{"event":"payment.` + status + `"}`),
	}
}

func verifyCall(txn *payment.PaymentTransaction) *types.GatewayEvent {
	return &types.GatewayEvent{
		Source:           types.SourceVerifyCall,
		Provider:         types.ProviderRazorpay,
		GatewayOrderID:   txn.GatewayOrderID,
		GatewayPaymentID: "pay_" + txn.OrderID,
		Signature:        "good",
	}
}

func TestReconcile_WebhookReplaysCreditOnce(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 1000)
	txn := f.transaction(t, inv, 600)
	ctx := context.Background()

	res, err := f.rec.Reconcile(ctx, webhook(txn, "captured"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, res.Outcome)
	require.NotNil(t, res.FeePayment)

	for i := 0; i < 5; i++ {
		again, err := f.rec.Reconcile(ctx, webhook(txn, "captured"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyProcessed, again.Outcome)
		assert.Equal(t, res.FeePayment.ID, again.FeePayment.ID)
	}

	assert.Equal(t, int64(1), f.feePayments(t, inv.ID))
	got := f.reloadInvoice(t, inv.ID)
	assert.Equal(t, "600.00", got.PaidAmount.StringFixed(2))
	assert.Equal(t, "400.00", got.BalanceAmount.StringFixed(2))
	assert.Equal(t, invoice.StatusPartial, got.Status)
	assert.Len(t, f.publisher.events, 1)
	assert.Equal(t, 0, f.gw.fetchCalls)

	stored := f.reloadTxn(t, txn.ID)
	assert.Equal(t, payment.StatusSuccess, stored.Status)
	assert.Equal(t, "upi", stored.PaymentMode)
	assert.NotNil(t, stored.CompletedAt)

	logs, err := repositories.NewGatewayEventRepository(f.db).ListByGatewayOrderID(ctx, txn.GatewayOrderID)
	require.NoError(t, err)
	require.Len(t, logs, 6)
	assert.Equal(t, gatewayevent.OutcomeCredited, logs[0].Outcome)
	assert.Equal(t, gatewayevent.OutcomeAlreadyProcessed, logs[5].Outcome)
}

func TestReconcile_CrossChannel(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 1000)
	txn := f.transaction(t, inv, 600)
	ctx := context.Background()

	f.gw.status = &types.GatewayStatus{RawStatus: "captured", Status: payment.StatusSuccess, AmountMinor: 60000, Method: "card"}

	res, err := f.rec.Reconcile(ctx, verifyCall(txn))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, res.Outcome)
	assert.Equal(t, 1, f.gw.fetchCalls)

	res, err = f.rec.Reconcile(ctx, webhook(txn, "captured"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, res.Outcome)

	// 成功后不再访问网关
	assert.Equal(t, 1, f.gw.fetchCalls)
	assert.Equal(t, int64(1), f.feePayments(t, inv.ID))
	assert.Equal(t, "card", f.reloadTxn(t, txn.ID).PaymentMode)
}

func TestReconcile_SignatureRejected(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 1000)
	txn := f.transaction(t, inv, 600)
	ctx := context.Background()

	ev := webhook(txn, "captured")
	ev.Signature = "forged"

	_, err := f.rec.Reconcile(ctx, ev)
	assert.ErrorIs(t, err, types.ErrSignatureInvalid)
	assert.ErrorIs(t, err, types.ErrSignature)

	stored := f.reloadTxn(t, txn.ID)
	assert.Equal(t, payment.StatusFailed, stored.Status)
	assert.Equal(t, "signature verification failed", stored.FailureReason)
	assert.Equal(t, int64(0), f.feePayments(t, inv.ID))
	assert.True(t, f.reloadInvoice(t, inv.ID).PaidAmount.IsZero())
	assert.Equal(t, 0, f.gw.fetchCalls)

	logs, err := repositories.NewGatewayEventRepository(f.db).ListByGatewayOrderID(ctx, txn.GatewayOrderID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, gatewayevent.OutcomeSignatureRejected, logs[0].Outcome)
	assert.JSONEq(t, `{"event":"payment.captured"}`, string(logs[0].Payload))

	// 失败是终态，之后签名正确的成功事件也不入账
	res, err := f.rec.Reconcile(ctx, webhook(txn, "captured"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, int64(0), f.feePayments(t, inv.ID))
}

func TestReconcile_WorkedExample(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 1000)
	ctx := context.Background()

	first := f.transaction(t, inv, 600)
	_, err := f.rec.Reconcile(ctx, webhook(first, "captured"))
	require.NoError(t, err)

	got := f.reloadInvoice(t, inv.ID)
	assert.Equal(t, "400.00", got.BalanceAmount.StringFixed(2))
	assert.Equal(t, invoice.StatusPartial, got.Status)

	second := f.transaction(t, inv, 400)
	_, err = f.rec.Reconcile(ctx, webhook(second, "captured"))
	require.NoError(t, err)

	got = f.reloadInvoice(t, inv.ID)
	assert.Equal(t, "1000.00", got.PaidAmount.StringFixed(2))
	assert.Equal(t, "0.00", got.BalanceAmount.StringFixed(2))
	assert.Equal(t, invoice.StatusPaid, got.Status)
	assert.Equal(t, int64(2), f.feePayments(t, inv.ID))
}

func TestReconcile_PendingThenSuccess(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 1000)
	txn := f.transaction(t, inv, 600)
	ctx := context.Background()

	// 网关查询也返回已授权
	f.gw.status = &types.GatewayStatus{RawStatus: "authorized", Status: payment.StatusPending}

	res, err := f.rec.Reconcile(ctx, webhook(txn, "authorized"))
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, res.Outcome)
	assert.Equal(t, payment.StatusPending, f.reloadTxn(t, txn.ID).Status)
	assert.Equal(t, int64(0), f.feePayments(t, inv.ID))

	res, err = f.rec.Reconcile(ctx, webhook(txn, "authorized"))
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, res.Outcome)

	res, err = f.rec.Reconcile(ctx, webhook(txn, "captured"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, res.Outcome)
}

func TestReconcile_PendingResolvedByStatusFetch(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 1000)
	txn := f.transaction(t, inv, 600)

	f.gw.status = &types.GatewayStatus{RawStatus: "captured", Status: payment.StatusSuccess, AmountMinor: 60000}

	res, err := f.rec.Reconcile(context.Background(), webhook(txn, "authorized"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, res.Outcome)
	assert.Equal(t, 1, f.gw.fetchCalls)
}

func TestReconcile_StatusFetchFails(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 1000)
	ctx := context.Background()
	f.gw.fetchErr = types.ErrGatewayUnavailable

	// 跳转回调没有声明状态，查询失败则为 pending
	cb := f.transaction(t, inv, 100)
	ev := verifyCall(cb)
	ev.Source = types.SourceCallback
	res, err := f.rec.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, res.Outcome)

	// 签名有效的 verify 调用视为成功
	vc := f.transaction(t, inv, 100)
	res, err = f.rec.Reconcile(ctx, verifyCall(vc))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, res.Outcome)
}

func TestReconcile_UnknownStatusFails(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 1000)
	txn := f.transaction(t, inv, 600)

	res, err := f.rec.Reconcile(context.Background(), webhook(txn, "something_new"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, payment.StatusFailed, f.reloadTxn(t, txn.ID).Status)
	assert.Equal(t, 0, f.gw.fetchCalls)
}

func TestReconcile_FailedWebhook(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 1000)
	txn := f.transaction(t, inv, 600)

	ev := webhook(txn, "failed")
	ev.ErrorReason = "card declined"
	res, err := f.rec.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "card declined", f.reloadTxn(t, txn.ID).FailureReason)
}

func TestReconcile_AmountMismatch(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 1000)
	txn := f.transaction(t, inv, 600)

	ev := webhook(txn, "captured")
	ev.Amount = 100
	res, err := f.rec.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, f.reloadTxn(t, txn.ID).FailureReason, "amount mismatch")
	assert.Equal(t, int64(0), f.feePayments(t, inv.ID))

	// 网关查询返回的金额不一致
	other := f.transaction(t, inv, 200)
	f.gw.status = &types.GatewayStatus{RawStatus: "captured", Status: payment.StatusSuccess, AmountMinor: 100}
	res, err = f.rec.Reconcile(context.Background(), verifyCall(other))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
}

func TestReconcile_TransactionNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.rec.Reconcile(ctx, &types.GatewayEvent{Source: types.SourceWebhook, GatewayOrderID: "order_missing", Signature: "good"})
	assert.ErrorIs(t, err, types.ErrTransactionNotFound)

	logs, err := repositories.NewGatewayEventRepository(f.db).ListByGatewayOrderID(ctx, "order_missing")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, gatewayevent.OutcomeNotFound, logs[0].Outcome)
	assert.Nil(t, logs[0].PaymentTransactionID)

	_, err = f.rec.Reconcile(ctx, &types.GatewayEvent{Source: types.SourceWebhook})
	assert.ErrorIs(t, err, types.ErrMalformedEvent)
}

func TestReconcile_StatusQuerySkipsSignature(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 1000)
	txn := f.transaction(t, inv, 600)

	res, err := f.rec.Reconcile(context.Background(), &types.GatewayEvent{
		Source:         types.SourceStatusQuery,
		Provider:       types.ProviderRazorpay,
		GatewayOrderID: txn.GatewayOrderID,
		RawStatus:      "captured",
		Amount:         60000,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, res.Outcome)
	assert.Equal(t, 0, f.gw.fetchCalls)
}

// racingLedger 模拟另一个请求在本次入账之前抢先完成入账
type racingLedger struct {
	*repositories.LedgerRepository
	once sync.Once
	txns *repositories.TransactionRepository
}

func (l *racingLedger) Settle(ctx context.Context, txn *payment.PaymentTransaction, fields payment.TransitionFields) (*repositories.Settlement, error) {
	l.once.Do(func() {
		fresh, err := l.txns.FindByID(ctx, txn.ID)
		if err == nil {
			_, _ = l.LedgerRepository.Settle(ctx, fresh, fields)
		}
	})
	return l.LedgerRepository.Settle(ctx, txn, fields)
}

func TestReconcile_ConcurrentWinnerIsDetected(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 1000)
	txn := f.transaction(t, inv, 600)

	ledger := &racingLedger{LedgerRepository: f.ledger, txns: f.txns}
	rec := New(f.txns, ledger, staticResolver{gw: f.gw}, nil, f.publisher, Options{})

	res, err := rec.Reconcile(context.Background(), webhook(txn, "captured"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, res.Outcome)
	assert.Equal(t, int64(1), f.feePayments(t, inv.ID))
	assert.Equal(t, "600.00", f.reloadInvoice(t, inv.ID).PaidAmount.StringFixed(2))
	assert.Empty(t, f.publisher.events)
}

// pendingRaceLedger 第一次入账前另一个请求把交易改为 pending，本次 CAS 失败后应重新读取再入账
type pendingRaceLedger struct {
	*repositories.LedgerRepository
	once  sync.Once
	txns  *repositories.TransactionRepository
	calls int
}

func (l *pendingRaceLedger) Settle(ctx context.Context, txn *payment.PaymentTransaction, fields payment.TransitionFields) (*repositories.Settlement, error) {
	l.calls++
	l.once.Do(func() {
		_ = l.txns.TransitionStatus(ctx, txn.ID, payment.StatusInitiated, payment.StatusPending, payment.TransitionFields{})
	})
	return l.LedgerRepository.Settle(ctx, txn, fields)
}

func TestReconcile_RetriesAfterConflict(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 1000)
	txn := f.transaction(t, inv, 600)

	ledger := &pendingRaceLedger{LedgerRepository: f.ledger, txns: f.txns}
	rec := New(f.txns, ledger, staticResolver{gw: f.gw}, nil, f.publisher, Options{})

	res, err := rec.Reconcile(context.Background(), webhook(txn, "captured"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, res.Outcome)
	assert.Equal(t, 2, ledger.calls)
	assert.Equal(t, int64(1), f.feePayments(t, inv.ID))
	assert.Len(t, f.publisher.events, 1)
}

func failureCallback(txn *payment.PaymentTransaction) *types.GatewayEvent {
	return &types.GatewayEvent{
		Source:           types.SourceCallback,
		Provider:         types.ProviderRazorpay,
		GatewayOrderID:   txn.GatewayOrderID,
		GatewayPaymentID: "pay_" + txn.OrderID,
		RawStatus:        "failed",
		ErrorReason:      "Payment declined by bank",
		Unsigned:         true,
	}
}

func TestReconcile_UnsignedFailureConfirmedByGateway(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 1000)
	txn := f.transaction(t, inv, 600)
	ctx := context.Background()

	f.gw.status = &types.GatewayStatus{RawStatus: "failed", Status: payment.StatusFailed}

	res, err := f.rec.Reconcile(ctx, failureCallback(txn))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 1, f.gw.fetchCalls)

	stored := f.reloadTxn(t, txn.ID)
	assert.Equal(t, payment.StatusFailed, stored.Status)
	assert.Equal(t, "Payment declined by bank", stored.FailureReason)

	logs, err := repositories.NewGatewayEventRepository(f.db).ListByGatewayOrderID(ctx, txn.GatewayOrderID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, gatewayevent.OutcomeFailed, logs[0].Outcome)
}

func TestReconcile_UnsignedFailureDoesNotOverrideGateway(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 1000)
	txn := f.transaction(t, inv, 600)

	// 网关显示已扣款，未签名的失败跳转不能让交易失败
	f.gw.status = &types.GatewayStatus{RawStatus: "captured", Status: payment.StatusSuccess, AmountMinor: 60000}

	res, err := f.rec.Reconcile(context.Background(), failureCallback(txn))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, res.Outcome)
	assert.Equal(t, "600.00", f.reloadInvoice(t, inv.ID).PaidAmount.StringFixed(2))
}

func TestReconcile_UnsignedFailureStatusFetchFails(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 1000)
	txn := f.transaction(t, inv, 600)

	f.gw.fetchErr = types.ErrGatewayUnavailable

	res, err := f.rec.Reconcile(context.Background(), failureCallback(txn))
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, res.Outcome)
	assert.Equal(t, payment.StatusPending, f.reloadTxn(t, txn.ID).Status)
}

func TestReconcile_EventFromOtherProviderIsMalformed(t *testing.T) {
	f := newFixture(t)
	f.gw.provider = types.ProviderAlipay
	inv := f.invoice(t, 1000)
	txn := f.transaction(t, inv, 600)
	require.NoError(t, f.db.Model(txn).Update("provider", string(types.ProviderAlipay)).Error)

	// verify 接口只产生 razorpay 格式的事件
	_, err := f.rec.Reconcile(context.Background(), verifyCall(txn))
	assert.ErrorIs(t, err, types.ErrMalformedEvent)

	stored := f.reloadTxn(t, txn.ID)
	assert.Equal(t, payment.StatusInitiated, stored.Status)
	assert.Equal(t, 0, f.gw.fetchCalls)
	assert.Equal(t, int64(0), f.feePayments(t, inv.ID))
}
