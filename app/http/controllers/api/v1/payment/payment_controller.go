// Package payment 在线支付接口：发起、前端确认、浏览器回调、网关异步通知
package payment

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"feepay/app/http/middlewares"
	"feepay/app/models/feepayment"
	"feepay/app/models/invoice"
	paymentmodel "feepay/app/models/payment"
	"feepay/app/requests"
	"feepay/pkg/logger"
	"feepay/pkg/payment/initiator"
	"feepay/pkg/payment/normalizer"
	"feepay/pkg/payment/reconciler"
	"feepay/pkg/payment/types"
	"feepay/pkg/response"
)

const moduleName = "PaymentController"

// maxWebhookBody 通知报文上限
const maxWebhookBody = 1 << 20

// Initiator 发起支付
type Initiator interface {
	Initiate(ctx context.Context, req initiator.Request) (*initiator.Response, error)
}

// Reconciler 对账
type Reconciler interface {
	Reconcile(ctx context.Context, ev *types.GatewayEvent) (*reconciler.Result, error)
}

// TransactionFinder 交易查询
type TransactionFinder interface {
	FindByOrderID(ctx context.Context, orderID string) (*paymentmodel.PaymentTransaction, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*paymentmodel.PaymentTransaction, error)
}

// InvoiceFinder 发票查询
type InvoiceFinder interface {
	FindForTenant(ctx context.Context, tenantID string, id uint64) (*invoice.Invoice, error)
}

// ReceiptFinder 缴费记录查询
type ReceiptFinder interface {
	FindByTransactionID(ctx context.Context, transactionID uint64) (*feepayment.FeePayment, error)
}

// RedirectURLs 支付结果落地页
type RedirectURLs struct {
	Success string
	Pending string
	Failure string
}

// Dependencies 控制器依赖
type Dependencies struct {
	Initiator    Initiator
	Reconciler   Reconciler
	Transactions TransactionFinder
	Invoices     InvoiceFinder
	Receipts     ReceiptFinder
	Redirects    RedirectURLs
}

// PaymentController 支付控制器
type PaymentController struct {
	Dependencies
}

// NewPaymentController 创建支付控制器
func NewPaymentController(deps Dependencies) *PaymentController {
	return &PaymentController{Dependencies: deps}
}

// Initiate 发起支付
// POST /v1/payments/initiate
func (pc *PaymentController) Initiate(c *gin.Context) {
	req, err := requests.ValidateInitiatePayment(c)
	if err != nil {
		validationFailed(c, err)
		return
	}
	amount, err := req.DecimalAmount()
	if err != nil {
		validationFailed(c, err)
		return
	}

	res, err := pc.Initiator.Initiate(c.Request.Context(), initiator.Request{
		TenantID:  middlewares.TenantID(c),
		InvoiceID: req.InvoiceID,
		Amount:    amount,
		Payer: types.Payer{
			Name:  req.PayerName,
			Email: req.PayerEmail,
			Phone: req.PayerPhone,
		},
	})
	if err != nil {
		// 账单不存在属于发起前置条件不满足
		if errors.Is(err, types.ErrInvoiceNotFound) {
			response.BadRequest(c, err, "账单不存在")
			return
		}
		response.PaymentError(c, err)
		return
	}

	response.Created(c, res, "支付已创建")
}

// verifyResult 前端确认结果
type verifyResult struct {
	Success      bool   `json:"success"`
	Status       string `json:"status"`
	OrderID      string `json:"order_id"`
	RedirectHint string `json:"redirect_hint"`
}

// Verify 前端支付完成后确认
// POST /v1/payments/verify
func (pc *PaymentController) Verify(c *gin.Context) {
	payload, err := requests.ValidateVerifyPayment(c)
	if err != nil {
		validationFailed(c, err)
		return
	}

	ev, err := normalizer.FromVerifyCall(*payload)
	if err != nil {
		response.PaymentError(c, err)
		return
	}

	res, err := pc.Reconciler.Reconcile(c.Request.Context(), ev)
	if err != nil {
		if errors.Is(err, types.ErrSignature) {
			orderID := pc.orderIDFor(c.Request.Context(), ev.GatewayOrderID)
			response.Data(c, verifyResult{
				Success:      false,
				Status:       string(paymentmodel.StatusFailed),
				OrderID:      orderID,
				RedirectHint: pc.redirectURL(reconciler.OutcomeFailed, orderID, "signature verification failed"),
			})
			return
		}
		response.PaymentError(c, err)
		return
	}

	response.Data(c, verifyResult{
		Success:      res.Succeeded(),
		Status:       string(res.Transaction.Status),
		OrderID:      res.Transaction.OrderID,
		RedirectHint: pc.redirectURL(res.Outcome, res.Transaction.OrderID, res.Transaction.FailureReason),
	})
}

// Callback 网关浏览器跳转回调，始终重定向到落地页
// GET|POST /v1/payments/callback
func (pc *PaymentController) Callback(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.Redirect(http.StatusFound, pc.redirectURL(reconciler.OutcomeFailed, "", "invalid callback"))
		return
	}

	ev, err := normalizer.FromCallback(c.Request.Form)
	if err != nil {
		logger.Warn(moduleName, zap.String("source", "callback"), zap.Error(err))
		c.Redirect(http.StatusFound, pc.redirectURL(reconciler.OutcomeFailed, "", "invalid callback"))
		return
	}

	ctx := c.Request.Context()
	res, err := pc.Reconciler.Reconcile(ctx, ev)
	if err != nil {
		orderID := pc.orderIDFor(ctx, ev.GatewayOrderID)
		switch {
		case errors.Is(err, types.ErrNotFound):
			c.Redirect(http.StatusFound, pc.redirectURL(reconciler.OutcomeFailed, orderID, "payment not found"))
		case errors.Is(err, types.ErrSignature):
			c.Redirect(http.StatusFound, pc.redirectURL(reconciler.OutcomeFailed, orderID, "signature verification failed"))
		default:
			// 结果未知，落地页按订单号轮询
			logger.Error(moduleName, zap.String("source", "callback"), zap.String("order_id", orderID), zap.Error(err))
			c.Redirect(http.StatusFound, pc.redirectURL(reconciler.OutcomePending, orderID, ""))
		}
		return
	}

	c.Redirect(http.StatusFound, pc.redirectURL(res.Outcome, res.Transaction.OrderID, res.Transaction.FailureReason))
}

// Webhook 网关异步通知
// POST /v1/payments/webhook
func (pc *PaymentController) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, err, "读取通知失败")
		return
	}
	form := normalizer.IsFormNotification(c.Request.Header, body)

	ev, err := normalizer.FromWebhook(body, c.Request.Header)
	if errors.Is(err, types.ErrEventIgnored) {
		ackWebhook(c, form)
		return
	}
	if err != nil {
		logger.Warn(moduleName, zap.String("source", "webhook"), zap.Error(err))
		if form {
			c.String(http.StatusBadRequest, "fail")
			return
		}
		response.BadRequest(c, err, "通知格式错误")
		return
	}

	res, err := pc.Reconciler.Reconcile(c.Request.Context(), ev)
	switch {
	case err == nil:
		logger.Info(moduleName, zap.String("source", "webhook"), zap.String("gateway_order_id", ev.GatewayOrderID),
			zap.String("outcome", string(res.Outcome)))
	case errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrSignature),
		errors.Is(err, types.ErrConflict),
		errors.Is(err, types.ErrValidation),
		errors.Is(err, types.ErrConfiguration):
		// 业务上已处理或无法处理，确认收到，避免网关重复推送
		logger.Warn(moduleName, zap.String("source", "webhook"), zap.String("gateway_order_id", ev.GatewayOrderID), zap.Error(err))
	default:
		// 存储等基础设施故障，让网关稍后重试
		logger.Error(moduleName, zap.String("source", "webhook"), zap.String("gateway_order_id", ev.GatewayOrderID), zap.Error(err))
		if form {
			c.String(http.StatusInternalServerError, "fail")
			return
		}
		response.Abort500(c)
		return
	}

	ackWebhook(c, form)
}

// paymentDetail 落地页展示的数据
type paymentDetail struct {
	Transaction *paymentmodel.PaymentTransaction `json:"transaction"`
	Invoice     *invoiceSummary                  `json:"invoice,omitempty"`
	Receipt     *feepayment.FeePayment           `json:"receipt,omitempty"`
}

type invoiceSummary struct {
	ID            uint64 `json:"id"`
	InvoiceNumber string `json:"invoice_number"`
	NetAmount     string `json:"net_amount"`
	PaidAmount    string `json:"paid_amount"`
	BalanceAmount string `json:"balance_amount"`
	Status        string `json:"status"`
}

// Show 查询支付结果
// GET /v1/payments/:order_id
func (pc *PaymentController) Show(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := middlewares.TenantID(c)

	txn, err := pc.Transactions.FindByOrderID(ctx, c.Param("order_id"))
	if err != nil {
		response.PaymentError(c, err)
		return
	}
	if txn.TenantID != tenantID {
		response.PaymentError(c, types.ErrTransactionNotFound)
		return
	}

	detail := paymentDetail{Transaction: txn}

	inv, err := pc.Invoices.FindForTenant(ctx, tenantID, txn.InvoiceID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		response.ServerError(c, err)
		return
	}
	if inv != nil {
		detail.Invoice = &invoiceSummary{
			ID:            inv.ID,
			InvoiceNumber: inv.InvoiceNumber,
			NetAmount:     inv.NetAmount.StringFixed(2),
			PaidAmount:    inv.PaidAmount.StringFixed(2),
			BalanceAmount: inv.BalanceAmount.StringFixed(2),
			Status:        string(inv.Status),
		}
	}

	if txn.IsSuccess() {
		receipt, err := pc.Receipts.FindByTransactionID(ctx, txn.ID)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			response.ServerError(c, err)
			return
		}
		detail.Receipt = receipt
	}

	response.Data(c, detail)
}

func (pc *PaymentController) orderIDFor(ctx context.Context, gatewayOrderID string) string {
	txn, err := pc.Transactions.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return ""
	}
	return txn.OrderID
}

// redirectURL 根据对账结果选择落地页
func (pc *PaymentController) redirectURL(outcome reconciler.Outcome, orderID, reason string) string {
	query := url.Values{}
	if orderID != "" {
		query.Set("order_id", orderID)
	}

	var base string
	switch outcome {
	case reconciler.OutcomeCredited, reconciler.OutcomeAlreadyProcessed:
		base = pc.Redirects.Success
	case reconciler.OutcomePending:
		base = pc.Redirects.Pending
	default:
		base = pc.Redirects.Failure
		if reason != "" {
			query.Set("reason", reason)
		}
	}
	if len(query) == 0 {
		return base
	}

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + query.Encode()
}

func ackWebhook(c *gin.Context, form bool) {
	if form {
		// 支付宝要求以纯文本 success 应答
		c.String(http.StatusOK, "success")
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func validationFailed(c *gin.Context, err error) {
	var verr requests.ValidationError
	if errors.As(err, &verr) {
		response.ValidationError(c, verr.Errors)
		return
	}
	response.BadRequest(c, err)
}
