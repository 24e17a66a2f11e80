// Package invoice 发票相关接口
package invoice

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"feepay/app/http/middlewares"
	"feepay/app/repositories"
	"feepay/app/requests"
	"feepay/pkg/events"
	"feepay/pkg/logger"
	"feepay/pkg/response"
)

// Ledger 线下缴费入账
type Ledger interface {
	RecordManual(ctx context.Context, m repositories.ManualPayment) (*repositories.Settlement, error)
}

// InvoiceController 发票控制器
type InvoiceController struct {
	ledger    Ledger
	publisher events.Publisher
}

// NewInvoiceController 创建发票控制器
func NewInvoiceController(ledger Ledger, publisher events.Publisher) *InvoiceController {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &InvoiceController{ledger: ledger, publisher: publisher}
}

// StoreManualPayment 登记线下缴费
// POST /v1/invoices/:id/payments
func (ic *InvoiceController) StoreManualPayment(c *gin.Context) {
	invoiceID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || invoiceID == 0 {
		response.Abort404(c, "发票不存在")
		return
	}

	req, err := requests.ValidateManualPayment(c)
	if err != nil {
		validationFailed(c, err)
		return
	}
	amount, err := req.DecimalAmount()
	if err != nil {
		validationFailed(c, err)
		return
	}
	paidAt, err := req.PaidTime()
	if err != nil {
		response.BadRequest(c, err)
		return
	}

	settlement, err := ic.ledger.RecordManual(c.Request.Context(), repositories.ManualPayment{
		TenantID:  middlewares.TenantID(c),
		InvoiceID: invoiceID,
		Amount:    amount,
		Method:    req.PaymentMethod,
		Remarks:   req.Remarks,
		PaidAt:    paidAt,
	})
	if err != nil {
		response.PaymentError(c, err)
		return
	}

	fp, inv := settlement.FeePayment, settlement.Invoice
	if err := ic.publisher.PublishPaymentRecorded(c.Request.Context(), events.PaymentRecorded{
		TenantID:      fp.TenantID,
		InvoiceID:     fp.InvoiceID,
		FeePaymentID:  fp.ID,
		ReceiptNumber: fp.ReceiptNumber,
		Amount:        fp.Amount.StringFixed(2),
		Currency:      inv.Currency,
		PaymentMethod: fp.PaymentMethod,
		InvoiceStatus: string(inv.Status),
		BalanceAmount: inv.BalanceAmount.StringFixed(2),
		PaidAt:        fp.PaymentDate,
	}); err != nil {
		logger.Warn("InvoiceController", zap.Uint64("fee_payment_id", fp.ID), zap.Error(err))
	}

	response.Created(c, gin.H{
		"fee_payment": fp,
		"invoice":     inv,
	}, "缴费已登记")
}

func validationFailed(c *gin.Context, err error) {
	var verr requests.ValidationError
	if errors.As(err, &verr) {
		response.ValidationError(c, verr.Errors)
		return
	}
	response.BadRequest(c, err)
}
