package requests

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/thedevsaddam/govalidator"

	"feepay/pkg/payment/normalizer"
)

const amountMessage = "金额必须为正数且最多两位小数"

// parseAmount 金额必须为正数且最多两位小数
func parseAmount(n json.Number) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(n.String())
	if err != nil || !d.IsPositive() || !d.Equal(d.Round(2)) {
		return decimal.Zero, ValidationError{Errors: url.Values{"amount": []string{amountMessage}}}
	}
	return d, nil
}

// InitiatePaymentRequest 发起支付
type InitiatePaymentRequest struct {
	InvoiceID  uint64      `json:"invoice_id"`
	Amount     json.Number `json:"amount"`
	PayerName  string      `json:"payer_name"`
	PayerEmail string      `json:"payer_email"`
	PayerPhone string      `json:"payer_phone"`
}

// DecimalAmount 解析后的金额
func (r *InitiatePaymentRequest) DecimalAmount() (decimal.Decimal, error) {
	return parseAmount(r.Amount)
}

// ValidateInitiatePayment 验证发起支付请求
func ValidateInitiatePayment(c *gin.Context) (*InitiatePaymentRequest, error) {
	rules := govalidator.MapData{
		"invoice_id":  []string{"required"},
		"amount":      []string{"required"},
		"payer_name":  []string{"max:100"},
		"payer_email": []string{"email"},
		"payer_phone": []string{"max:32"},
	}
	messages := govalidator.MapData{
		"invoice_id": []string{
			"required:发票 ID 不能为空",
		},
		"amount": []string{
			"required:金额不能为空",
		},
		"payer_email": []string{
			"email:邮箱格式不正确",
		},
	}
	return ValidateRequest[InitiatePaymentRequest](c, rules, messages)
}

// ValidateVerifyPayment 验证前端 verify 请求
func ValidateVerifyPayment(c *gin.Context) (*normalizer.VerifyPayload, error) {
	rules := govalidator.MapData{
		"gateway_order_id":   []string{"required", "max:64"},
		"gateway_payment_id": []string{"required", "max:64"},
		"signature":          []string{"required"},
	}
	messages := govalidator.MapData{
		"gateway_order_id":   []string{"required:网关订单号不能为空"},
		"gateway_payment_id": []string{"required:网关支付号不能为空"},
		"signature":          []string{"required:签名不能为空"},
	}
	return ValidateRequest[normalizer.VerifyPayload](c, rules, messages)
}

// ManualPaymentRequest 线下缴费
type ManualPaymentRequest struct {
	Amount        json.Number `json:"amount"`
	PaymentMethod string      `json:"payment_method"`
	Remarks       string      `json:"remarks"`
	PaidAt        string      `json:"paid_at"`
}

// DecimalAmount 解析后的金额
func (r *ManualPaymentRequest) DecimalAmount() (decimal.Decimal, error) {
	return parseAmount(r.Amount)
}

// PaidTime 缴费时间，未提供时为零值
func (r *ManualPaymentRequest) PaidTime() (time.Time, error) {
	if r.PaidAt == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, r.PaidAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: paid_at must be RFC3339", ErrBadPayload)
	}
	return t, nil
}

// ValidateManualPayment 验证线下缴费请求
func ValidateManualPayment(c *gin.Context) (*ManualPaymentRequest, error) {
	rules := govalidator.MapData{
		"amount":         []string{"required"},
		"payment_method": []string{"required", "in:cash,cheque,bank_transfer,upi,card,other"},
		"remarks":        []string{"max:255"},
	}
	messages := govalidator.MapData{
		"amount": []string{
			"required:金额不能为空",
		},
		"payment_method": []string{
			"required:缴费方式不能为空",
			"in:缴费方式必须是 cash, cheque, bank_transfer, upi, card 或 other",
		},
	}
	return ValidateRequest[ManualPaymentRequest](c, rules, messages)
}
