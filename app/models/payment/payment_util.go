package payment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Status 交易状态
type Status string

const (
	StatusInitiated Status = "initiated" // 已下单，等待网关结果
	StatusPending   Status = "pending"   // 网关返回中间状态，如已授权未扣款
	StatusSuccess   Status = "success"   // 支付成功（终态）
	StatusFailed    Status = "failed"    // 支付失败（终态）
)

// IsTerminal 是否终态
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// CanTransitionTo 状态机：initiated -> {pending, success, failed}，pending -> {success, failed}
func (s Status) CanTransitionTo(to Status) bool {
	switch s {
	case StatusInitiated:
		return to == StatusPending || to == StatusSuccess || to == StatusFailed
	case StatusPending:
		return to == StatusPending || to == StatusSuccess || to == StatusFailed
	default:
		return false
	}
}

// TransitionFields 状态迁移时一并写入的网关字段，空值不覆盖
type TransitionFields struct {
	GatewayPaymentID   string
	PaymentMode        string
	Signature          string
	RawGatewayResponse datatypes.JSON
	FailureReason      string
	CompletedAt        *time.Time
}

// Columns 转换为 gorm Updates 使用的列
func (f TransitionFields) Columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if f.GatewayPaymentID != "" {
		cols["gateway_payment_id"] = f.GatewayPaymentID
	}
	if f.PaymentMode != "" {
		cols["payment_mode"] = f.PaymentMode
	}
	if f.Signature != "" {
		cols["signature"] = f.Signature
	}
	if len(f.RawGatewayResponse) > 0 {
		cols["raw_gateway_response"] = f.RawGatewayResponse
	}
	if f.FailureReason != "" {
		cols["failure_reason"] = f.FailureReason
	}
	if f.CompletedAt != nil {
		cols["completed_at"] = *f.CompletedAt
	}
	return cols
}

// Apply 将字段同步到内存中的对象
func (t *PaymentTransaction) Apply(to Status, f TransitionFields) {
	t.Status = to
	if f.GatewayPaymentID != "" {
		t.GatewayPaymentID = f.GatewayPaymentID
	}
	if f.PaymentMode != "" {
		t.PaymentMode = f.PaymentMode
	}
	if f.Signature != "" {
		t.Signature = f.Signature
	}
	if len(f.RawGatewayResponse) > 0 {
		t.RawGatewayResponse = f.RawGatewayResponse
	}
	if f.FailureReason != "" {
		t.FailureReason = f.FailureReason
	}
	if f.CompletedAt != nil {
		t.CompletedAt = f.CompletedAt
	}
}

// AmountMinor 金额转换为最小货币单位（分 / paise）
func (t *PaymentTransaction) AmountMinor() int64 {
	return ToMinor(t.Amount)
}

// ToMinor 两位小数货币转换为最小单位
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinor 最小单位转换为两位小数金额
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// Validate 验证交易记录
func (t *PaymentTransaction) Validate() error {
	if t.TenantID == "" {
		return errors.New("tenant_id is required")
	}
	if t.InvoiceID == 0 {
		return errors.New("invoice_id is required")
	}
	if !t.Amount.IsPositive() {
		return errors.New("amount must be greater than 0")
	}
	if t.OrderID == "" || t.GatewayOrderID == "" {
		return errors.New("order_id and gateway_order_id are required")
	}
	return nil
}

// IsSuccess 检查支付是否成功
func (t *PaymentTransaction) IsSuccess() bool {
	return t.Status == StatusSuccess
}

// IsFailed 检查支付是否失败
func (t *PaymentTransaction) IsFailed() bool {
	return t.Status == StatusFailed
}

// IsInProgress 检查是否仍在进行中
func (t *PaymentTransaction) IsInProgress() bool {
	return !t.Status.IsTerminal()
}
