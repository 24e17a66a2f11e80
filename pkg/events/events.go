// Package events 账本事件发布
package events

import (
	"context"
	"time"
)

// TopicPaymentRecorded 缴费入账事件
const TopicPaymentRecorded = "fee.payment.recorded"

// PaymentRecorded 一笔缴费入账后发布，供通知、报表等下游系统消费
type PaymentRecorded struct {
	TenantID      string    `json:"tenant_id"`
	InvoiceID     uint64    `json:"invoice_id"`
	FeePaymentID  uint64    `json:"fee_payment_id"`
	TransactionID uint64    `json:"transaction_id,omitempty"`
	OrderID       string    `json:"order_id,omitempty"`
	ReceiptNumber string    `json:"receipt_number"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	PaymentMethod string    `json:"payment_method"`
	InvoiceStatus string    `json:"invoice_status"`
	BalanceAmount string    `json:"balance_amount"`
	PaidAt        time.Time `json:"paid_at"`
}

// Publisher 事件发布者，发布失败不影响入账结果
type Publisher interface {
	PublishPaymentRecorded(ctx context.Context, event PaymentRecorded) error
	Close() error
}

// NoopPublisher 未配置消息队列时使用
type NoopPublisher struct{}

// PublishPaymentRecorded 丢弃事件
func (NoopPublisher) PublishPaymentRecorded(context.Context, PaymentRecorded) error {
	return nil
}

// Close 无需释放资源
func (NoopPublisher) Close() error {
	return nil
}
