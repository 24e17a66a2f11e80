// Package feepayment 缴费记录（账本条目）
package feepayment

import (
	"time"

	"github.com/shopspring/decimal"

	"feepay/app/models"
)

// FeePayment 缴费记录
//
// 网关支付产生的记录通过 payment_transaction_id 唯一索引保证每笔交易最多入账一次，
// 线下手工缴费该字段为 NULL。
type FeePayment struct {
	models.BaseModel

	TenantID             string          `gorm:"type:varchar(36);index;not null" json:"tenant_id"`
	InvoiceID            uint64          `gorm:"index;not null" json:"invoice_id"`
	Amount               decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	PaymentTransactionID *uint64         `gorm:"uniqueIndex" json:"payment_transaction_id,omitempty"`
	ReceiptNumber        string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"receipt_number"`
	PaymentMethod        string          `gorm:"type:varchar(32);not null" json:"payment_method"`
	PaymentDate          time.Time       `gorm:"not null" json:"payment_date"`
	Remarks              string          `gorm:"type:text" json:"remarks,omitempty"`

	models.CommonTimestampsField
}

// TableName 指定表名
func (FeePayment) TableName() string {
	return "fee_payments"
}
