// Package payment 支付交易模型，一次网关支付尝试对应一条记录
package payment

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"feepay/app/models"
)

// PaymentTransaction 支付交易记录，创建后只会被对账流程修改，永不删除
type PaymentTransaction struct {
	models.BaseModel

	OrderID        string `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_id"`
	GatewayOrderID string `gorm:"type:varchar(64);uniqueIndex;not null" json:"gateway_order_id"`

	InvoiceID uint64          `gorm:"index;not null" json:"invoice_id"`
	TenantID  string          `gorm:"type:varchar(36);index;not null" json:"tenant_id"`
	Provider  string          `gorm:"type:varchar(20);not null" json:"provider"`
	Amount    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency  string          `gorm:"type:varchar(8);not null" json:"currency"`
	Status    Status          `gorm:"type:varchar(20);index;not null" json:"status"`

	GatewayPaymentID   string         `gorm:"type:varchar(64);index" json:"gateway_payment_id,omitempty"`
	PaymentMode        string         `gorm:"type:varchar(32)" json:"payment_mode,omitempty"`
	Signature          string         `gorm:"type:text" json:"-"`
	RawGatewayResponse datatypes.JSON `gorm:"type:json" json:"-"`
	FailureReason      string         `gorm:"type:text" json:"failure_reason,omitempty"`

	PayerName  string `gorm:"type:varchar(100)" json:"payer_name,omitempty"`
	PayerEmail string `gorm:"type:varchar(255)" json:"payer_email,omitempty"`
	PayerPhone string `gorm:"type:varchar(32)" json:"payer_phone,omitempty"`

	InitiatedAt time.Time  `gorm:"not null" json:"initiated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	models.CommonTimestampsField
}

// TableName 指定表名
func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}
