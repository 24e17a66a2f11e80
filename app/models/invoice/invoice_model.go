// Package invoice 学费账单模型，账单的增删改由外部教务系统负责，这里只读取和回写缴费结果
package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	"feepay/app/models"
)

// Invoice 学费账单
type Invoice struct {
	models.BaseModel

	TenantID      string `gorm:"type:varchar(36);index;not null" json:"tenant_id"`
	InvoiceNumber string `gorm:"type:varchar(64);index;not null" json:"invoice_number"`
	StudentID     uint64 `gorm:"index" json:"student_id"`

	TotalAmount    decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"total_amount"`
	DiscountAmount decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"discount_amount"`
	NetAmount      decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"net_amount"`
	PaidAmount     decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"paid_amount"`
	BalanceAmount  decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"balance_amount"`

	Currency string     `gorm:"type:varchar(8);not null" json:"currency"`
	Status   Status     `gorm:"type:varchar(20);index;not null" json:"status"`
	DueDate  *time.Time `json:"due_date,omitempty"`

	models.CommonTimestampsField
}

// TableName 指定表名
func (Invoice) TableName() string {
	return "invoices"
}
