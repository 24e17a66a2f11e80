// Package gatewayevent 网关回调事件审计日志
package gatewayevent

import (
	"time"

	"gorm.io/datatypes"

	"feepay/app/models"
)

// 审计结果
const (
	OutcomeCredited          = "credited"
	OutcomeAlreadyProcessed  = "already_processed"
	OutcomePending           = "pending"
	OutcomeFailed            = "failed"
	OutcomeSignatureRejected = "signature_rejected"
	OutcomeNotFound          = "not_found"
	OutcomeIgnored           = "ignored"
	OutcomeError             = "error"
)

// GatewayEventLog 每个入站事件（任意渠道）一条，签名校验失败的原始报文也保存在这里
type GatewayEventLog struct {
	models.BaseModel

	TenantID             string         `gorm:"type:varchar(36);index" json:"tenant_id,omitempty"`
	PaymentTransactionID *uint64        `gorm:"index" json:"payment_transaction_id,omitempty"`
	Provider             string         `gorm:"type:varchar(20)" json:"provider"`
	Source               string         `gorm:"type:varchar(20);index" json:"source"`
	EventType            string         `gorm:"type:varchar(64)" json:"event_type,omitempty"`
	GatewayOrderID       string         `gorm:"type:varchar(64);index" json:"gateway_order_id,omitempty"`
	GatewayPaymentID     string         `gorm:"type:varchar(64)" json:"gateway_payment_id,omitempty"`
	RawStatus            string         `gorm:"type:varchar(32)" json:"raw_status,omitempty"`
	Signature            string         `gorm:"type:text" json:"signature,omitempty"`
	Payload              datatypes.JSON `gorm:"type:json" json:"payload,omitempty"`
	Outcome              string         `gorm:"type:varchar(32);index" json:"outcome"`
	Error                string         `gorm:"type:text" json:"error,omitempty"`
	ReceivedAt           time.Time      `gorm:"index;not null" json:"received_at"`

	models.CommonTimestampsField
}

// TableName 指定表名
func (GatewayEventLog) TableName() string {
	return "gateway_event_logs"
}
