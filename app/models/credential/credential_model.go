// Package credential 租户的支付网关配置
package credential

import (
	"feepay/app/models"
)

// GatewayCredential 每个租户一条网关配置
//
// 对于 alipay：KeyID 为应用 AppID，Secret 为应用私钥，PublicKey 为支付宝公钥；
// 对于 razorpay：KeyID / Secret 为 API Key，WebhookSecret 用于 webhook 签名校验。
type GatewayCredential struct {
	models.BaseModel

	TenantID      string `gorm:"type:varchar(36);uniqueIndex;not null" json:"tenant_id"`
	Provider      string `gorm:"type:varchar(20);not null" json:"provider"`
	KeyID         string `gorm:"type:varchar(128);not null" json:"key_id"`
	Secret        string `gorm:"type:text;not null" json:"-"`
	WebhookSecret string `gorm:"type:text" json:"-"`
	PublicKey     string `gorm:"type:text" json:"-"`
	BaseURL       string `gorm:"type:varchar(255)" json:"base_url,omitempty"`
	IsEnabled     bool   `gorm:"not null;default:false" json:"is_enabled"`
	IsProduction  bool   `gorm:"not null;default:false" json:"is_production"`

	models.CommonTimestampsField
}

// TableName 指定表名
func (GatewayCredential) TableName() string {
	return "gateway_credentials"
}

// CacheKey 凭证变更后 updated_at 随之变化，旧的网关实例自然失效
func (c *GatewayCredential) CacheKey() string {
	return c.GetStringID() + ":" + c.UpdatedAt.UTC().Format("20060102150405.000000000")
}
