// Package types 支付网关的统一抽象：网关接口、标准化事件、错误分类
package types

import (
	"context"
	"net/url"
	"time"

	"feepay/app/models/payment"
)

// Provider 支付提供商类型
type Provider string

const (
	ProviderAlipay   Provider = "alipay"   // 表单跳转 + 异步通知的传统网关
	ProviderRazorpay Provider = "razorpay" // REST + webhook 的新式网关
)

// Valid 是否为已支持的网关
func (p Provider) Valid() bool {
	return p == ProviderAlipay || p == ProviderRazorpay
}

// Source 事件来源渠道
type Source string

const (
	SourceVerifyCall  Source = "verify_call"  // 前端支付完成后主动调用 verify 接口
	SourceCallback    Source = "callback"     // 浏览器跳转回调
	SourceWebhook     Source = "webhook"      // 服务端异步通知
	SourceStatusQuery Source = "status_query" // 由我们自己主动查询网关得到
)

// SignatureMaterial 签名原文
//
// Payload 是 webhook 原始报文；Values 是表单或查询参数形式的字段。
type SignatureMaterial struct {
	Payload []byte
	Values  url.Values
}

// GatewayEvent 三个渠道标准化后的统一事件
//
// 金额和状态只是网关声明的值，对账时不可直接信任。
type GatewayEvent struct {
	Source    Source
	Provider  Provider
	EventType string

	GatewayOrderID   string
	GatewayPaymentID string
	RawStatus        string
	Amount           int64 // 最小货币单位，0 表示未声明
	Method           string
	ErrorReason      string

	Signature         string
	SignatureMaterial SignatureMaterial
	// Unsigned 网关本身不对该事件签名（如 razorpay 的失败跳转），只能以网关查询结果为准
	Unsigned bool

	// Raw 原始报文（JSON），原样保存到交易记录和审计日志
	Raw []byte
}

// Payer 付款人联系方式
type Payer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// OrderRequest 网关下单参数
type OrderRequest struct {
	OrderID     string
	AmountMinor int64
	Currency    string
	Description string
	Payer       Payer
	CallbackURL string
	NotifyURL   string
	// ExpiresIn 网关侧订单的支付时限，0 表示使用网关默认值
	ExpiresIn time.Duration
}

// Order 网关下单结果
type Order struct {
	GatewayOrderID string
	// CheckoutParams 前端拉起收银台所需的参数
	CheckoutParams map[string]interface{}
	Raw            []byte
}

// StatusQuery 查询网关侧支付状态
type StatusQuery struct {
	GatewayOrderID   string
	GatewayPaymentID string
}

// GatewayStatus 网关返回的权威状态
type GatewayStatus struct {
	RawStatus        string
	Status           payment.Status
	GatewayPaymentID string
	Method           string
	AmountMinor      int64
	ErrorReason      string
	Raw              []byte
}

// Gateway 支付网关适配器
type Gateway interface {
	Provider() Provider

	// CreateOrder 在网关侧创建订单
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)

	// VerifySignature 只使用租户密钥做本地校验，不发起网络请求
	VerifySignature(event *GatewayEvent) bool

	// FetchCanonicalStatus 查询网关的权威状态，仅作参考，调用方需设置较短的超时
	FetchCanonicalStatus(ctx context.Context, query StatusQuery) (*GatewayStatus, error)

	// MapStatus 网关原始状态映射为 success / pending / failed，未知状态视为 failed
	MapStatus(raw string) payment.Status
}
