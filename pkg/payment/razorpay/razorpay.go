// Package razorpay REST + webhook 类型的新式网关适配器
package razorpay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"feepay/app/models/payment"
	"feepay/pkg/payment/types"
	"feepay/pkg/payment/utils"
)

// DefaultBaseURL 网关 API 地址
const DefaultBaseURL = "https://api.razorpay.com"

// 支付状态
const (
	StatusCreated    = "created"
	StatusAuthorized = "authorized"
	StatusCaptured   = "captured"
	StatusFailed     = "failed"
)

// Config 单个租户的网关配置
type Config struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
}

// Gateway razorpay 网关
type Gateway struct {
	client        *resty.Client
	keyID         string
	keySecret     string
	webhookSecret string
}

// PaymentEntity 支付实体，webhook 和查询接口返回的结构一致
type PaymentEntity struct {
	ID               string `json:"id"`
	Entity           string `json:"entity"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	OrderID          string `json:"order_id"`
	Method           string `json:"method"`
	Captured         bool   `json:"captured"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	ErrorReason      string `json:"error_reason"`
	CreatedAt        int64  `json:"created_at"`
}

type orderEntity struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type paymentCollection struct {
	Count int             `json:"count"`
	Items []PaymentEntity `json:"items"`
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Reason      string `json:"reason"`
	} `json:"error"`
}

// New 创建 razorpay 网关
func New(cfg Config) (*Gateway, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, types.ErrGatewayNotConfigured
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	// 下单接口不能重试，否则可能重复创建订单
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetBasicAuth(cfg.KeyID, cfg.KeySecret).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(0)

	return &Gateway{
		client:        client,
		keyID:         cfg.KeyID,
		keySecret:     cfg.KeySecret,
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

// Provider 网关类型
func (g *Gateway) Provider() types.Provider {
	return types.ProviderRazorpay
}

// CreateOrder POST /v1/orders
func (g *Gateway) CreateOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	body := map[string]interface{}{
		"amount":   req.AmountMinor,
		"currency": req.Currency,
		"receipt":  req.OrderID,
		"notes": map[string]string{
			"order_id":    req.OrderID,
			"description": req.Description,
		},
	}

	var order orderEntity
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&order).
		Post("/v1/orders")
	if err := checkResponse("create order", resp, err, false); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, fmt.Errorf("razorpay create order: %w: empty order id", types.ErrGatewayRejected)
	}

	params := map[string]interface{}{
		"method":       "checkout",
		"key":          g.keyID,
		"order_id":     order.ID,
		"amount":       order.Amount,
		"currency":     order.Currency,
		"description":  req.Description,
		"callback_url": req.CallbackURL,
		"prefill": map[string]string{
			"name":    req.Payer.Name,
			"email":   req.Payer.Email,
			"contact": req.Payer.Phone,
		},
	}
	// 收银台的支付时限（秒），超时后不再接受支付
	if req.ExpiresIn > 0 {
		params["timeout"] = int(req.ExpiresIn / time.Second)
	}

	return &types.Order{
		GatewayOrderID: order.ID,
		CheckoutParams: params,
		Raw:            resp.Body(),
	}, nil
}

// VerifySignature 校验签名
//
// webhook：HMAC-SHA256(原始报文, webhook secret)；
// verify 调用和跳转回调：HMAC-SHA256("order_id|payment_id", key secret)。
func (g *Gateway) VerifySignature(event *types.GatewayEvent) bool {
	if event == nil || event.Signature == "" {
		return false
	}

	if event.Source == types.SourceWebhook {
		if g.webhookSecret == "" || len(event.SignatureMaterial.Payload) == 0 {
			return false
		}
		expected := utils.HmacSHA256Hex(event.SignatureMaterial.Payload, g.webhookSecret)
		return utils.HmacEqual(expected, event.Signature)
	}

	orderID, paymentID := event.GatewayOrderID, event.GatewayPaymentID
	if v := event.SignatureMaterial.Values; v != nil {
		if s := v.Get("razorpay_order_id"); s != "" {
			orderID = s
		}
		if s := v.Get("razorpay_payment_id"); s != "" {
			paymentID = s
		}
	}
	if orderID == "" || paymentID == "" {
		return false
	}

	expected := utils.HmacSHA256Hex([]byte(orderID+"|"+paymentID), g.keySecret)
	return utils.HmacEqual(expected, event.Signature)
}

// FetchCanonicalStatus 有支付 ID 时查询支付，否则查询订单下的所有支付
func (g *Gateway) FetchCanonicalStatus(ctx context.Context, query types.StatusQuery) (*types.GatewayStatus, error) {
	if query.GatewayPaymentID != "" {
		var p PaymentEntity
		resp, err := g.client.R().
			SetContext(ctx).
			SetResult(&p).
			Get("/v1/payments/" + query.GatewayPaymentID)
		if err := checkResponse("fetch payment", resp, err, true); err != nil {
			return nil, err
		}
		// 支付必须属于这个订单
		if query.GatewayOrderID != "" && p.OrderID != query.GatewayOrderID {
			return nil, types.ErrGatewayPaymentNotFound
		}
		return g.toStatus(p, resp.Body()), nil
	}

	var collection paymentCollection
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&collection).
		Get("/v1/orders/" + query.GatewayOrderID + "/payments")
	if err := checkResponse("fetch order payments", resp, err, true); err != nil {
		return nil, err
	}

	p, ok := pickPayment(collection.Items)
	if !ok {
		return nil, types.ErrGatewayPaymentNotFound
	}
	raw, _ := json.Marshal(p)
	return g.toStatus(p, raw), nil
}

// MapStatus 支付状态映射
func (g *Gateway) MapStatus(raw string) payment.Status {
	switch raw {
	case StatusCaptured:
		return payment.StatusSuccess
	case StatusAuthorized, StatusCreated:
		return payment.StatusPending
	case StatusFailed:
		return payment.StatusFailed
	default:
		return payment.StatusFailed
	}
}

func (g *Gateway) toStatus(p PaymentEntity, raw []byte) *types.GatewayStatus {
	reason := p.ErrorDescription
	if reason == "" {
		reason = p.ErrorReason
	}
	return &types.GatewayStatus{
		RawStatus:        p.Status,
		Status:           g.MapStatus(p.Status),
		GatewayPaymentID: p.ID,
		Method:           p.Method,
		AmountMinor:      p.Amount,
		ErrorReason:      reason,
		Raw:              raw,
	}
}

// pickPayment 一个订单可能有多次支付尝试，优先取已扣款的，其次已授权的，否则取最新一次
func pickPayment(items []PaymentEntity) (PaymentEntity, bool) {
	if len(items) == 0 {
		return PaymentEntity{}, false
	}
	for _, status := range []string{StatusCaptured, StatusAuthorized} {
		for _, p := range items {
			if p.Status == status {
				return p, true
			}
		}
	}
	latest := items[0]
	for _, p := range items[1:] {
		if p.CreatedAt > latest.CreatedAt {
			latest = p
		}
	}
	return latest, true
}

// checkResponse 网络错误和 5xx 视为网关不可用，4xx 视为请求被拒绝
func checkResponse(op string, resp *resty.Response, err error, lookup bool) error {
	if err != nil {
		return fmt.Errorf("razorpay %s: %w: %v", op, types.ErrGatewayUnavailable, err)
	}

	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case lookup && code == http.StatusNotFound:
		return types.ErrGatewayPaymentNotFound
	case code >= 500:
		return fmt.Errorf("razorpay %s: %w: status %d", op, types.ErrGatewayUnavailable, code)
	default:
		var e apiError
		_ = json.Unmarshal(resp.Body(), &e)
		return fmt.Errorf("razorpay %s: %w: status %d %s %s",
			op, types.ErrGatewayRejected, code, e.Error.Code, e.Error.Description)
	}
}
