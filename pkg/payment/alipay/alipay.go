// Package alipay 表单跳转 + 异步通知类型的传统网关适配器
package alipay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smartwalle/alipay/v3"

	"feepay/app/models/payment"
	"feepay/pkg/payment/types"
)

// 交易状态
const (
	TradeStatusWaitBuyerPay = "WAIT_BUYER_PAY"
	TradeStatusClosed       = "TRADE_CLOSED"
	TradeStatusSuccess      = "TRADE_SUCCESS"
	TradeStatusFinished     = "TRADE_FINISHED"
)

const (
	subCodeTradeNotExist = "ACQ.TRADE_NOT_EXIST"

	fieldSign   = "sign"
	fieldCertSN = "alipay_cert_sn"
)

// Config 单个租户的支付宝配置
type Config struct {
	AppID        string
	PrivateKey   string // 应用私钥
	PublicKey    string // 支付宝公钥
	IsProduction bool
}

// tradeClient 网关 SDK 中用到的方法
type tradeClient interface {
	TradePagePay(param alipay.TradePagePay) (*url.URL, error)
	TradeQuery(ctx context.Context, param alipay.TradeQuery) (*alipay.TradeQueryRsp, error)
	VerifySign(values url.Values) error
}

// Gateway 支付宝网关
type Gateway struct {
	client tradeClient
	appID  string
}

// New 创建支付宝网关
func New(cfg Config) (*Gateway, error) {
	if cfg.AppID == "" || cfg.PrivateKey == "" || cfg.PublicKey == "" {
		return nil, types.ErrGatewayNotConfigured
	}

	client, err := alipay.New(cfg.AppID, cfg.PrivateKey, cfg.IsProduction)
	if err != nil {
		return nil, fmt.Errorf("create alipay client error: %w: %v", types.ErrConfiguration, err)
	}

	if err := client.LoadAliPayPublicKey(cfg.PublicKey); err != nil {
		return nil, fmt.Errorf("load alipay public key error: %w: %v", types.ErrConfiguration, err)
	}

	return &Gateway{
		client: client,
		appID:  cfg.AppID,
	}, nil
}

// Provider 网关类型
func (g *Gateway) Provider() types.Provider {
	return types.ProviderAlipay
}

// CreateOrder 生成电脑网站支付的跳转链接，本地签名，不发起网络请求
//
// 支付宝原样回传商户订单号，所以网关订单号就是我们的订单号。
func (g *Gateway) CreateOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	trade := alipay.TradePagePay{}
	trade.NotifyURL = req.NotifyURL
	trade.ReturnURL = req.CallbackURL
	trade.Subject = req.Description
	trade.OutTradeNo = req.OrderID
	trade.TotalAmount = payment.FromMinor(req.AmountMinor).StringFixed(2)
	trade.ProductCode = "FAST_INSTANT_TRADE_PAY"
	trade.TimeoutExpress = TimeoutExpress(req.ExpiresIn)

	u, err := g.client.TradePagePay(trade)
	if err != nil {
		return nil, fmt.Errorf("create alipay payment error: %w: %v", types.ErrGatewayRejected, err)
	}

	params := map[string]interface{}{
		"method":      "redirect",
		"payment_url": u.String(),
		"app_id":      g.appID,
	}
	raw, _ := json.Marshal(params)

	return &types.Order{
		GatewayOrderID: req.OrderID,
		CheckoutParams: params,
		Raw:            raw,
	}, nil
}

// VerifySignature 使用已加载的支付宝公钥验签，空值字段同样参与签名
//
// 去掉 alipay_cert_sn 后 SDK 只会使用本地公钥，不会下载支付宝证书。
func (g *Gateway) VerifySignature(event *types.GatewayEvent) bool {
	if g.client == nil || event == nil || event.Signature == "" {
		return false
	}
	if len(event.SignatureMaterial.Values) == 0 {
		return false
	}

	values := make(url.Values, len(event.SignatureMaterial.Values))
	for k, vs := range event.SignatureMaterial.Values {
		values[k] = append([]string(nil), vs...)
	}
	values.Del(fieldCertSN)
	values.Set(fieldSign, event.Signature)

	return g.client.VerifySign(values) == nil
}

// FetchCanonicalStatus 调用 alipay.trade.query 查询交易
func (g *Gateway) FetchCanonicalStatus(ctx context.Context, query types.StatusQuery) (*types.GatewayStatus, error) {
	rsp, err := g.client.TradeQuery(ctx, alipay.TradeQuery{OutTradeNo: query.GatewayOrderID})
	if err != nil {
		return nil, fmt.Errorf("alipay trade query error: %w: %v", types.ErrGatewayUnavailable, err)
	}

	if rsp.Code != alipay.CodeSuccess {
		if rsp.SubCode == subCodeTradeNotExist {
			return nil, types.ErrGatewayPaymentNotFound
		}
		if strings.HasPrefix(string(rsp.Code), "2") {
			return nil, fmt.Errorf("alipay trade query: %w: %s %s", types.ErrGatewayUnavailable, rsp.Code, rsp.Msg)
		}
		return nil, fmt.Errorf("alipay trade query: %w: %s %s", types.ErrGatewayRejected, rsp.SubCode, rsp.SubMsg)
	}

	raw, _ := json.Marshal(rsp)
	rawStatus := string(rsp.TradeStatus)

	return &types.GatewayStatus{
		RawStatus:        rawStatus,
		Status:           g.MapStatus(rawStatus),
		GatewayPaymentID: rsp.TradeNo,
		AmountMinor:      ParseAmount(rsp.TotalAmount),
		Raw:              raw,
	}, nil
}

// MapStatus 交易状态映射
func (g *Gateway) MapStatus(raw string) payment.Status {
	switch raw {
	case TradeStatusSuccess, TradeStatusFinished:
		return payment.StatusSuccess
	case TradeStatusWaitBuyerPay:
		return payment.StatusPending
	case TradeStatusClosed:
		return payment.StatusFailed
	default:
		return payment.StatusFailed
	}
}

// TimeoutExpress 订单在支付宝侧的相对超时，按分钟取整，最少 1m；0 表示使用网关默认值
func TimeoutExpress(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	minutes := int(d / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("%dm", minutes)
}

// ParseAmount 元转换为分，无法解析时返回 0（视为未声明）
func ParseAmount(amount string) int64 {
	if amount == "" {
		return 0
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0
	}
	return payment.ToMinor(d)
}
