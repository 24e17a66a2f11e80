// Package normalizer 将三个回调渠道的原始输入转换为统一的 GatewayEvent
//
// 这里只做结构解析，不判断金额和状态是否可信。
package normalizer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"feepay/pkg/payment/alipay"
	"feepay/pkg/payment/types"
)

// 网关签名请求头
const (
	HeaderRazorpaySignature = "X-Razorpay-Signature"
	HeaderSignature         = "X-Signature"
)

// VerifyPayload 前端支付完成后调用 verify 接口的参数
type VerifyPayload struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

// FromVerifyCall verify 调用只有 razorpay 形式：order_id | payment_id + 签名
func FromVerifyCall(p VerifyPayload) (*types.GatewayEvent, error) {
	if p.GatewayOrderID == "" || p.GatewayPaymentID == "" || p.Signature == "" {
		return nil, fmt.Errorf("%w: gateway_order_id, gateway_payment_id and signature are required", types.ErrMalformedEvent)
	}

	values := url.Values{}
	values.Set("razorpay_order_id", p.GatewayOrderID)
	values.Set("razorpay_payment_id", p.GatewayPaymentID)
	values.Set("razorpay_signature", p.Signature)
	raw, _ := json.Marshal(p)

	return &types.GatewayEvent{
		Source:            types.SourceVerifyCall,
		Provider:          types.ProviderRazorpay,
		GatewayOrderID:    p.GatewayOrderID,
		GatewayPaymentID:  p.GatewayPaymentID,
		Signature:         p.Signature,
		SignatureMaterial: types.SignatureMaterial{Values: values},
		Raw:               raw,
	}, nil
}

// FromCallback 浏览器跳转回调，GET 查询参数和 POST 表单处理方式相同
func FromCallback(values url.Values) (*types.GatewayEvent, error) {
	switch {
	case values.Get("out_trade_no") != "":
		return fromAlipayValues(types.SourceCallback, values)
	case values.Get("razorpay_order_id") != "":
		return fromRazorpayCallback(values)
	case values.Get("error[metadata]") != "":
		return fromRazorpayFailure(values)
	default:
		return nil, fmt.Errorf("%w: unrecognised callback parameters", types.ErrMalformedEvent)
	}
}

// FromWebhook 服务端异步通知
//
// JSON 报文为 razorpay webhook；表单报文为支付宝异步通知。
func FromWebhook(body []byte, header http.Header) (*types.GatewayEvent, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", types.ErrMalformedEvent)
	}

	if isForm(header, body) {
		values, err := url.ParseQuery(string(body))
		if err != nil || values.Get("out_trade_no") == "" {
			return nil, fmt.Errorf("%w: invalid form notification", types.ErrMalformedEvent)
		}
		return fromAlipayValues(types.SourceWebhook, values)
	}

	return fromRazorpayWebhook(body, header)
}

// IsFormNotification 是否为表单形式的通知（需要以纯文本 success 应答）
func IsFormNotification(header http.Header, body []byte) bool {
	return isForm(header, body)
}

func isForm(header http.Header, body []byte) bool {
	if strings.HasPrefix(header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		return true
	}
	trimmed := strings.TrimSpace(string(body))
	return trimmed != "" && !strings.HasPrefix(trimmed, "{")
}

func fromAlipayValues(source types.Source, values url.Values) (*types.GatewayEvent, error) {
	return &types.GatewayEvent{
		Source:            source,
		Provider:          types.ProviderAlipay,
		EventType:         values.Get("notify_type"),
		GatewayOrderID:    values.Get("out_trade_no"),
		GatewayPaymentID:  values.Get("trade_no"),
		RawStatus:         values.Get("trade_status"),
		Amount:            alipay.ParseAmount(values.Get("total_amount")),
		Method:            string(types.ProviderAlipay),
		Signature:         values.Get("sign"),
		SignatureMaterial: types.SignatureMaterial{Values: values},
		Raw:               valuesJSON(values),
	}, nil
}

func fromRazorpayCallback(values url.Values) (*types.GatewayEvent, error) {
	return &types.GatewayEvent{
		Source:            types.SourceCallback,
		Provider:          types.ProviderRazorpay,
		GatewayOrderID:    values.Get("razorpay_order_id"),
		GatewayPaymentID:  values.Get("razorpay_payment_id"),
		Signature:         values.Get("razorpay_signature"),
		SignatureMaterial: types.SignatureMaterial{Values: values},
		Raw:               valuesJSON(values),
	}, nil
}

// fromRazorpayFailure 支付失败时网关回传 error[...] 字段，订单号在 error[metadata] 里
//
// 这些字段没有签名，状态需要通过查询网关确认。
func fromRazorpayFailure(values url.Values) (*types.GatewayEvent, error) {
	var meta struct {
		OrderID   string `json:"order_id"`
		PaymentID string `json:"payment_id"`
	}
	if err := json.Unmarshal([]byte(values.Get("error[metadata]")), &meta); err != nil || meta.OrderID == "" {
		return nil, fmt.Errorf("%w: invalid error metadata", types.ErrMalformedEvent)
	}

	reason := values.Get("error[description]")
	if reason == "" {
		reason = values.Get("error[reason]")
	}

	return &types.GatewayEvent{
		Source:            types.SourceCallback,
		Provider:          types.ProviderRazorpay,
		GatewayOrderID:    meta.OrderID,
		GatewayPaymentID:  meta.PaymentID,
		RawStatus:         "failed",
		ErrorReason:       reason,
		SignatureMaterial: types.SignatureMaterial{Values: values},
		Unsigned:          true,
		Raw:               valuesJSON(values),
	}, nil
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity *paymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID               string `json:"id"`
	Amount           int64  `json:"amount"`
	Status           string `json:"status"`
	OrderID          string `json:"order_id"`
	Method           string `json:"method"`
	ErrorDescription string `json:"error_description"`
	ErrorReason      string `json:"error_reason"`
}

func fromRazorpayWebhook(body []byte, header http.Header) (*types.GatewayEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedEvent, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event", types.ErrMalformedEvent)
	}
	if !strings.HasPrefix(env.Event, "payment.") {
		return nil, types.ErrEventIgnored
	}
	if env.Payload.Payment == nil || env.Payload.Payment.Entity == nil {
		return nil, fmt.Errorf("%w: missing payload.payment.entity", types.ErrMalformedEvent)
	}

	entity := env.Payload.Payment.Entity
	if entity.OrderID == "" {
		return nil, fmt.Errorf("%w: missing order_id", types.ErrMalformedEvent)
	}

	signature := header.Get(HeaderRazorpaySignature)
	if signature == "" {
		signature = header.Get(HeaderSignature)
	}

	reason := entity.ErrorDescription
	if reason == "" {
		reason = entity.ErrorReason
	}

	return &types.GatewayEvent{
		Source:            types.SourceWebhook,
		Provider:          types.ProviderRazorpay,
		EventType:         env.Event,
		GatewayOrderID:    entity.OrderID,
		GatewayPaymentID:  entity.ID,
		RawStatus:         entity.Status,
		Amount:            entity.Amount,
		Method:            entity.Method,
		ErrorReason:       reason,
		Signature:         signature,
		SignatureMaterial: types.SignatureMaterial{Payload: body},
		Raw:               body,
	}, nil
}

// valuesJSON 表单字段转为 JSON 保存，单值字段展开为字符串
func valuesJSON(values url.Values) []byte {
	m := make(map[string]interface{}, len(values))
	for k, v := range values {
		if len(v) == 1 {
			m[k] = v[0]
		} else {
			m[k] = v
		}
	}
	raw, _ := json.Marshal(m)
	return raw
}
