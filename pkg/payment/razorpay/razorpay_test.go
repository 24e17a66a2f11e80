package razorpay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feepay/app/models/payment"
	"feepay/pkg/payment/types"
	"feepay/pkg/payment/utils"
)

const (
	testKeyID         = "rzp_test_key"
	testKeySecret     = "key_secret"
	testWebhookSecret = "webhook_secret"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	baseURL := "http://127.0.0.1:1"
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		baseURL = srv.URL
	}
	g, err := New(Config{
		KeyID:         testKeyID,
		KeySecret:     testKeySecret,
		WebhookSecret: testWebhookSecret,
		BaseURL:       baseURL,
	})
	require.NoError(t, err)
	return g
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{KeyID: testKeyID})
	assert.ErrorIs(t, err, types.ErrGatewayNotConfigured)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestVerifySignature_VerifyCall(t *testing.T) {
	g := newTestGateway(t, nil)
	sig := utils.HmacSHA256Hex([]byte("order_1|pay_1"), testKeySecret)

	event := &types.GatewayEvent{
		Source:           types.SourceVerifyCall,
		GatewayOrderID:   "order_1",
		GatewayPaymentID: "pay_1",
		Signature:        sig,
	}
	assert.True(t, g.VerifySignature(event))

	event.GatewayPaymentID = "pay_2"
	assert.False(t, g.VerifySignature(event))

	// 回调渠道从表单字段取值
	values := url.Values{}
	values.Set("razorpay_order_id", "order_1")
	values.Set("razorpay_payment_id", "pay_1")
	event = &types.GatewayEvent{
		Source:            types.SourceCallback,
		Signature:         sig,
		SignatureMaterial: types.SignatureMaterial{Values: values},
	}
	assert.True(t, g.VerifySignature(event))

	event.Signature = ""
	assert.False(t, g.VerifySignature(event))
}

func TestVerifySignature_Webhook(t *testing.T) {
	g := newTestGateway(t, nil)
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1"}}}}`)

	event := &types.GatewayEvent{
		Source:            types.SourceWebhook,
		Signature:         utils.HmacSHA256Hex(body, testWebhookSecret),
		SignatureMaterial: types.SignatureMaterial{Payload: body},
	}
	assert.True(t, g.VerifySignature(event))

	// key secret 不能用于 webhook
	event.Signature = utils.HmacSHA256Hex(body, testKeySecret)
	assert.False(t, g.VerifySignature(event))

	event.Signature = utils.HmacSHA256Hex(body, testWebhookSecret)
	event.SignatureMaterial.Payload = append([]byte(nil), body[:len(body)-1]...)
	assert.False(t, g.VerifySignature(event))
}

func TestMapStatus(t *testing.T) {
	g := newTestGateway(t, nil)
	assert.Equal(t, payment.StatusSuccess, g.MapStatus("captured"))
	assert.Equal(t, payment.StatusPending, g.MapStatus("authorized"))
	assert.Equal(t, payment.StatusPending, g.MapStatus("created"))
	assert.Equal(t, payment.StatusFailed, g.MapStatus("failed"))
	assert.Equal(t, payment.StatusFailed, g.MapStatus("refunded"))
	assert.Equal(t, payment.StatusFailed, g.MapStatus(""))
}

func TestCreateOrder(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, testKeyID, user)
		assert.Equal(t, testKeySecret, pass)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 60000, body["amount"])
		assert.Equal(t, "ORD1", body["receipt"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_abc","amount":60000,"currency":"INR","receipt":"ORD1","status":"created"}`))
	})

	order, err := g.CreateOrder(context.Background(), types.OrderRequest{
		OrderID:     "ORD1",
		AmountMinor: 60000,
		Currency:    "INR",
		Payer:       types.Payer{Name: "Asha", Phone: "9999999999"},
		ExpiresIn:   90 * time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, "order_abc", order.GatewayOrderID)
	assert.Equal(t, testKeyID, order.CheckoutParams["key"])
	assert.Equal(t, "order_abc", order.CheckoutParams["order_id"])
	assert.Equal(t, 5400, order.CheckoutParams["timeout"])
}

func TestCreateOrder_Errors(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount too small"}}`))
	})
	_, err := g.CreateOrder(context.Background(), types.OrderRequest{OrderID: "ORD1", AmountMinor: 1, Currency: "INR"})
	assert.ErrorIs(t, err, types.ErrGatewayRejected)

	g = newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err = g.CreateOrder(context.Background(), types.OrderRequest{OrderID: "ORD1", AmountMinor: 100, Currency: "INR"})
	assert.ErrorIs(t, err, types.ErrGatewayUnavailable)

	// 连接失败
	g = newTestGateway(t, nil)
	_, err = g.CreateOrder(context.Background(), types.OrderRequest{OrderID: "ORD1", AmountMinor: 100, Currency: "INR"})
	assert.ErrorIs(t, err, types.ErrGatewayUnavailable)
}

func TestFetchCanonicalStatus_ByPayment(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/pay_1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pay_1","amount":60000,"status":"captured","order_id":"order_abc","method":"upi"}`))
	})

	status, err := g.FetchCanonicalStatus(context.Background(), types.StatusQuery{
		GatewayOrderID:   "order_abc",
		GatewayPaymentID: "pay_1",
	})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccess, status.Status)
	assert.Equal(t, "upi", status.Method)
	assert.Equal(t, int64(60000), status.AmountMinor)

	// 支付不属于该订单
	_, err = g.FetchCanonicalStatus(context.Background(), types.StatusQuery{
		GatewayOrderID:   "order_other",
		GatewayPaymentID: "pay_1",
	})
	assert.ErrorIs(t, err, types.ErrGatewayPaymentNotFound)
}

func TestFetchCanonicalStatus_ByOrder(t *testing.T) {
	items := `[]`
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orders/order_abc/payments", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entity":"collection","count":1,"items":` + items + `}`))
	})

	_, err := g.FetchCanonicalStatus(context.Background(), types.StatusQuery{GatewayOrderID: "order_abc"})
	assert.ErrorIs(t, err, types.ErrGatewayPaymentNotFound)

	items = `[{"id":"pay_1","status":"failed","order_id":"order_abc","created_at":1},` +
		`{"id":"pay_2","status":"captured","order_id":"order_abc","amount":60000,"created_at":2}]`
	status, err := g.FetchCanonicalStatus(context.Background(), types.StatusQuery{GatewayOrderID: "order_abc"})
	require.NoError(t, err)
	assert.Equal(t, "pay_2", status.GatewayPaymentID)
	assert.Equal(t, payment.StatusSuccess, status.Status)
}

func TestPickPayment(t *testing.T) {
	p, ok := pickPayment([]PaymentEntity{
		{ID: "a", Status: StatusFailed, CreatedAt: 1},
		{ID: "b", Status: StatusFailed, CreatedAt: 3},
		{ID: "c", Status: StatusCreated, CreatedAt: 2},
	})
	assert.True(t, ok)
	assert.Equal(t, "b", p.ID)

	p, _ = pickPayment([]PaymentEntity{
		{ID: "a", Status: StatusFailed, CreatedAt: 5},
		{ID: "b", Status: StatusAuthorized, CreatedAt: 1},
	})
	assert.Equal(t, "b", p.ID)
}
