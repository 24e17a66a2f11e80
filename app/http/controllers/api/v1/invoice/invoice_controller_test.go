package invoice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"feepay/app/http/middlewares"
	invoicemodel "feepay/app/models/invoice"
	"feepay/app/repositories"
	"feepay/pkg/database/testdb"
	"feepay/pkg/events"
)

type recordingPublisher struct {
	events []events.PaymentRecorded
}

func (p *recordingPublisher) PublishPaymentRecorded(_ context.Context, e events.PaymentRecorded) error {
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func setup(t *testing.T) (*gin.Engine, *gorm.DB, *recordingPublisher, *invoicemodel.Invoice) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testdb.New(t)

	inv := &invoicemodel.Invoice{
		TenantID:      "tenant-a",
		InvoiceNumber: "INV-100",
		TotalAmount:   decimal.NewFromInt(1000),
		Currency:      "INR",
	}
	require.NoError(t, repositories.NewInvoiceRepository(db).Create(context.Background(), inv))

	publisher := &recordingPublisher{}
	ic := NewInvoiceController(repositories.NewLedgerRepository(db), publisher)

	r := gin.New()
	r.POST("/invoices/:id/payments", middlewares.Tenant(), ic.StoreManualPayment)
	return r, db, publisher, inv
}

func post(r *gin.Engine, path, tenant, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middlewares.HeaderTenantID, tenant)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStoreManualPayment(t *testing.T) {
	r, db, publisher, inv := setup(t)

	w := post(r, "/invoices/"+inv.GetStringID()+"/payments", "tenant-a",
		`{"amount": "250.50", "payment_method": "cash", "remarks": "front desk"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var body struct {
		Data struct {
			Invoice struct {
				BalanceAmount string `json:"balance_amount"`
				Status        string `json:"status"`
			} `json:"invoice"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "749.5", body.Data.Invoice.BalanceAmount)
	assert.Equal(t, string(invoicemodel.StatusPartial), body.Data.Invoice.Status)

	got, err := repositories.NewInvoiceRepository(db).FindForTenant(context.Background(), "tenant-a", inv.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("250.50").Equal(got.PaidAmount))

	require.Len(t, publisher.events, 1)
	assert.Equal(t, "250.50", publisher.events[0].Amount)
	assert.Equal(t, "cash", publisher.events[0].PaymentMethod)
	assert.Zero(t, publisher.events[0].TransactionID)
}

func TestStoreManualPaymentRejectsOverpayment(t *testing.T) {
	r, _, publisher, inv := setup(t)

	w := post(r, "/invoices/"+inv.GetStringID()+"/payments", "tenant-a", `{"amount": 1000.01, "payment_method": "upi"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, publisher.events)
}

func TestStoreManualPaymentValidation(t *testing.T) {
	r, _, _, inv := setup(t)
	path := "/invoices/" + inv.GetStringID() + "/payments"

	w := post(r, path, "tenant-a", `{"amount": 100, "payment_method": "bitcoin"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = post(r, path, "tenant-a", `{"amount": 0, "payment_method": "cash"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = post(r, path, "tenant-a", `{"amount": 10, "payment_method": "cash", "paid_at": "yesterday"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStoreManualPaymentOtherTenant(t *testing.T) {
	r, _, _, inv := setup(t)

	w := post(r, "/invoices/"+inv.GetStringID()+"/payments", "tenant-b", `{"amount": 10, "payment_method": "cash"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = post(r, "/invoices/abc/payments", "tenant-a", `{"amount": 10, "payment_method": "cash"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
