// Package routes 注册路由
package routes

import (
	"github.com/gin-gonic/gin"

	"feepay/app/http/controllers/api/v1/invoice"
	"feepay/app/http/controllers/api/v1/payment"
	"feepay/app/http/middlewares"
)

// 路由限流配置
const (
	// 全局限流：每小时每IP 30000 请求
	GlobalRateLimit = "30000-H"
	// 发起支付限流：每小时每IP 100 请求
	InitiatePaymentLimit = "100-H"
	// 查询结果限流：每分钟每IP 300 请求
	QueryResultLimit = "300-M"
)

// Controllers 路由使用的控制器
type Controllers struct {
	Payment *payment.PaymentController
	Invoice *invoice.InvoiceController
}

// RegisterAPIRoutes 注册所有 API 路由
func RegisterAPIRoutes(r *gin.Engine, ctrl Controllers) {
	v1 := r.Group("/v1")

	v1.Use(
		middlewares.SecurityHeaders(),
		middlewares.LimitIP(GlobalRateLimit),
		middlewares.Cors(),
	)

	payments := v1.Group("/payments")
	{
		pc := ctrl.Payment

		// 网关回调，不带租户头，按网关订单号定位交易
		payments.POST("/verify", middlewares.LimitPerRoute(QueryResultLimit), pc.Verify)
		payments.GET("/callback", pc.Callback)
		payments.POST("/callback", pc.Callback)
		payments.POST("/webhook", pc.Webhook)

		tenant := payments.Group("", middlewares.Tenant())
		tenant.POST("/initiate", middlewares.LimitPerRoute(InitiatePaymentLimit), pc.Initiate)
		tenant.GET("/:order_id", middlewares.LimitPerRoute(QueryResultLimit), pc.Show)
	}

	invoices := v1.Group("/invoices", middlewares.Tenant())
	{
		invoices.POST("/:id/payments", ctrl.Invoice.StoreManualPayment)
	}
}
