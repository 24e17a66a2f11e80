package bootstrap

import (
	"gorm.io/gorm"

	"feepay/app/http/controllers/api/v1/invoice"
	paymentctrl "feepay/app/http/controllers/api/v1/payment"
	"feepay/app/repositories"
	"feepay/pkg/config"
	"feepay/pkg/events"
	"feepay/pkg/logger"
	"feepay/pkg/payment"
	"feepay/pkg/payment/initiator"
	"feepay/pkg/payment/reconciler"
	"feepay/pkg/payment/sweeper"
	"feepay/pkg/queue"
	"feepay/pkg/redis"
	"feepay/routes"
)

// PaymentServices 支付相关服务
type PaymentServices struct {
	Controllers routes.Controllers
	Sweeper     *sweeper.Sweeper
}

// SetupPayment 组装仓储、网关、发起器和对账器
func SetupPayment(db *gorm.DB, publisher events.Publisher, recheckQueue *queue.QueueService) *PaymentServices {
	txns := repositories.NewTransactionRepository(db)
	invoices := repositories.NewInvoiceRepository(db)
	ledger := repositories.NewLedgerRepository(db)

	gateways := payment.NewGateways(
		repositories.NewCredentialRepository(db),
		payment.PlainSecrets{},
		config.GetDuration("payment.gateway_timeout", "10s"),
	)

	rec := reconciler.New(txns, ledger, gateways, repositories.NewGatewayEventRepository(db), publisher,
		reconciler.Options{
			StatusFetchTimeout: config.GetDuration("payment.status_fetch_timeout", "3s"),
		})

	var locker initiator.Locker = initiator.NoopLocker{}
	if redis.Redis != nil {
		locker = redis.Redis
	} else {
		logger.WarnString("Payment", "Setup", "Redis 未初始化，发起支付不加锁")
	}

	starter := initiator.New(invoices, txns, gateways, locker, initiator.Options{
		InProgressWindow: config.GetDuration("payment.in_progress_window", "30m"),
		GatewayTimeout:   config.GetDuration("payment.gateway_timeout", "10s"),
		OrderExpiry:      config.GetDuration("payment.order_expire", "90m"),
		LockTTL:          config.GetDuration("payment.initiation_lock_ttl", "15s"),
		LockPrefix:       config.GetString("app.name", "feepay") + ":initiate",
		CallbackURL:      config.GetString("payment.callback_url"),
		NotifyURL:        config.GetString("payment.notify_url"),
	})

	services := &PaymentServices{
		Controllers: routes.Controllers{
			Payment: paymentctrl.NewPaymentController(paymentctrl.Dependencies{
				Initiator:    starter,
				Reconciler:   rec,
				Transactions: txns,
				Invoices:     invoices,
				Receipts:     ledger,
				Redirects: paymentctrl.RedirectURLs{
					Success: config.GetString("payment.success_url"),
					Pending: config.GetString("payment.pending_url"),
					Failure: config.GetString("payment.failure_url"),
				},
			}),
			Invoice: invoice.NewInvoiceController(ledger, publisher),
		},
	}

	if recheckQueue != nil {
		services.Sweeper = sweeper.New(txns, recheckQueue, gateways, rec, sweeper.Options{
			Interval:     config.GetDuration("payment.sweep.interval", "10m"),
			ExpireAfter:  config.GetDuration("payment.sweep.expire_after", "2h"),
			OrderExpiry:  config.GetDuration("payment.order_expire", "90m"),
			BatchSize:    config.GetInt("payment.sweep.batch_size", 100),
			FetchTimeout: config.GetDuration("payment.gateway_timeout", "10s"),
		})
	}

	logger.InfoString("Payment", "Setup", "支付服务初始化成功")
	return services
}
