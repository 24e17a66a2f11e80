package migrations

import (
	"feepay/app/models/credential"
	"feepay/app/models/feepayment"
	"feepay/app/models/gatewayevent"
	"feepay/app/models/invoice"
	"feepay/app/models/payment"
)

// RegisterTables 返回需要迁移的表的模型列表
func RegisterTables() []interface{} {
	return []interface{}{
		&invoice.Invoice{},
		&credential.GatewayCredential{},
		&payment.PaymentTransaction{},
		&feepayment.FeePayment{},
		&gatewayevent.GatewayEventLog{},
	}
}
