package invoice

import "github.com/shopspring/decimal"

// Status 账单状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusPartial   Status = "partial"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// IsPayable 已结清或已作废的账单不允许再发起支付
func (i *Invoice) IsPayable() bool {
	return i.Status != StatusPaid && i.Status != StatusCancelled
}

// ApplyPayment 入账并重新计算余额和状态，余额最低为 0
func (i *Invoice) ApplyPayment(amount decimal.Decimal) {
	i.PaidAmount = i.PaidAmount.Add(amount)
	i.BalanceAmount = decimal.Max(decimal.Zero, i.NetAmount.Sub(i.PaidAmount))
	if i.BalanceAmount.LessThanOrEqual(decimal.Zero) {
		i.Status = StatusPaid
	} else {
		i.Status = StatusPartial
	}
}
