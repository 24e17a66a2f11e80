package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"feepay/app/models/invoice"
	"feepay/pkg/payment/types"
)

// InvoiceRepository 账单仓库
type InvoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository 创建仓库实例
func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// FindForTenant 获取租户下的账单
func (r *InvoiceRepository) FindForTenant(ctx context.Context, tenantID string, id uint64) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	err := r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Create 创建账单，未指定余额时按应付金额初始化
func (r *InvoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	if inv.NetAmount.IsZero() {
		inv.NetAmount = inv.TotalAmount.Sub(inv.DiscountAmount)
	}
	if inv.BalanceAmount.IsZero() && inv.PaidAmount.IsZero() {
		inv.BalanceAmount = inv.NetAmount
	}
	if inv.Status == "" {
		inv.Status = invoice.StatusPending
	}
	return r.db.WithContext(ctx).Create(inv).Error
}
