package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"feepay/app/models/payment"
	"feepay/pkg/payment/types"
)

// TransactionRepository 支付交易仓库
type TransactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository 创建仓库实例
func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create 创建交易记录，只允许以 initiated 状态创建
func (r *TransactionRepository) Create(ctx context.Context, txn *payment.PaymentTransaction) error {
	if err := txn.Validate(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if txn.Status == "" {
		txn.Status = payment.StatusInitiated
	}
	if txn.Status != payment.StatusInitiated {
		return fmt.Errorf("%w: transaction must be created as initiated", types.ErrValidation)
	}
	if txn.InitiatedAt.IsZero() {
		txn.InitiatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(txn).Error
}

// FindByID 根据主键获取
func (r *TransactionRepository) FindByID(ctx context.Context, id uint64) (*payment.PaymentTransaction, error) {
	return r.first(ctx, "id = ?", id)
}

// FindByGatewayOrderID 根据网关订单号获取，三个回调渠道都以它关联交易
func (r *TransactionRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*payment.PaymentTransaction, error) {
	return r.first(ctx, "gateway_order_id = ?", gatewayOrderID)
}

// FindByOrderID 根据系统订单号获取
func (r *TransactionRepository) FindByOrderID(ctx context.Context, orderID string) (*payment.PaymentTransaction, error) {
	return r.first(ctx, "order_id = ?", orderID)
}

// FindInProgress 查找账单在 since 之后发起、尚未结束的交易，没有时返回 nil
func (r *TransactionRepository) FindInProgress(ctx context.Context, invoiceID uint64, since time.Time) (*payment.PaymentTransaction, error) {
	var txn payment.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("invoice_id = ? AND status IN ? AND initiated_at >= ?",
			invoiceID, []payment.Status{payment.StatusInitiated, payment.StatusPending}, since).
		Order("initiated_at DESC").
		First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// FindStale 查找 before 之前发起、仍未结束的交易
func (r *TransactionRepository) FindStale(ctx context.Context, before time.Time, limit int) ([]payment.PaymentTransaction, error) {
	var txns []payment.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("status IN ? AND initiated_at < ?",
			[]payment.Status{payment.StatusInitiated, payment.StatusPending}, before).
		Order("initiated_at ASC").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

// TransitionStatus 比较并交换：只有当前状态仍为 from 时才更新，否则返回 ErrConflict
func (r *TransactionRepository) TransitionStatus(ctx context.Context, id uint64, from, to payment.Status, fields payment.TransitionFields) error {
	return transition(r.db.WithContext(ctx), id, from, to, fields)
}

func (r *TransactionRepository) first(ctx context.Context, query string, args ...interface{}) (*payment.PaymentTransaction, error) {
	var txn payment.PaymentTransaction
	err := r.db.WithContext(ctx).Where(query, args...).First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func transition(db *gorm.DB, id uint64, from, to payment.Status, fields payment.TransitionFields) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: illegal transition %s -> %s", types.ErrConflict, from, to)
	}

	cols := fields.Columns()
	cols["status"] = to

	result := db.Model(&payment.PaymentTransaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(cols)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: transaction %d is no longer %s", types.ErrConflict, id, from)
	}
	return nil
}
