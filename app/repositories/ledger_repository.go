package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"feepay/app/models/feepayment"
	"feepay/app/models/invoice"
	"feepay/app/models/payment"
	"feepay/pkg/database"
	"feepay/pkg/payment/types"
	"feepay/pkg/payment/utils"
)

// LedgerRepository 账本：缴费记录 + 账单余额
type LedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository 创建仓库实例
func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Settlement 入账结果
type Settlement struct {
	FeePayment *feepayment.FeePayment
	Invoice    *invoice.Invoice
	// Created 为 false 表示这笔交易之前已经入账
	Created bool
}

// FindByTransactionID 获取交易对应的缴费记录
func (r *LedgerRepository) FindByTransactionID(ctx context.Context, transactionID uint64) (*feepayment.FeePayment, error) {
	fp, err := findFeePayment(r.db.WithContext(ctx), transactionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNotFound
	}
	return fp, err
}

// Settle 交易成功入账，在同一个数据库事务内完成：
//
//  1. 已有缴费记录时直接返回（幂等）
//  2. 交易状态 CAS 为 success，状态已变化返回 ErrConflict
//  3. 写入缴费记录，payment_transaction_id 唯一索引冲突返回 ErrConflict
//  4. 重新计算账单已付金额、余额和状态
func (r *LedgerRepository) Settle(ctx context.Context, txn *payment.PaymentTransaction, fields payment.TransitionFields) (*Settlement, error) {
	var settlement *Settlement

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findFeePayment(tx, txn.ID)
		if err == nil {
			if txn.Status != payment.StatusSuccess {
				// 状态可能已被并发的请求更新，忽略冲突
				if err := transition(tx, txn.ID, txn.Status, payment.StatusSuccess, fields); err != nil && !errors.Is(err, types.ErrConflict) {
					return err
				}
			}
			settlement = &Settlement{FeePayment: existing}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if fields.CompletedAt == nil {
			now := time.Now()
			fields.CompletedAt = &now
		}
		if err := transition(tx, txn.ID, txn.Status, payment.StatusSuccess, fields); err != nil {
			return err
		}

		inv, err := lockInvoice(tx, txn.TenantID, txn.InvoiceID)
		if err != nil {
			return err
		}

		txnID := txn.ID
		method := fields.PaymentMode
		if method == "" {
			method = txn.Provider
		}
		fp := &feepayment.FeePayment{
			TenantID:             txn.TenantID,
			InvoiceID:            txn.InvoiceID,
			Amount:               txn.Amount,
			PaymentTransactionID: &txnID,
			ReceiptNumber:        utils.GenerateReceiptNo(),
			PaymentMethod:        method,
			PaymentDate:          *fields.CompletedAt,
			Remarks:              "online payment " + txn.OrderID,
		}
		if err := tx.Create(fp).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: transaction %d already has a fee payment", types.ErrConflict, txn.ID)
			}
			return err
		}

		if err := applyToInvoice(tx, inv, txn.Amount); err != nil {
			return err
		}

		settlement = &Settlement{FeePayment: fp, Invoice: inv, Created: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settlement, nil
}

// ManualPayment 线下缴费参数
type ManualPayment struct {
	TenantID  string
	InvoiceID uint64
	Amount    decimal.Decimal
	Method    string
	Remarks   string
	PaidAt    time.Time
}

// RecordManual 线下缴费入账，不关联网关交易
func (r *LedgerRepository) RecordManual(ctx context.Context, m ManualPayment) (*Settlement, error) {
	if !m.Amount.IsPositive() {
		return nil, types.ErrInvalidAmount
	}
	if m.PaidAt.IsZero() {
		m.PaidAt = time.Now()
	}

	var settlement *Settlement
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := lockInvoice(tx, m.TenantID, m.InvoiceID)
		if err != nil {
			return err
		}
		if !inv.IsPayable() {
			return types.ErrInvoiceNotPayable
		}
		if m.Amount.GreaterThan(inv.BalanceAmount) {
			return types.ErrAmountExceedsBalance
		}

		fp := &feepayment.FeePayment{
			TenantID:      m.TenantID,
			InvoiceID:     m.InvoiceID,
			Amount:        m.Amount,
			ReceiptNumber: utils.GenerateReceiptNo(),
			PaymentMethod: m.Method,
			PaymentDate:   m.PaidAt,
			Remarks:       m.Remarks,
		}
		if err := tx.Create(fp).Error; err != nil {
			return err
		}
		if err := applyToInvoice(tx, inv, m.Amount); err != nil {
			return err
		}

		settlement = &Settlement{FeePayment: fp, Invoice: inv, Created: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settlement, nil
}

func findFeePayment(db *gorm.DB, transactionID uint64) (*feepayment.FeePayment, error) {
	var fp feepayment.FeePayment
	if err := db.Where("payment_transaction_id = ?", transactionID).First(&fp).Error; err != nil {
		return nil, err
	}
	return &fp, nil
}

func lockInvoice(tx *gorm.DB, tenantID string, invoiceID uint64) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	err := database.ForUpdate(tx).
		Where("id = ? AND tenant_id = ?", invoiceID, tenantID).
		First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func applyToInvoice(tx *gorm.DB, inv *invoice.Invoice, amount decimal.Decimal) error {
	inv.ApplyPayment(amount)
	return tx.Model(&invoice.Invoice{}).
		Where("id = ?", inv.ID).
		Updates(map[string]interface{}{
			"paid_amount":    inv.PaidAmount,
			"balance_amount": inv.BalanceAmount,
			"status":         inv.Status,
		}).Error
}
