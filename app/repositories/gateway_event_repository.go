package repositories

import (
	"context"

	"gorm.io/gorm"

	"feepay/app/models/gatewayevent"
)

// GatewayEventRepository 网关事件审计日志仓库
type GatewayEventRepository struct {
	db *gorm.DB
}

// NewGatewayEventRepository 创建仓库实例
func NewGatewayEventRepository(db *gorm.DB) *GatewayEventRepository {
	return &GatewayEventRepository{db: db}
}

// Create 写入一条审计日志
func (r *GatewayEventRepository) Create(ctx context.Context, log *gatewayevent.GatewayEventLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// ListByGatewayOrderID 按网关订单号查询，按接收时间排序
func (r *GatewayEventRepository) ListByGatewayOrderID(ctx context.Context, gatewayOrderID string) ([]gatewayevent.GatewayEventLog, error) {
	var logs []gatewayevent.GatewayEventLog
	err := r.db.WithContext(ctx).
		Where("gateway_order_id = ?", gatewayOrderID).
		Order("received_at ASC, id ASC").
		Find(&logs).Error
	return logs, err
}
