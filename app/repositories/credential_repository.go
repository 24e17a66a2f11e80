package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"feepay/app/models/credential"
	"feepay/pkg/payment/types"
)

// CredentialRepository 网关配置仓库
type CredentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository 创建仓库实例
func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// FindByTenant 获取租户的网关配置
func (r *CredentialRepository) FindByTenant(ctx context.Context, tenantID string) (*credential.GatewayCredential, error) {
	var cred credential.GatewayCredential
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// Save 新增或按租户覆盖网关配置
func (r *CredentialRepository) Save(ctx context.Context, cred *credential.GatewayCredential) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider", "key_id", "secret", "webhook_secret", "public_key",
			"base_url", "is_enabled", "is_production", "updated_at",
		}),
	}).Create(cred).Error
}
