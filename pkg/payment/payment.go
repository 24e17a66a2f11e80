// Package payment 按租户解析支付网关
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"feepay/app/models/credential"
	"feepay/pkg/payment/factory"
	"feepay/pkg/payment/types"
)

// CredentialStore 租户网关配置的读取
type CredentialStore interface {
	FindByTenant(ctx context.Context, tenantID string) (*credential.GatewayCredential, error)
}

// SecretDecrypter 密钥在库中加密保存，由外部实现解密
type SecretDecrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// PlainSecrets 不做解密，用于本地开发和测试
type PlainSecrets struct{}

// Decrypt 原样返回
func (PlainSecrets) Decrypt(ciphertext string) (string, error) {
	return ciphertext, nil
}

// Gateways 按租户创建并缓存网关实例
type Gateways struct {
	store     CredentialStore
	decrypter SecretDecrypter
	timeout   time.Duration

	mu    sync.RWMutex
	cache map[string]cachedGateway
}

type cachedGateway struct {
	key     string
	gateway types.Gateway
}

// NewGateways 创建解析器
func NewGateways(store CredentialStore, decrypter SecretDecrypter, timeout time.Duration) *Gateways {
	if decrypter == nil {
		decrypter = PlainSecrets{}
	}
	return &Gateways{
		store:     store,
		decrypter: decrypter,
		timeout:   timeout,
		cache:     make(map[string]cachedGateway),
	}
}

// ForTenant 获取租户当前启用的网关
func (g *Gateways) ForTenant(ctx context.Context, tenantID string) (types.Gateway, error) {
	cred, err := g.store.FindByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.ErrGatewayNotConfigured
		}
		return nil, fmt.Errorf("load gateway credential: %w", err)
	}
	if cred == nil || !cred.IsEnabled {
		return nil, types.ErrGatewayNotConfigured
	}

	key := cred.CacheKey()
	g.mu.RLock()
	cached, ok := g.cache[tenantID]
	g.mu.RUnlock()
	if ok && cached.key == key {
		return cached.gateway, nil
	}

	secret, err := g.decrypter.Decrypt(cred.Secret)
	if err != nil {
		return nil, fmt.Errorf("decrypt gateway secret: %w: %v", types.ErrConfiguration, err)
	}
	webhookSecret := ""
	if cred.WebhookSecret != "" {
		if webhookSecret, err = g.decrypter.Decrypt(cred.WebhookSecret); err != nil {
			return nil, fmt.Errorf("decrypt webhook secret: %w: %v", types.ErrConfiguration, err)
		}
	}

	gateway, err := factory.NewGateway(cred, factory.Secrets{Secret: secret, WebhookSecret: webhookSecret}, g.timeout)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.cache[tenantID] = cachedGateway{key: key, gateway: gateway}
	g.mu.Unlock()

	return gateway, nil
}
