// Package factory 根据租户配置创建网关适配器
package factory

import (
	"fmt"
	"time"

	"feepay/app/models/credential"
	"feepay/pkg/payment/alipay"
	"feepay/pkg/payment/razorpay"
	"feepay/pkg/payment/types"
)

// Secrets 解密后的密钥
type Secrets struct {
	Secret        string
	WebhookSecret string
}

// NewGateway 创建网关
func NewGateway(cred *credential.GatewayCredential, secrets Secrets, timeout time.Duration) (types.Gateway, error) {
	if cred == nil || !cred.IsEnabled {
		return nil, types.ErrGatewayNotConfigured
	}

	switch types.Provider(cred.Provider) {
	case types.ProviderAlipay:
		return alipay.New(alipay.Config{
			AppID:        cred.KeyID,
			PrivateKey:   secrets.Secret,
			PublicKey:    cred.PublicKey,
			IsProduction: cred.IsProduction,
		})

	case types.ProviderRazorpay:
		return razorpay.New(razorpay.Config{
			KeyID:         cred.KeyID,
			KeySecret:     secrets.Secret,
			WebhookSecret: secrets.WebhookSecret,
			BaseURL:       cred.BaseURL,
			Timeout:       timeout,
		})

	default:
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedProvider, cred.Provider)
	}
}
