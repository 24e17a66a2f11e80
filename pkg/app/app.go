// Package app 提供应用程序相关的辅助函数
package app

import (
	"feepay/pkg/config"
)

// IsLocal 是否本地开发环境
func IsLocal() bool {
	return config.Get("app.env") == "local"
}

// IsTesting 是否测试环境
func IsTesting() bool {
	return config.Get("app.env") == "testing"
}
