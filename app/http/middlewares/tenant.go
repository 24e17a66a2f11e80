package middlewares

import (
	"github.com/gin-gonic/gin"

	"feepay/pkg/response"
)

const (
	// HeaderTenantID 租户请求头
	HeaderTenantID = "X-Tenant-ID"
	// ContextTenantID 上下文中的租户 ID
	ContextTenantID = "tenant_id"
)

// Tenant 要求请求携带租户 ID
//
// 租户身份由上游网关鉴权后注入，这里只负责读取。
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(HeaderTenantID)
		if tenantID == "" || len(tenantID) > 36 {
			response.Abort400(c, "缺少或无效的租户 ID")
			return
		}
		c.Set(ContextTenantID, tenantID)
		c.Next()
	}
}

// TenantID 当前请求的租户 ID
func TenantID(c *gin.Context) string {
	return c.GetString(ContextTenantID)
}
