package bootstrap

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"feepay/app/http/middlewares"
	"feepay/routes"
)

// SetupRoute 路由初始化
//
//  1. 注册全局中间件
//  2. 注册 API 路由
//  3. 配置 404 处理器
func SetupRoute(router *gin.Engine, ctrl routes.Controllers) {
	registerGlobalMiddleWare(router)
	routes.RegisterAPIRoutes(router, ctrl)
	setup404Handler(router)
}

// registerGlobalMiddleWare 注册全局中间件
func registerGlobalMiddleWare(router *gin.Engine) {
	router.Use(
		middlewares.Logger(),   // 记录请求日志
		middlewares.Recovery(), // 在发生 panic 时恢复
	)
}

// setup404Handler 配置 404 请求处理器
func setup404Handler(router *gin.Engine) {
	router.NoRoute(func(c *gin.Context) {
		// 根据 Accept 返回相应格式的响应
		if strings.Contains(c.Request.Header.Get("Accept"), "text/html") {
			c.String(http.StatusNotFound, "页面返回 404")
		} else {
			c.JSON(http.StatusNotFound, gin.H{
				"error_code":    404,
				"error_message": "路由未定义，请确认 url 和请求方法是否正确。",
			})
		}
	})
}
