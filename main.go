package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"feepay/bootstrap"
	btsConfig "feepay/config"
	"feepay/pkg/app"
	"feepay/pkg/config"
	"feepay/pkg/database"
	"feepay/pkg/events"
)

// 加载应用程序的基础配置
func init() {
	// 加载 config 目录下的配置信息
	btsConfig.Initialize()
}

// App 应用程序上下文，用于优雅关闭
type App struct {
	server      *http.Server
	publisher   events.Publisher
	stopSweeper func()
}

func main() {
	// 解析命令行参数
	env := parseFlags()

	// 初始化应用
	application := setupApplication(env)

	// 启动服务器（包含优雅关闭）
	application.start()
}

// parseFlags 解析命令行参数
// 返回环境配置参数
func parseFlags() string {
	var env string
	flag.StringVar(&env, "env", "", "加载 .env 文件，例如 --env=testing 将加载 .env.testing 文件")
	flag.Parse()
	return env
}

// setupApplication 初始化应用程序所需的各种组件
func setupApplication(env string) *App {
	// 先初始化配置
	config.InitConfig(env)

	// 然后初始化日志
	bootstrap.SetupLogger()

	// 初始化数据库
	bootstrap.SetupDB()

	// 初始化 Redis，失败时降级运行
	bootstrap.SetupRedis()

	ctx := context.Background()
	publisher := bootstrap.SetupEvents(ctx)

	recheckQueue := bootstrap.SetupQueue()
	services := bootstrap.SetupPayment(database.DB, publisher, recheckQueue)

	return &App{
		server: &http.Server{
			Addr:              ":" + config.Get("app.port"),
			Handler:           setupServer(services),
			ReadHeaderTimeout: 10 * time.Second,
		},
		publisher:   publisher,
		stopSweeper: bootstrap.StartSweeper(ctx, recheckQueue, services.Sweeper),
	}
}

// setupServer 配置并返回 Gin 服务器实例
func setupServer(services *bootstrap.PaymentServices) *gin.Engine {
	// 本地环境输出 gin 调试信息，其余环境使用生产模式
	if app.IsLocal() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	bootstrap.SetupRoute(router, services.Controllers)
	return router
}

// start 启动服务器并处理优雅关闭
func (a *App) start() {
	// 创建系统信号监听器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("服务器正在启动，监听端口 %s\n", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 等待中断信号
	<-quit
	log.Println("正在关闭服务器...")

	// 创建一个带超时的上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 优雅关闭服务器
	if err := a.server.Shutdown(ctx); err != nil {
		log.Printf("服务器关闭异常: %v", err)
	}

	a.stopSweeper()
	if err := a.publisher.Close(); err != nil {
		log.Printf("事件发布关闭异常: %v", err)
	}

	log.Println("服务器已成功关闭")
}
