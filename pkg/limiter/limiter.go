// Package limiter 处理限流逻辑
package limiter

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	limiterlib "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"feepay/pkg/config"
	"feepay/pkg/logger"
	"feepay/pkg/redis"
)

var (
	storeOnce sync.Once
	store     limiterlib.Store

	// 按限流格式缓存 limiter 实例
	instances sync.Map
)

// ParseLimit 解析限流配置字符串
// 支持的格式: "5-S"、"10-M"、"1000-H"、"2000-D"
func ParseLimit(limit string) (limiterlib.Rate, error) {
	rate, err := limiterlib.NewRateFromFormatted(strings.ToUpper(limit))
	if err != nil {
		return rate, fmt.Errorf("invalid limit format %q: %w", limit, err)
	}
	return rate, nil
}

// GetKeyIP 获取 Limitor 的 Key，IP
func GetKeyIP(c *gin.Context) string {
	return c.ClientIP()
}

// GetKeyRouteWithIP Limitor 的 Key，路由+IP，针对单个路由做限流
func GetKeyRouteWithIP(c *gin.Context) string {
	return routeToKeyString(c.FullPath()) + c.ClientIP()
}

// SetStore 指定限流存储，测试时使用
func SetStore(s limiterlib.Store) {
	storeOnce.Do(func() {})
	store = s
	instances.Range(func(key, _ interface{}) bool {
		instances.Delete(key)
		return true
	})
}

// getStore Redis 可用时使用 Redis 存储，多实例共享计数；否则退化为进程内存储
func getStore() limiterlib.Store {
	storeOnce.Do(func() {
		options := limiterlib.StoreOptions{
			// 为 limiter 设置前缀，保持 redis 里数据的整洁
			Prefix: config.GetString("app.name", "feepay") + ":limiter",
		}

		if redis.Redis != nil {
			s, err := sredis.NewStoreWithOptions(redis.Redis.Client, options)
			if err == nil {
				store = s
				return
			}
			logger.ErrorString("Limiter", "RedisStore", err.Error())
		}

		store = memory.NewStoreWithOptions(options)
	})
	return store
}

// CheckRate 检测请求是否超额
func CheckRate(c *gin.Context, key string, formatted string) (limiterlib.Context, error) {
	var context limiterlib.Context

	lim, err := getLimiter(formatted)
	if err != nil {
		logger.LogIf(err)
		return context, err
	}

	// 获取限流的结果
	if c.GetBool("limiter-once") {
		// Peek() 取结果，不增加访问次数
		return lim.Peek(c, key)
	}

	// 确保多个路由组里调用 LimitIP 进行限流时，只增加一次访问次数。
	c.Set("limiter-once", true)

	// Get() 取结果且增加访问次数
	return lim.Get(c, key)
}

func getLimiter(formatted string) (*limiterlib.Limiter, error) {
	if lim, ok := instances.Load(formatted); ok {
		return lim.(*limiterlib.Limiter), nil
	}

	rate, err := ParseLimit(formatted)
	if err != nil {
		return nil, err
	}

	lim, _ := instances.LoadOrStore(formatted, limiterlib.New(getStore(), rate))
	return lim.(*limiterlib.Limiter), nil
}

// routeToKeyString 辅助方法，将 URL 中的 / 格式为 -
func routeToKeyString(routeName string) string {
	routeName = strings.ReplaceAll(routeName, "/", "-")
	routeName = strings.ReplaceAll(routeName, ":", "_")
	return routeName
}
