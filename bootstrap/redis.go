package bootstrap

import (
	"fmt"

	"feepay/pkg/config"
	"feepay/pkg/logger"
	"feepay/pkg/redis"
)

// SetupRedis 初始化 Redis
//
// Redis 不可用时服务仍可启动：限流退化为进程内计数，发起支付不加锁，过期交易清理不运行。
func SetupRedis() bool {
	err := redis.InitRedis(
		fmt.Sprintf("%v:%v", config.GetString("redis.host"), config.GetString("redis.port")),
		config.GetString("redis.username"),
		config.GetString("redis.password"),
		config.GetInt("redis.database"),
		config.GetInt("redis.queue_database"),
	)
	if err != nil {
		logger.ErrorString("Redis", "Setup", err.Error())
		return false
	}
	logger.InfoString("Redis", "Setup", "Redis 连接成功")
	return true
}
