package bootstrap

import (
	"feepay/pkg/config"
	"feepay/pkg/logger"
)

// SetupLogger 初始化 Logger
//
// 参数见 config/log.go：文件路径、滚动大小、备份数、保存天数、是否压缩、
// 记录类型（daily / single）和日志级别。
func SetupLogger() {
	logger.InitLogger(
		config.GetString("log.filename"),
		config.GetInt("log.max_size"),
		config.GetInt("log.max_backup"),
		config.GetInt("log.max_age"),
		config.GetBool("log.compress"),
		config.GetString("log.type"),
		config.GetString("log.level"),
	)
}
