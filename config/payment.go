package config

import "feepay/pkg/config"

func init() {
	config.Add("payment", func() map[string]interface{} {
		return map[string]interface{}{
			// 同一张发票在此时间窗口内只允许一个进行中的支付
			"in_progress_window": config.Env("PAYMENT_IN_PROGRESS_WINDOW", "30m"),

			// 网关下单超时，超时视为失败且不落库
			"gateway_timeout": config.Env("PAYMENT_GATEWAY_TIMEOUT", "10s"),

			// 网关侧订单的支付时限，到期后网关关闭订单，需短于 sweep.expire_after
			"order_expire": config.Env("PAYMENT_ORDER_EXPIRE", "90m"),

			// 查询网关真实状态的超时，仅作参考
			"status_fetch_timeout": config.Env("PAYMENT_STATUS_FETCH_TIMEOUT", "3s"),

			// 发起支付时的发票锁
			"initiation_lock_ttl": config.Env("PAYMENT_INITIATION_LOCK_TTL", "15s"),

			// 默认币种
			"currency": config.Env("PAYMENT_CURRENCY", "INR"),

			// 支付结果落地页
			"success_url": config.Env("PAYMENT_SUCCESS_URL", "/payments/success"),
			"pending_url": config.Env("PAYMENT_PENDING_URL", "/payments/pending"),
			"failure_url": config.Env("PAYMENT_FAILURE_URL", "/payments/failure"),

			// 网关回调地址（浏览器跳转 / 异步通知）
			"callback_url": config.Env("PAYMENT_CALLBACK_URL", "http://localhost:3000/v1/payments/callback"),
			"notify_url":   config.Env("PAYMENT_NOTIFY_URL", "http://localhost:3000/v1/payments/webhook"),

			// 过期交易清理
			"sweep": map[string]interface{}{
				"enabled":      config.Env("PAYMENT_SWEEP_ENABLED", true),
				"interval":     config.Env("PAYMENT_SWEEP_INTERVAL", "10m"),
				"expire_after": config.Env("PAYMENT_SWEEP_EXPIRE_AFTER", "2h"),
				"batch_size":   config.Env("PAYMENT_SWEEP_BATCH_SIZE", 100),
			},
		}
	})
}
