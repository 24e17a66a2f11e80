package config

import "feepay/pkg/config"

func init() {
	config.Add("kafka", func() map[string]interface{} {
		return map[string]interface{}{
			// 逗号分隔，留空则不发布账务事件
			"brokers": config.Env("KAFKA_BROKERS", ""),

			"payment_topic": config.Env("KAFKA_PAYMENT_TOPIC", "fee.payment.recorded"),

			// 连接 Kafka 的最长等待时间
			"connect_timeout": config.Env("KAFKA_CONNECT_TIMEOUT", "60s"),
		}
	})
}
