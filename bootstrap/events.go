package bootstrap

import (
	"context"
	"strings"

	"feepay/pkg/config"
	"feepay/pkg/events"
	"feepay/pkg/logger"
)

// SetupEvents 初始化账务事件发布，未配置 Kafka 时不发布
func SetupEvents(ctx context.Context) events.Publisher {
	brokers := splitList(config.GetString("kafka.brokers"))
	if len(brokers) == 0 {
		logger.InfoString("Kafka", "Setup", "未配置 KAFKA_BROKERS，账务事件不发布")
		return events.NoopPublisher{}
	}

	publisher, err := events.Connect(ctx, brokers,
		config.GetString("kafka.payment_topic", events.TopicPaymentRecorded),
		config.GetDuration("kafka.connect_timeout", "60s"),
	)
	if err != nil {
		logger.ErrorString("Kafka", "Setup", err.Error())
		return events.NoopPublisher{}
	}

	logger.InfoString("Kafka", "Setup", "Kafka 连接成功")
	return publisher
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
