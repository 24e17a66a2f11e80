package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"

	"feepay/pkg/logger"
)

// KafkaPublisher 基于 sarama 同步生产者
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher 使用已有的生产者创建发布者
func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = TopicPaymentRecorded
	}
	return &KafkaPublisher{producer: producer, topic: topic}
}

// ProducerConfig 生产者配置
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	return cfg
}

// Connect 连接 Kafka，broker 未就绪时按指数退避重试，直到超过 timeout
func Connect(ctx context.Context, brokers []string, topic string, timeout time.Duration) (*KafkaPublisher, error) {
	cfg := ProducerConfig()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = timeout

	var producer sarama.SyncProducer
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		p, err := sarama.NewSyncProducer(brokers, cfg)
		if err != nil {
			logger.WarnString("Kafka", "连接", fmt.Sprintf("等待 Kafka 就绪（第 %d 次）：%v", attempt, err))
			return err
		}
		producer = p
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}

	logger.InfoString("Kafka", "连接", "生产者初始化成功")
	return NewKafkaPublisher(producer, topic), nil
}

// PublishPaymentRecorded 以账单 ID 为分区键，保证同一账单的事件有序
func (p *KafkaPublisher) PublishPaymentRecorded(ctx context.Context, event PaymentRecorded) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", p.topic, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(event.InvoiceID, 10)),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("tenant_id"), Value: []byte(event.TenantID)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send %s event: %w", p.topic, err)
	}

	logger.DebugString("Kafka", "发布", fmt.Sprintf("%s partition=%d offset=%d receipt=%s",
		p.topic, partition, offset, event.ReceiptNumber))
	return nil
}

// Close 关闭生产者
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
