/*
 * @module service/intake/kafka_source
 * @description Kafka遥测来源，消费设备事件主题并把报文交给接入服务处理
 * @architecture 适配器模式 - 封装kafka-go Reader，提供统一的接口
 * @documentReference ai_docs/telemetry_intake_req.md
 * @stateFlow Reader启动 -> 拉取消息 -> 交给接入服务 -> 自动提交位点
 * @rules 消费组内位点自动提交；消息key作为事件类型，为空时退化为主题名
 * @dependencies github.com/segmentio/kafka-go
 * @refs service/intake/intake.go
 */

package intake

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSourceConfig Kafka来源配置
type KafkaSourceConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaSource Kafka遥测来源
type KafkaSource struct {
	config   *KafkaSourceConfig
	reader   *kafka.Reader
	service  *Service
	ctx      context.Context
	cancel   context.CancelFunc
	received atomic.Int64
}

// NewKafkaSource 创建Kafka遥测来源
func NewKafkaSource(config *KafkaSourceConfig, service *Service) *KafkaSource {
	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaSource{
		config: config,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        config.Brokers,
			Topic:          config.Topic,
			GroupID:        config.GroupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: time.Second,
		}),
		service: service,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Name 来源名称
func (k *KafkaSource) Name() string {
	return "kafka:" + k.config.Topic
}

// Start 启动消费循环
func (k *KafkaSource) Start() error {
	go k.consumeLoop()
	return nil
}

// Stop 停止消费并关闭Reader
func (k *KafkaSource) Stop() error {
	k.cancel()
	return k.reader.Close()
}

// consumeLoop 拉取消息循环
func (k *KafkaSource) consumeLoop() {
	for {
		message, err := k.reader.ReadMessage(k.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				log.Printf("Kafka消费循环已退出 [%s]", k.config.Topic)
				return
			}
			log.Printf("Kafka读取消息失败 [%s]: %v", k.config.Topic, err)
			time.Sleep(time.Second)
			continue
		}

		k.received.Add(1)
		eventType := string(message.Key)
		if eventType == "" {
			eventType = k.config.Topic
		}
		k.service.HandleTelemetry(eventType, message.Value)
	}
}

// Received 已接收的消息数
func (k *KafkaSource) Received() int64 {
	return k.received.Load()
}
