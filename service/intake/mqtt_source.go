/*
 * @module service/intake/mqtt_source
 * @description MQTT遥测来源，订阅设备上报主题并把报文交给接入服务处理
 * @architecture 适配器模式 - 封装第三方MQTT客户端，提供统一的接口
 * @documentReference ai_docs/telemetry_intake_req.md
 * @stateFlow 连接建立 -> 主题订阅 -> 消息处理 -> 连接断开
 * @rules 支持自动重连、QoS控制；主题最后一段作为事件类型
 * @dependencies github.com/eclipse/paho.mqtt.golang
 * @refs service/intake/intake.go
 */

package intake

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTSourceConfig MQTT来源配置
type MQTTSourceConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topics   []string
	QoS      byte
}

// MQTTSource MQTT遥测来源
type MQTTSource struct {
	config   *MQTTSourceConfig
	client   mqtt.Client
	service  *Service
	received atomic.Int64
}

// NewMQTTSource 创建MQTT遥测来源
func NewMQTTSource(config *MQTTSourceConfig, service *Service) *MQTTSource {
	source := &MQTTSource{config: config, service: service}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetOnConnectHandler(source.onConnected)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("MQTT连接丢失: %v", err)
	})

	source.client = mqtt.NewClient(opts)
	return source
}

// Name 来源名称
func (m *MQTTSource) Name() string {
	return "mqtt:" + m.config.Broker
}

// Start 连接broker，订阅在onConnected中完成（重连后自动重订阅）
func (m *MQTTSource) Start() error {
	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT连接失败: %w", token.Error())
	}
	return nil
}

// Stop 断开连接
func (m *MQTTSource) Stop() error {
	m.client.Disconnect(250)
	return nil
}

// onConnected 连接建立后订阅全部主题
func (m *MQTTSource) onConnected(client mqtt.Client) {
	for _, topic := range m.config.Topics {
		token := client.Subscribe(topic, m.config.QoS, m.onMessage)
		if token.Wait() && token.Error() != nil {
			log.Printf("MQTT订阅失败 [%s]: %v", topic, token.Error())
			continue
		}
		log.Printf("MQTT已订阅主题: %s", topic)
	}
}

// onMessage 消息到达，主题最后一段作为事件类型
func (m *MQTTSource) onMessage(_ mqtt.Client, message mqtt.Message) {
	m.received.Add(1)
	segments := strings.Split(message.Topic(), "/")
	eventType := segments[len(segments)-1]
	m.service.HandleTelemetry(eventType, message.Payload())
}

// Received 已接收的消息数
func (m *MQTTSource) Received() int64 {
	return m.received.Load()
}
