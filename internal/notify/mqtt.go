package notify

import (
	"encoding/json"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/langchou/motonav/internal/models"
)

// MQTTConfig MQTT 连接配置
type MQTTConfig struct {
	Broker      string // tcp://host:1883
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

const publishTimeout = 5 * time.Second

// Publisher 把通知发布到 <prefix>/notifications/<kind>
type Publisher struct {
	client MQTT.Client
	prefix string
	qos    byte
	logger *zap.Logger
}

// NewPublisher 基于已有的 MQTT 客户端创建发布器
func NewPublisher(client MQTT.Client, prefix string, qos byte, logger *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = "motonav"
	}
	return &Publisher{
		client: client,
		prefix: prefix,
		qos:    qos,
		logger: logger,
	}
}

// ConnectMQTT 连接 broker 并返回发布器，断线后自动重连
func ConnectMQTT(cfg MQTTConfig, logger *zap.Logger) (*Publisher, error) {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOnConnectHandler(func(MQTT.Client) {
		logger.Info("MQTT connection established", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	client := MQTT.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker: %w", token.Error())
	}
	return NewPublisher(client, cfg.TopicPrefix, cfg.QoS, logger), nil
}

// Topic 通知对应的主题
func (p *Publisher) Topic(kind string) string {
	return fmt.Sprintf("%s/notifications/%s", p.prefix, kind)
}

// Notify 实现 Notifier，发布结果在后台确认
func (p *Publisher) Notify(n models.Notification) {
	if !p.client.IsConnected() {
		p.logger.Debug("MQTT not connected, dropping notification", zap.String("kind", n.Kind))
		return
	}

	payload, err := json.Marshal(n)
	if err != nil {
		p.logger.Error("Failed to marshal notification", zap.Error(err))
		return
	}

	topic := p.Topic(n.Kind)
	token := p.client.Publish(topic, p.qos, false, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			p.logger.Warn("MQTT publish timed out", zap.String("topic", topic))
			return
		}
		if err := token.Error(); err != nil {
			p.logger.Warn("MQTT publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
}

// Close 断开连接
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
