package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"phonesim-core/common/mqtt"
	commonredis "phonesim-core/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 事件类型
const (
	TypeTenantSwitched  = "tenant.switched"
	TypeTenantRemoved   = "tenant.removed"
	TypeMessageSent     = "message.sent"
	TypeMessageMirrored = "message.mirrored"
)

// Event UI 刷新 / 领域事件
type Event struct {
	Type      string            `json:"type"`
	Tenant    string            `json:"tenant"`
	UID       string            `json:"uid,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Publisher 事件发布接口
// 发布是尽力而为的：调用方只记录错误，不因此回滚业务操作。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// StreamPublisher 发布到 Redis Streams
type StreamPublisher struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewStreamPublisher creates a publisher writing to the given stream
func NewStreamPublisher(client *redis.Client, stream string, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, logger: logger}
}

func (p *StreamPublisher) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	id, err := commonredis.PublishJSONToStream(ctx, p.client, p.stream, event)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	p.logger.Debug("Event published",
		zap.String("stream", p.stream),
		zap.String("message_id", id),
		zap.String("type", event.Type),
		zap.String("tenant", event.Tenant),
	)
	return nil
}

// MQTTClient 是 MQTTPublisher 需要的最小接口
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

var _ MQTTClient = (*mqtt.Client)(nil)

// MQTTPublisher 发布到 MQTT 主题
type MQTTPublisher struct {
	client MQTTClient
	topic  string
	qos    byte
	logger *zap.Logger
}

// NewMQTTPublisher creates a publisher writing to topic
func NewMQTTPublisher(client MQTTClient, topic string, qos byte, logger *zap.Logger) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic, qos: qos, logger: logger}
}

func (p *MQTTPublisher) Publish(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}
	if err := p.client.Publish(p.topic, p.qos, false, payload); err != nil {
		return err
	}
	p.logger.Debug("Event published",
		zap.String("topic", p.topic),
		zap.String("type", event.Type),
		zap.String("tenant", event.Tenant),
	)
	return nil
}

// NopPublisher 丢弃所有事件
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Decode 解析事件负载（Streams 的 data 字段或 MQTT 消息体）
func Decode(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("invalid event payload: %w", err)
	}
	if event.Type == "" {
		return Event{}, fmt.Errorf("invalid event payload: missing type")
	}
	return event, nil
}
