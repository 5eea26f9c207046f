package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"wisefido-envsensor/internal/models"
)

// Publisher MQTT 发布接口（*mqtt.Client 实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Disconnect()
}

// MQTTSink 发布读数 JSON 到 MQTT 主题
type MQTTSink struct {
	publisher Publisher
	topic     string
	qos       byte
	retained  bool
}

// NewMQTTSink 创建 MQTT 下游；retained 为 true 时新订阅者可立即拿到最新读数
func NewMQTTSink(publisher Publisher, topic string, qos byte, retained bool) *MQTTSink {
	return &MQTTSink{publisher: publisher, topic: topic, qos: qos, retained: retained}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Write(ctx context.Context, r models.Reading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	return s.publisher.Publish(s.topic, s.qos, s.retained, payload)
}

func (s *MQTTSink) Close() error {
	s.publisher.Disconnect()
	return nil
}
