package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-envsensor/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageWriter kafka 写入接口（*kafka.Writer 实现）
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter 创建 kafka writer
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// KafkaSink 以节点 id 为 key 写入 kafka，保证同一节点分区内有序
type KafkaSink struct {
	writer MessageWriter
	key    string
}

// NewKafkaSink 创建 kafka 下游
func NewKafkaSink(writer MessageWriter, key string) *KafkaSink {
	return &KafkaSink{writer: writer, key: key}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, r models.Reading) error {
	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(s.key),
		Value: value,
		Time:  r.CreatedAt,
		Headers: []kafka.Header{
			{Key: "reading_id", Value: []byte(r.ID)},
		},
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
