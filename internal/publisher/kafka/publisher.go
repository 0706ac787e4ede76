// Package kafka publishes article events to Kafka with segmentio/kafka-go.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes JSON payloads to Kafka. The publish topic selects the Kafka
// topic, so one writer serves every event type.
type Publisher struct {
	writer messageWriter
	now    func() time.Time
	logger *zap.Logger
}

// New builds a synchronous writer for brokers.
func New(brokers []string, logger *zap.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}
	return newWithWriter(writer, logger), nil
}

func newWithWriter(writer messageWriter, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{writer: writer, now: time.Now, logger: logger.Named("kafka")}
}

// Publish marshals payload and writes it to topic. Article events are keyed by
// article ID so one article always lands on the same partition.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("kafka topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	key := messageKey(payload)
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  p.now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write kafka message: %w", err)
	}
	p.logger.Debug("event produced", zap.String("topic", topic), zap.String("key", key))
	return key, nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

func messageKey(payload any) string {
	switch v := payload.(type) {
	case ingest.ArticleEvent:
		return v.ArticleID
	case *ingest.ArticleEvent:
		if v != nil {
			return v.ArticleID
		}
	}
	return ""
}
