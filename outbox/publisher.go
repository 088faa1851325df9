package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher delivers an entry to the chain dispatcher
type Publisher interface {
	Publish(ctx context.Context, e *Entry) error
	Close() error
}

// Kafka message header names
const (
	HeaderContentHash = "content-hash"
	HeaderActionType  = "action-type"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig selects the brokers and topic the publisher writes to
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaPublisher writes each entry as one JSON message keyed by rule name
type KafkaPublisher struct {
	writer kafkaWriter
}

// NewKafkaPublisher validates cfg and creates a synchronous writer
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		trimmed := strings.TrimSpace(b)
		if trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w}, nil
}

// Publish writes e and waits for the broker acknowledgement
func (p *KafkaPublisher) Publish(ctx context.Context, e *Entry) error {
	if p == nil || p.writer == nil {
		return fmt.Errorf("kafka publisher not initialized")
	}

	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox entry: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(e.RuleName),
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderContentHash, Value: []byte(e.ContentHash)},
			{Key: HeaderActionType, Value: []byte(e.ActionType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish entry %s: %w", e.ID, err)
	}
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
