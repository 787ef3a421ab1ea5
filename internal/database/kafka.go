package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"iot-gateway/internal/models"
)

// messageWriter is the part of *kafka.Writer the store uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaStore forwards points to a topic for a downstream loader that owns
// the time-series store. Messages are keyed by node id so a node's points
// stay ordered within a partition.
type KafkaStore struct {
	writer messageWriter
}

// pointMessage is the JSON value of every forwarded message
type pointMessage struct {
	Series    string                 `json:"series"`
	Tags      map[string]string      `json:"tags"`
	Fields    map[string]interface{} `json:"fields"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewKafkaStore creates a synchronous writer; a write returns once the
// brokers acknowledged it.
func NewKafkaStore(brokers []string, topic string) *KafkaStore {
	log.Printf("Kafka: Forwarding telemetry to topic %s on %v", topic, brokers)
	return &KafkaStore{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: 5 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// WritePoint forwards a single point
func (k *KafkaStore) WritePoint(ctx context.Context, series string, tags map[string]string, fields map[string]interface{}, ts time.Time) error {
	return k.WriteBatch(ctx, series, tags, []Row{{Timestamp: ts, Fields: fields}})
}

// WriteBatch forwards one message per row in a single produce call
func (k *KafkaStore) WriteBatch(ctx context.Context, series string, tags map[string]string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	msgs, err := encodeRows(series, tags, rows)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish %d %s messages: %w", len(msgs), series, err)
	}
	return nil
}

func encodeRows(series string, tags map[string]string, rows []Row) ([]kafka.Message, error) {
	key := []byte(tags[models.TagNodeID])
	msgs := make([]kafka.Message, 0, len(rows))
	for _, r := range rows {
		value, err := json.Marshal(pointMessage{
			Series:    series,
			Tags:      tags,
			Fields:    r.Fields,
			Timestamp: r.Timestamp.UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s point: %w", series, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   key,
			Value: value,
			Time:  r.Timestamp,
			Headers: []kafka.Header{
				{Key: "series", Value: []byte(series)},
			},
		})
	}
	return msgs, nil
}

// Close flushes and closes the writer
func (k *KafkaStore) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka writer: %w", err)
	}
	log.Println("Kafka writer closed")
	return nil
}
