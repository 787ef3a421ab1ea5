package mqtt

import (
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/hashicorp/go-multierror"

	"iot-gateway/pkg/config"
)

// Publisher is the publishing side of a paho client
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// BroadcasterConfig holds configuration for the config broadcaster
type BroadcasterConfig struct {
	TopicPrefix string // e.g. "config/"
	QoS         byte
	Timeout     time.Duration
}

// Broadcaster publishes the operating configuration as retained messages so
// nodes that subscribe later still receive the latest values.
type Broadcaster struct {
	config BroadcasterConfig
	values []config.KeyValue
}

// NewBroadcaster creates a broadcaster for a validated operating configuration
func NewBroadcaster(cfg BroadcasterConfig, op config.Operating) *Broadcaster {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Broadcaster{
		config: cfg,
		values: op.Values(),
	}
}

// Topic returns the topic a configuration key is published on
func (b *Broadcaster) Topic(key string) string {
	return b.config.TopicPrefix + key
}

// Broadcast publishes every key once. A failing topic does not stop the others.
func (b *Broadcaster) Broadcast(pub Publisher) error {
	var result *multierror.Error
	for _, kv := range b.values {
		topic := b.Topic(kv.Key)
		token := pub.Publish(topic, b.config.QoS, true, kv.Value)
		if !token.WaitTimeout(b.config.Timeout) {
			result = multierror.Append(result, fmt.Errorf("publish to %s timed out after %s", topic, b.config.Timeout))
			continue
		}
		if err := token.Error(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to publish to %s: %w", topic, err))
			continue
		}
		log.Printf("MQTT Broadcaster: Published %s=%s (retained)", topic, kv.Value)
	}

	if err := result.ErrorOrNil(); err != nil {
		log.Printf("MQTT Broadcaster: %v", err)
		return err
	}
	return nil
}

// OnConnect re-publishes the configuration after each (re)connection
func (b *Broadcaster) OnConnect(c mqtt.Client) {
	_ = b.Broadcast(c)
}
