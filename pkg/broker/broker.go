// Package broker hides the pub/sub transport behind one small interface so the
// ingress, the relay and the loopback executor never know whether messages
// travel over Redis, Kafka, libp2p gossipsub or an in-process fan-out.
package broker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("broker: closed")

// Message is a single payload received on a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Broker publishes opaque payloads by topic and hands out subscriptions.
//
// Subscribe returns once the underlying transport has confirmed the
// subscription. The returned channel is closed when ctx is cancelled or when
// the transport drops the subscription; callers tell the two apart by checking
// ctx.Err().
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (<-chan Message, error)
	Close() error
}

const (
	KindRedis  = "redis"
	KindKafka  = "kafka"
	KindGossip = "gossip"
	KindMemory = "memory"
)

// Config selects and configures one adapter.
type Config struct {
	Kind   string       `mapstructure:"kind"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Gossip GossipConfig `mapstructure:"gossip"`
	// SubscriptionBuffer is the channel capacity handed to subscribers.
	SubscriptionBuffer int `mapstructure:"subscription_buffer"`
}

// New connects the adapter named by cfg.Kind.
func New(ctx context.Context, cfg Config, log *zap.SugaredLogger) (Broker, error) {
	switch cfg.Kind {
	case KindRedis, "":
		return NewRedis(ctx, cfg.Redis, cfg.SubscriptionBuffer, log)
	case KindKafka:
		return NewKafka(cfg.Kafka, cfg.SubscriptionBuffer, log)
	case KindGossip:
		return NewGossip(ctx, cfg.Gossip, cfg.SubscriptionBuffer, log)
	case KindMemory:
		return NewMemory(cfg.SubscriptionBuffer), nil
	default:
		return nil, fmt.Errorf("broker: unknown kind %q", cfg.Kind)
	}
}

func bufferOrDefault(n int) int {
	if n <= 0 {
		return 256
	}
	return n
}
