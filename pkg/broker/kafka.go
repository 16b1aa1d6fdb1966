package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig contains configuration for the Kafka adapter.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	GroupID      string        `mapstructure:"group_id"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
	MinBytes     int           `mapstructure:"min_bytes"`
	MaxBytes     int           `mapstructure:"max_bytes"`
}

func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		GroupID:      "orderrelay",
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		RequiredAcks: int(kafka.RequireOne),
		MinBytes:     1,
		MaxBytes:     1 << 20,
	}
}

// Kafka writes every topic through one Writer and reads each subscription
// with its own consumer-group Reader.
type Kafka struct {
	cfg    KafkaConfig
	writer *kafka.Writer
	buffer int
	log    *zap.SugaredLogger

	mu      sync.Mutex
	readers map[*kafka.Reader]struct{}
	closed  bool
}

func NewKafka(cfg KafkaConfig, buffer int, log *zap.SugaredLogger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		AllowAutoTopicCreation: true,
	}

	log.Infow("kafka_configured", "brokers", cfg.Brokers, "group_id", cfg.GroupID)
	return &Kafka{
		cfg:     cfg,
		writer:  writer,
		buffer:  bufferOrDefault(buffer),
		log:     log,
		readers: make(map[*kafka.Reader]struct{}),
	}, nil
}

func (k *Kafka) Publish(ctx context.Context, topic string, payload []byte) error {
	if k.isClosed() {
		return ErrClosed
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Value: payload}); err != nil {
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe joins the configured consumer group on topic. Kafka has no
// explicit subscribe handshake; the reader joins the group lazily on first fetch.
func (k *Kafka) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.cfg.Brokers,
		Topic:    topic,
		GroupID:  k.cfg.GroupID,
		MinBytes: k.cfg.MinBytes,
		MaxBytes: k.cfg.MaxBytes,
	})

	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		reader.Close()
		return nil, ErrClosed
	}
	k.readers[reader] = struct{}{}
	k.mu.Unlock()

	out := make(chan Message, k.buffer)
	go func() {
		defer close(out)
		defer k.release(reader)
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					k.log.Warnw("kafka_read_failed", "topic", topic, "err", err)
				}
				return
			}
			select {
			case out <- Message{Topic: m.Topic, Payload: m.Value}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (k *Kafka) release(r *kafka.Reader) {
	k.mu.Lock()
	delete(k.readers, r)
	k.mu.Unlock()
	if err := r.Close(); err != nil {
		k.log.Debugw("kafka_reader_close_failed", "err", err)
	}
}

func (k *Kafka) isClosed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.closed
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	readers := make([]*kafka.Reader, 0, len(k.readers))
	for r := range k.readers {
		readers = append(readers, r)
	}
	k.mu.Unlock()

	// Closing a reader unblocks its ReadMessage, which then releases it.
	for _, r := range readers {
		r.Close()
	}
	return k.writer.Close()
}
