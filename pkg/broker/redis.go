package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig holds the connection settings for the Redis adapter.
type RedisConfig struct {
	Addrs        []string      `mapstructure:"addrs"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MasterName   string        `mapstructure:"master_name"` // set to use Sentinel
	PoolSize     int           `mapstructure:"pool_size"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DefaultRedisConfig points at a local Redis on the default port.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addrs:        []string{"localhost:6379"},
		PoolSize:     20,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Redis publishes with PUBLISH and subscribes with SUBSCRIBE.
// A single UniversalClient serves both; go-redis dedicates a connection to
// each PubSub.
type Redis struct {
	rdb    redis.UniversalClient
	buffer int
	log    *zap.SugaredLogger
}

// NewRedis connects and pings; an unreachable server is an error.
func NewRedis(ctx context.Context, cfg RedisConfig, buffer int, log *zap.SugaredLogger) (*Redis, error) {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MasterName:   cfg.MasterName,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("redis_connected", "addrs", cfg.Addrs, "db", cfg.DB, "pool_size", cfg.PoolSize)
	return &Redis{rdb: rdb, buffer: bufferOrDefault(buffer), log: log}, nil
}

func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	ps := r.rdb.Subscribe(ctx, topic)

	// Wait for the subscribe confirmation so callers know they are listening.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	out := make(chan Message, r.buffer)
	done := make(chan struct{})
	// A blocked read does not watch ctx; closing the PubSub unblocks it.
	go func() {
		select {
		case <-ctx.Done():
			ps.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer ps.Close()
		for {
			msg, err := ps.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.log.Warnw("redis_subscription_lost", "topic", topic, "err", err)
				}
				return
			}
			select {
			case out <- Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
