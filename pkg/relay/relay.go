// Package relay consumes execution reports from the broker and hands them to
// the WebSocket dispatcher.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/orderrelay/pkg/broker"
	"github.com/uhyunpark/orderrelay/pkg/hub"
	"github.com/uhyunpark/orderrelay/pkg/metrics"
	"github.com/uhyunpark/orderrelay/pkg/order"
	"github.com/uhyunpark/orderrelay/pkg/util"
)

// ErrRetriesExhausted is returned by Run when the subscription could not be
// re-established within the configured attempts.
var ErrRetriesExhausted = errors.New("relay: resubscribe retries exhausted")

type Mode string

const (
	// ModeTargeted delivers a report only to the connection registered for its userId.
	ModeTargeted Mode = "targeted"
	// ModeBroadcast delivers every report to every open connection.
	ModeBroadcast Mode = "broadcast"
)

type State int32

const (
	StateUnsubscribed State = iota
	StateListening
	StateResubscribing
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateListening:
		return "listening"
	case StateResubscribing:
		return "resubscribing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Dispatcher delivers report payloads to WebSocket connections.
type Dispatcher interface {
	SendTo(userID string, payload []byte) error
	Broadcast(payload []byte) int
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

type Config struct {
	Topic string      `mapstructure:"topic"`
	Mode  Mode        `mapstructure:"mode"`
	Retry RetryConfig `mapstructure:"retry"`
}

func DefaultConfig() Config {
	return Config{
		Topic: "execution-reports",
		Mode:  ModeTargeted,
		Retry: RetryConfig{
			MaxAttempts: 8,
			BaseDelay:   250 * time.Millisecond,
			MaxDelay:    10 * time.Second,
		},
	}
}

type Relay struct {
	cfg        Config
	broker     broker.Broker
	dispatcher Dispatcher
	clock      util.Clock
	log        *zap.SugaredLogger

	state atomic.Int32
	msgs  <-chan broker.Message
}

func New(cfg Config, b broker.Broker, d Dispatcher, clock util.Clock, log *zap.SugaredLogger) *Relay {
	if cfg.Mode == "" {
		cfg.Mode = ModeTargeted
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = DefaultConfig().Retry.BaseDelay
	}
	if cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		cfg.Retry.MaxDelay = cfg.Retry.BaseDelay
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Relay{cfg: cfg, broker: b, dispatcher: d, clock: clock, log: log}
}

func (r *Relay) State() State { return State(r.state.Load()) }

func (r *Relay) setState(s State) { r.state.Store(int32(s)) }

// Start subscribes to the report topic. It fails if the broker does not
// confirm the subscription; the caller treats that as fatal.
func (r *Relay) Start(ctx context.Context) error {
	msgs, err := r.broker.Subscribe(ctx, r.cfg.Topic)
	if err != nil {
		return fmt.Errorf("relay: subscribe %q: %w", r.cfg.Topic, err)
	}
	r.msgs = msgs
	r.setState(StateListening)
	r.log.Infow("relay_listening", "topic", r.cfg.Topic, "mode", r.cfg.Mode)
	return nil
}

// Run consumes reports until ctx is cancelled, resubscribing when the broker
// drops the subscription. It returns nil on cancellation and an error wrapping
// ErrRetriesExhausted when the subscription cannot be restored.
func (r *Relay) Run(ctx context.Context) error {
	if r.msgs == nil {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	defer r.setState(StateUnsubscribed)

	msgs := r.msgs
	for {
		for msg := range msgs {
			r.Handle(msg.Payload)
		}
		if ctx.Err() != nil {
			r.log.Infow("relay_stopped", "topic", r.cfg.Topic)
			return nil
		}

		r.log.Warnw("relay_subscription_lost", "topic", r.cfg.Topic)
		next, err := r.resubscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		msgs = next
		r.msgs = next
	}
}

func (r *Relay) resubscribe(ctx context.Context) (<-chan broker.Message, error) {
	r.setState(StateResubscribing)

	delay := r.cfg.Retry.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= r.cfg.Retry.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.clock.After(delay):
		}

		metrics.RelayResubscribes.Inc()
		msgs, err := r.broker.Subscribe(ctx, r.cfg.Topic)
		if err == nil {
			r.setState(StateListening)
			r.log.Infow("relay_resubscribed", "topic", r.cfg.Topic, "attempt", attempt)
			return msgs, nil
		}
		lastErr = err
		r.log.Warnw("relay_resubscribe_failed", "topic", r.cfg.Topic, "attempt", attempt, "next_delay", delay, "err", err)

		delay *= 2
		if delay > r.cfg.Retry.MaxDelay {
			delay = r.cfg.Retry.MaxDelay
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, r.cfg.Retry.MaxAttempts, lastErr)
}

// Handle dispatches one report payload. The payload is forwarded unchanged.
func (r *Relay) Handle(payload []byte) {
	userID, err := order.ReportUserID(payload)
	if err != nil {
		metrics.ReportsRelayed.WithLabelValues("malformed").Inc()
		r.log.Warnw("relay_malformed_report", "err", err, "bytes", len(payload))
		return
	}

	if r.cfg.Mode == ModeBroadcast {
		n := r.dispatcher.Broadcast(payload)
		metrics.ReportsRelayed.WithLabelValues("broadcast").Inc()
		r.log.Debugw("relay_broadcast", "recipients", n)
		return
	}

	if userID == "" {
		metrics.ReportsRelayed.WithLabelValues("unaddressed").Inc()
		r.log.Warnw("relay_report_without_user")
		return
	}

	switch err := r.dispatcher.SendTo(userID, payload); {
	case err == nil:
		metrics.ReportsRelayed.WithLabelValues("delivered").Inc()
		r.log.Debugw("relay_delivered", "user", userID)
	case errors.Is(err, hub.ErrNotRegistered):
		metrics.ReportsRelayed.WithLabelValues("unregistered").Inc()
		r.log.Warnw("relay_user_not_connected", "user", userID)
	case errors.Is(err, hub.ErrClosed):
		metrics.ReportsRelayed.WithLabelValues("closed").Inc()
		r.log.Warnw("relay_user_connection_closed", "user", userID)
	default:
		metrics.ReportsRelayed.WithLabelValues("dropped").Inc()
		r.log.Warnw("relay_delivery_dropped", "user", userID, "err", err)
	}
}
