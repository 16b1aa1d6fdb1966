// Package executor is a loopback stand-in for a matching engine: it accepts
// every order event it sees and answers with an execution report, so one
// process can demonstrate the full submit-to-WebSocket round trip.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/orderrelay/pkg/broker"
	"github.com/uhyunpark/orderrelay/pkg/util"
)

const StatusAccepted = "accepted"

var errNotObject = errors.New("order event is not a JSON object")

// Config controls the loopback executor.
type Config struct {
	Enabled     bool   `mapstructure:"enabled"`
	OrderTopic  string `mapstructure:"order_topic"`
	ReportTopic string `mapstructure:"report_topic"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		OrderTopic:  "order-events",
		ReportTopic: "execution-reports",
	}
}

type Executor struct {
	cfg    Config
	broker broker.Broker
	clock  util.Clock
	log    *zap.SugaredLogger
}

func New(cfg Config, b broker.Broker, clock util.Clock, log *zap.SugaredLogger) *Executor {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Executor{cfg: cfg, broker: b, clock: clock, log: log}
}

// Start subscribes to the order topic and acknowledges orders in the
// background. The returned function stops the executor and waits for it.
func (e *Executor) Start(ctx context.Context) (context.CancelFunc, error) {
	execCtx, cancel := context.WithCancel(ctx)
	orders, err := e.broker.Subscribe(execCtx, e.cfg.OrderTopic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executor: subscribe %q: %w", e.cfg.OrderTopic, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.loop(execCtx, orders)
	}()

	return func() {
		cancel()
		wg.Wait()
	}, nil
}

func (e *Executor) loop(ctx context.Context, orders <-chan broker.Message) {
	start := e.clock.Now()
	accepted, failed := 0, 0
	e.log.Infow("executor_started", "orders", e.cfg.OrderTopic, "reports", e.cfg.ReportTopic)

	for msg := range orders {
		report, err := Report(msg.Payload, e.clock.Now())
		if err != nil {
			failed++
			e.log.Warnw("executor_malformed_order", "err", err)
			continue
		}
		if err := e.broker.Publish(ctx, e.cfg.ReportTopic, report); err != nil {
			failed++
			e.log.Warnw("executor_publish_failed", "topic", e.cfg.ReportTopic, "err", err)
			continue
		}
		accepted++
	}

	e.log.Infow("executor_stopped",
		"accepted", accepted,
		"failed", failed,
		"uptime", e.clock.Now().Sub(start).Round(time.Millisecond),
		"cancelled", ctx.Err() != nil)
}

// Report turns an order event into an execution report: the order's own fields
// untouched, plus status and reportedAt (Unix milliseconds).
func Report(orderEvent []byte, at time.Time) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(orderEvent, &fields); err != nil {
		return nil, fmt.Errorf("decode order event: %w", err)
	}
	if fields == nil {
		return nil, errNotObject
	}
	fields["status"] = json.RawMessage(strconv.Quote(StatusAccepted))
	fields["reportedAt"] = json.RawMessage(strconv.FormatInt(at.UnixMilli(), 10))
	return json.Marshal(fields)
}
