// publish-report sends one execution report to the report topic, the way a
// matching engine would. It is the manual way to drive the relay.
//
//	REPORT_USER_ID=alice REPORT_PRICE=338 go run ./cmd/publish-report
//	REPORT_JSON='{"userId":"bob","status":"filled"}' go run ./cmd/publish-report
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/uhyunpark/orderrelay/params"
	"github.com/uhyunpark/orderrelay/pkg/broker"
	"github.com/uhyunpark/orderrelay/pkg/order"
	"github.com/uhyunpark/orderrelay/pkg/util"
)

func main() {
	cfg, err := params.Load("")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	payload, err := buildReport(os.Getenv)
	if err != nil {
		fmt.Printf("Error building report: %v\n", err)
		os.Exit(1)
	}

	logger, err := util.NewLogger("warn")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := broker.New(ctx, cfg.Broker, logger.Sugar())
	if err != nil {
		fmt.Printf("Error connecting to %s broker: %v\n", cfg.Broker.Kind, err)
		os.Exit(1)
	}
	defer b.Close()

	if err := b.Publish(ctx, cfg.Topics.Reports, payload); err != nil {
		fmt.Printf("Error publishing: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Published to %s (%s):\n%s\n", cfg.Topics.Reports, cfg.Broker.Kind, payload)
}

// buildReport returns REPORT_JSON verbatim when set, otherwise a report built
// from the REPORT_* variables.
func buildReport(getenv func(string) string) ([]byte, error) {
	if raw := getenv("REPORT_JSON"); raw != "" {
		if _, err := order.ReportUserID([]byte(raw)); err != nil {
			return nil, err
		}
		return []byte(raw), nil
	}

	quantity := json.Number(envOr(getenv, "REPORT_QUANTITY", "100"))
	price := json.Number(envOr(getenv, "REPORT_PRICE", "338"))
	for name, n := range map[string]json.Number{"REPORT_QUANTITY": quantity, "REPORT_PRICE": price} {
		if _, err := n.Float64(); err != nil {
			return nil, fmt.Errorf("%s=%q is not a number", name, n)
		}
	}

	report := order.Event{
		UserID:    envOr(getenv, "REPORT_USER_ID", "alice"),
		Symbol:    envOr(getenv, "REPORT_SYMBOL", "GP"),
		Quantity:  quantity,
		Price:     price,
		Side:      order.Side(envOr(getenv, "REPORT_SIDE", string(order.SideBuy))),
		Timestamp: time.Now().UnixMilli(),
	}
	return json.Marshal(report)
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}
