package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/orderrelay/pkg/broker"
	"github.com/uhyunpark/orderrelay/pkg/hub"
	"github.com/uhyunpark/orderrelay/pkg/util"
)

type delivery struct {
	userID  string // "" for broadcast
	payload string
}

type fakeDispatcher struct {
	connected map[string]bool
	got       chan delivery
}

func newFakeDispatcher(users ...string) *fakeDispatcher {
	d := &fakeDispatcher{connected: make(map[string]bool), got: make(chan delivery, 16)}
	for _, u := range users {
		d.connected[u] = true
	}
	return d
}

func (d *fakeDispatcher) SendTo(userID string, payload []byte) error {
	if !d.connected[userID] {
		return hub.ErrNotRegistered
	}
	d.got <- delivery{userID: userID, payload: string(payload)}
	return nil
}

func (d *fakeDispatcher) Broadcast(payload []byte) int {
	d.got <- delivery{payload: string(payload)}
	return len(d.connected)
}

func (d *fakeDispatcher) next(t *testing.T) delivery {
	t.Helper()
	select {
	case v := <-d.got:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
		return delivery{}
	}
}

func (d *fakeDispatcher) none(t *testing.T) {
	t.Helper()
	select {
	case v := <-d.got:
		t.Fatalf("unexpected delivery %+v", v)
	case <-time.After(100 * time.Millisecond):
	}
}

// flakyBroker fails Subscribe once failing is set.
type flakyBroker struct {
	*broker.Memory
	failing atomic.Bool
}

var errBrokerDown = errors.New("broker down")

func (b *flakyBroker) Subscribe(ctx context.Context, topic string) (<-chan broker.Message, error) {
	if b.failing.Load() {
		return nil, errBrokerDown
	}
	return b.Memory.Subscribe(ctx, topic)
}

func testConfig(mode Mode) Config {
	cfg := DefaultConfig()
	cfg.Mode = mode
	cfg.Retry = RetryConfig{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	return cfg
}

type runResult struct{ err error }

func startRelay(t *testing.T, r *Relay) (context.CancelFunc, <-chan runResult) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	done := make(chan runResult, 1)
	go func() { done <- runResult{r.Run(ctx)} }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitRun(t *testing.T, done <-chan runResult) error {
	t.Helper()
	select {
	case res := <-done:
		return res.err
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
		return nil
	}
}

func TestRelay_TargetedDeliveryIsVerbatim(t *testing.T) {
	mem := broker.NewMemory(8)
	d := newFakeDispatcher("alice")
	r := New(testConfig(ModeTargeted), mem, d, util.NewManualClock(time.Unix(0, 0)), zaptest.NewLogger(t).Sugar())
	startRelay(t, r)
	assert.Equal(t, StateListening, r.State())

	report := `{"userId":"alice","symbol":"GP","quantity":100,"price":338,"side":"1"}`
	require.NoError(t, mem.Publish(context.Background(), "execution-reports", []byte(report)))

	got := d.next(t)
	assert.Equal(t, "alice", got.userID)
	assert.Equal(t, report, got.payload)
}

func TestRelay_SkipsUndeliverableReports(t *testing.T) {
	mem := broker.NewMemory(8)
	d := newFakeDispatcher("alice")
	r := New(testConfig(ModeTargeted), mem, d, nil, zaptest.NewLogger(t).Sugar())
	startRelay(t, r)

	ctx := context.Background()
	for _, payload := range []string{
		`not json`,
		`[1,2,3]`,
		`null`,
		`{"symbol":"GP"}`,
		`{"userId":42}`,
		`{"userId":"bob","symbol":"GP"}`,
	} {
		require.NoError(t, mem.Publish(ctx, "execution-reports", []byte(payload)))
	}
	require.NoError(t, mem.Publish(ctx, "execution-reports", []byte(`{"userId":"alice"}`)))

	// Only the addressable report for a connected user comes out, and the
	// relay keeps running after the bad ones.
	assert.Equal(t, `{"userId":"alice"}`, d.next(t).payload)
	d.none(t)
	assert.Equal(t, StateListening, r.State())
}

func TestRelay_BroadcastMode(t *testing.T) {
	mem := broker.NewMemory(8)
	d := newFakeDispatcher()
	r := New(testConfig(ModeBroadcast), mem, d, nil, zaptest.NewLogger(t).Sugar())
	startRelay(t, r)

	require.NoError(t, mem.Publish(context.Background(), "execution-reports", []byte(`{"event":"tick"}`)))
	got := d.next(t)
	assert.Empty(t, got.userID)
	assert.Equal(t, `{"event":"tick"}`, got.payload)
}

func TestRelay_ResubscribesAfterTransportLoss(t *testing.T) {
	mem := broker.NewMemory(8)
	clock := util.NewManualClock(time.Unix(0, 0))
	d := newFakeDispatcher("alice")
	r := New(testConfig(ModeTargeted), mem, d, clock, zaptest.NewLogger(t).Sugar())
	startRelay(t, r)

	mem.Disconnect("execution-reports")
	require.Eventually(t, func() bool {
		return mem.Subscribers("execution-reports") == 1 && r.State() == StateListening
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, mem.Publish(context.Background(), "execution-reports", []byte(`{"userId":"alice","n":2}`)))
	assert.Equal(t, `{"userId":"alice","n":2}`, d.next(t).payload)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, clock.Waits())
}

func TestRelay_RetriesExhausted(t *testing.T) {
	fb := &flakyBroker{Memory: broker.NewMemory(8)}
	clock := util.NewManualClock(time.Unix(0, 0))
	r := New(testConfig(ModeTargeted), fb, newFakeDispatcher(), clock, zaptest.NewLogger(t).Sugar())
	_, done := startRelay(t, r)

	fb.failing.Store(true)
	fb.Disconnect("execution-reports")

	err := waitRun(t, done)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, errBrokerDown)
	assert.Equal(t, StateUnsubscribed, r.State())

	// Exponential backoff capped at MaxDelay.
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}, clock.Waits())
}

func TestRelay_StopsOnCancel(t *testing.T) {
	mem := broker.NewMemory(8)
	r := New(testConfig(ModeTargeted), mem, newFakeDispatcher(), nil, zaptest.NewLogger(t).Sugar())
	cancel, done := startRelay(t, r)

	cancel()
	assert.NoError(t, waitRun(t, done))
	assert.Equal(t, StateUnsubscribed, r.State())
}

func TestRelay_StartFailsWhenBrokerUnavailable(t *testing.T) {
	mem := broker.NewMemory(8)
	require.NoError(t, mem.Close())

	r := New(testConfig(ModeTargeted), mem, newFakeDispatcher(), nil, zaptest.NewLogger(t).Sugar())
	err := r.Start(context.Background())
	assert.ErrorIs(t, err, broker.ErrClosed)
	assert.Equal(t, StateUnsubscribed, r.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "resubscribing", StateResubscribing.String())
	assert.Equal(t, "unsubscribed", StateUnsubscribed.String())
}
