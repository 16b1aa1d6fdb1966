package broker

import (
	"context"
	"sync"
)

// Memory is an in-process broker. Fan-out is non-blocking: a subscriber whose
// buffer is full misses the message.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Message]struct{}
	buffer int
	closed bool
}

func NewMemory(buffer int) *Memory {
	return &Memory{
		subs:   make(map[string]map[chan Message]struct{}),
		buffer: bufferOrDefault(buffer),
	}
}

func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	for ch := range m.subs[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	ch := make(chan Message, m.buffer)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[chan Message]struct{})
	}
	m.subs[topic][ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.drop(topic, ch)
	}()
	return ch, nil
}

// Disconnect ends every subscription on topic as if the transport had failed.
func (m *Memory) Disconnect(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs[topic] {
		close(ch)
	}
	delete(m.subs, topic)
}

// Subscribers reports how many live subscriptions topic has.
func (m *Memory) Subscribers(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[topic])
}

func (m *Memory) drop(topic string, ch chan Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.subs[topic]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(m.subs, topic)
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for topic, set := range m.subs {
		for ch := range set {
			close(ch)
		}
		delete(m.subs, topic)
	}
	return nil
}
