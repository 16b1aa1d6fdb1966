package broker

import (
	"context"
	"fmt"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

// GossipConfig configures the libp2p gossipsub adapter.
type GossipConfig struct {
	ListenAddr string   `mapstructure:"listen_addr"` // multiaddr, e.g. /ip4/0.0.0.0/tcp/4001
	Bootstrap  []string `mapstructure:"bootstrap"`   // full p2p multiaddrs of peers
}

// Gossip relays topics over a gossipsub mesh. Messages published locally are
// also delivered to local subscribers, so a single node works on its own.
type Gossip struct {
	h      host.Host
	ps     *pubsub.PubSub
	buffer int
	log    *zap.SugaredLogger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	closed bool
}

func NewGossip(ctx context.Context, cfg GossipConfig, buffer int, log *zap.SugaredLogger) (*Gossip, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("gossip listen addr: %w", err)
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	log.Infow("gossip_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr, "bootstrap", len(cfg.Bootstrap))
	return &Gossip{
		h:      h,
		ps:     ps,
		buffer: bufferOrDefault(buffer),
		log:    log,
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

// Host exposes the libp2p host, e.g. to print its address for peers.
func (g *Gossip) Host() host.Host { return g.h }

// join returns the topic handle, joining on first use. PubSub.Join fails if
// the same topic is joined twice, so handles are cached.
func (g *Gossip) join(topic string) (*pubsub.Topic, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrClosed
	}
	if t, ok := g.topics[topic]; ok {
		return t, nil
	}
	t, err := g.ps.Join(topic)
	if err != nil {
		return nil, fmt.Errorf("gossip join %s: %w", topic, err)
	}
	g.topics[topic] = t
	return t, nil
}

func (g *Gossip) Publish(ctx context.Context, topic string, payload []byte) error {
	t, err := g.join(topic)
	if err != nil {
		return err
	}
	if err := t.Publish(ctx, payload); err != nil {
		return fmt.Errorf("gossip publish %s: %w", topic, err)
	}
	return nil
}

func (g *Gossip) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	t, err := g.join(topic)
	if err != nil {
		return nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("gossip subscribe %s: %w", topic, err)
	}

	out := make(chan Message, g.buffer)
	go func() {
		defer close(out)
		defer sub.Cancel()
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				if ctx.Err() == nil {
					g.log.Warnw("gossip_subscription_lost", "topic", topic, "err", err)
				}
				return
			}
			select {
			case out <- Message{Topic: topic, Payload: msg.Data}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (g *Gossip) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()
	return g.h.Close()
}
