package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestGossip_LocalDelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a libp2p host")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, err := NewGossip(ctx, GossipConfig{ListenAddr: "/ip4/127.0.0.1/tcp/0"}, 8, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer g.Close()

	ch, err := g.Subscribe(ctx, "execution-reports")
	require.NoError(t, err)

	require.NoError(t, g.Publish(ctx, "execution-reports", []byte(`{"userId":"bob"}`)))
	assert.Equal(t, `{"userId":"bob"}`, string(recv(t, ch).Payload))

	// Joining the same topic again reuses the cached handle.
	_, err = g.Subscribe(ctx, "execution-reports")
	require.NoError(t, err)
}

func TestGossip_BadListenAddr(t *testing.T) {
	_, err := NewGossip(context.Background(), GossipConfig{ListenAddr: "not-a-multiaddr"}, 0, zaptest.NewLogger(t).Sugar())
	assert.Error(t, err)
}
