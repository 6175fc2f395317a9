package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

// memBus hands out one buffered channel per bus channel.
type memBus struct {
	chans map[string]chan []byte
}

func newMemBus() *memBus {
	b := &memBus{chans: make(map[string]chan []byte)}
	for _, ch := range Channels {
		b.chans[ch] = make(chan []byte, 16)
	}
	return b
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.chans[channel] <- payload
	return nil
}

func (b *memBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.chans[channel], nil
}

type testHub struct {
	hub *Hub
	bus *memBus
	url string
}

func startHub(t *testing.T, status StatusFunc) *testHub {
	t.Helper()
	bus := newMemBus()
	hub := NewHub(bus, status, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testHub{hub: hub, bus: bus, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (th *testHub) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(th.url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHub_StatusFrameThenEvents(t *testing.T) {
	th := startHub(t, func() any {
		return map[string]any{"running": false, "chain": "ethereum-testnet-sepolia"}
	})
	conn := th.dial(t)

	env := readEnvelope(t, conn)
	assert.Equal(t, "status", env.Type)
	assert.Empty(t, env.Channel)
	assert.JSONEq(t, `{"running":false,"chain":"ethereum-testnet-sepolia"}`, string(env.Payload))

	require.NoError(t, th.bus.Publish(context.Background(), domain.ChannelMarkets, []byte(`{"market_id":5}`)))

	env = readEnvelope(t, conn)
	assert.Equal(t, "event", env.Type)
	assert.Equal(t, domain.ChannelMarkets, env.Channel)
	assert.JSONEq(t, `{"market_id":5}`, string(env.Payload))
}

func TestHub_NoStatusFrameWithoutStatusFunc(t *testing.T) {
	th := startHub(t, nil)
	conn := th.dial(t)

	// The first frame is the event; nothing was queued on connect.
	require.Eventually(t, func() bool { return th.clientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, th.bus.Publish(context.Background(), domain.ChannelCycles, []byte(`{"id":"c1"}`)))

	env := readEnvelope(t, conn)
	assert.Equal(t, "event", env.Type)
	assert.Equal(t, domain.ChannelCycles, env.Channel)
}

func TestHub_UnsubscribeFiltersChannel(t *testing.T) {
	th := startHub(t, func() any { return "ok" })
	conn := th.dial(t)
	assert.Equal(t, "status", readEnvelope(t, conn).Type)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelMarkets}}))
	require.Eventually(t, func() bool {
		return th.allClients(func(c *client) bool { return !c.isSubscribed(domain.ChannelMarkets) })
	}, 2*time.Second, 10*time.Millisecond)

	// Frames pushed straight into the hub are fanned out in order, so a
	// delivered markets frame would arrive before the cycles one.
	th.fanOut(t, domain.ChannelMarkets, `{"market_id":1}`)
	th.fanOut(t, domain.ChannelCycles, `{"id":"c1"}`)

	env := readEnvelope(t, conn)
	assert.Equal(t, domain.ChannelCycles, env.Channel)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "SUBSCRIBE", Channels: []string{"oracle:*"}}))
	require.Eventually(t, func() bool {
		return th.allClients(func(c *client) bool { return c.isSubscribed(domain.ChannelMarkets) })
	}, 2*time.Second, 10*time.Millisecond)

	th.fanOut(t, domain.ChannelMarkets, `{"market_id":2}`)

	env = readEnvelope(t, conn)
	assert.Equal(t, domain.ChannelMarkets, env.Channel)
	assert.JSONEq(t, `{"market_id":2}`, string(env.Payload))
}

func TestClient_IsSubscribed(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelCycles: true, "feeds:*": true}}

	assert.True(t, c.isSubscribed(domain.ChannelCycles))
	assert.False(t, c.isSubscribed(domain.ChannelMarkets))
	assert.True(t, c.isSubscribed("feeds:btc"))
	assert.False(t, c.isSubscribed("feed"))
}

func (th *testHub) fanOut(t *testing.T, channel, payload string) {
	t.Helper()
	frame, err := json.Marshal(envelope{Type: "event", Channel: channel, Payload: json.RawMessage(payload)})
	require.NoError(t, err)
	th.hub.broadcast <- broadcastMsg{channel: channel, data: frame}
}

func (th *testHub) clientCount() int {
	th.hub.mu.RLock()
	defer th.hub.mu.RUnlock()
	return len(th.hub.clients)
}

func (th *testHub) allClients(ok func(*client) bool) bool {
	th.hub.mu.RLock()
	defer th.hub.mu.RUnlock()
	if len(th.hub.clients) == 0 {
		return false
	}
	for c := range th.hub.clients {
		if !ok(c) {
			return false
		}
	}
	return true
}
