package transport

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenLoopback(t *testing.T, path string) (*WebSocketListener, <-chan Endpoint) {
	t.Helper()

	peers := make(chan Endpoint, 4)
	l, err := Listen(ListenConfig{
		Addr:   "127.0.0.1:0",
		Path:   path,
		Logger: zerolog.Nop(),
		OnPeer: func(ep Endpoint) { peers <- ep },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, peers
}

func dialLoopback(t *testing.T, l *WebSocketListener, path string) Endpoint {
	t.Helper()

	port := l.Addr().(*net.TCPAddr).Port
	ep, err := Dial(context.Background(), DialConfig{
		URL:    DialURL("127.0.0.1", port, path),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ep.Close() })
	return ep
}

func acceptPeer(t *testing.T, peers <-chan Endpoint) Endpoint {
	t.Helper()
	select {
	case ep := <-peers:
		t.Cleanup(func() { _ = ep.Close() })
		return ep
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for peer")
		return nil
	}
}

func TestWebSocket_RoundTrip(t *testing.T) {
	l, peers := listenLoopback(t, "/devtools")
	client := dialLoopback(t, l, "/devtools")
	server := acceptPeer(t, peers)

	assert.Equal(t, EventOpen, nextEvent(t, client).Kind)
	assert.Equal(t, EventOpen, nextEvent(t, server).Kind)
	assert.NotEqual(t, client.ID(), server.ID())

	require.NoError(t, client.Send("attach:agent"))
	ev := nextEvent(t, server)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, "attach:agent", ev.Data)

	for i := 0; i < 10; i++ {
		require.NoError(t, server.Send(strconv.Itoa(i)))
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, strconv.Itoa(i), nextEvent(t, client).Data)
	}
}

func TestWebSocket_CloseIsObservedByPeer(t *testing.T) {
	l, peers := listenLoopback(t, "")
	client := dialLoopback(t, l, "/anything")
	server := acceptPeer(t, peers)
	nextEvent(t, client)
	nextEvent(t, server)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	assert.Equal(t, EventClose, nextEvent(t, server).Kind)
	assert.Equal(t, EventClose, nextEvent(t, client).Kind)
	assert.ErrorIs(t, client.Send("late"), ErrEndpointClosed)
}

func TestWebSocket_PathMismatch(t *testing.T) {
	l, _ := listenLoopback(t, "/devtools")
	port := l.Addr().(*net.TCPAddr).Port

	_, resp, err := websocket.DefaultDialer.Dial(DialURL("127.0.0.1", port, "/other"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestDial_Unreachable(t *testing.T) {
	// Reserve a port and release it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = Dial(ctx, DialConfig{URL: DialURL("127.0.0.1", port, "/devtools"), Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestDialURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8081/devtools", DialURL("localhost", 8081, "/devtools"))
	assert.Equal(t, "ws://[::1]:8097", DialURL("::1", 8097, ""))
}
