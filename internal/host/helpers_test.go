package host

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/devbridge/internal/bootstrap"
	"github.com/coral-mesh/devbridge/internal/session"
	"github.com/coral-mesh/devbridge/internal/transport"
)

const waitTimeout = 2 * time.Second

var testScript = bootstrap.Script{Source: "window.agent = 1;", Origin: "test"}

type uiEvent struct {
	kind    string
	wall    *session.Wall
	message string
}

// recordingHandler forwards every callback to a channel.
type recordingHandler struct {
	events chan uiEvent
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{events: make(chan uiEvent, 64)}
}

func (r *recordingHandler) OnConnected(wall *session.Wall) {
	r.events <- uiEvent{kind: "connected", wall: wall}
}

func (r *recordingHandler) OnDisconnected() {
	r.events <- uiEvent{kind: "disconnected"}
}

func (r *recordingHandler) OnError(message string) {
	r.events <- uiEvent{kind: "error", message: message}
}

func (r *recordingHandler) expect(t *testing.T, kind string) uiEvent {
	t.Helper()
	select {
	case ev := <-r.events:
		require.Equal(t, kind, ev.kind, "unexpected handler callback")
		return ev
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", kind)
		return uiEvent{}
	}
}

func (r *recordingHandler) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-r.events:
		t.Fatalf("unexpected handler callback %s %q", ev.kind, ev.message)
	case <-time.After(wait):
	}
}

// settle collects callbacks until none arrives for quiet.
func (r *recordingHandler) settle(quiet time.Duration) []uiEvent {
	var events []uiEvent
	for {
		select {
		case ev := <-r.events:
			events = append(events, ev)
		case <-time.After(quiet):
			return events
		}
	}
}

// target is the debug-target side of an in-memory endpoint.
type target struct {
	ep *transport.PipeEndpoint
}

func (tg target) send(t *testing.T, frame string) {
	t.Helper()
	require.NoError(t, tg.ep.Send(frame))
}

// recv returns the next frame, skipping the open event.
func (tg target) recv(t *testing.T) string {
	t.Helper()
	for {
		select {
		case ev, ok := <-tg.ep.Events():
			require.True(t, ok, "target endpoint closed")
			switch ev.Kind {
			case transport.EventOpen:
				continue
			case transport.EventMessage:
				return ev.Data
			default:
				t.Fatalf("unexpected %s event on target", ev.Kind)
			}
		case <-time.After(waitTimeout):
			t.Fatal("timed out waiting for frame")
		}
	}
}

// expectClosed waits for the target to observe the connection closing.
func (tg target) expectClosed(t *testing.T) {
	t.Helper()
	for {
		select {
		case ev, ok := <-tg.ep.Events():
			if !ok || ev.Kind.Terminal() {
				return
			}
			if ev.Kind == transport.EventMessage {
				t.Fatalf("unexpected frame %q before close", ev.Data)
			}
		case <-time.After(waitTimeout):
			t.Fatal("timed out waiting for close")
		}
	}
}

// payloadCollector is a Wall listener that forwards payloads to a channel.
type payloadCollector chan any

func (c payloadCollector) listen(p any) {
	c <- p
}

func (c payloadCollector) expect(t *testing.T, want any) {
	t.Helper()
	select {
	case got := <-c:
		require.Equal(t, want, got)
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for payload %v", want)
	}
}

// fakeListener records Close and hands out a fixed address.
type fakeListener struct {
	closed atomic.Bool
}

func (l *fakeListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
}

func (l *fakeListener) Close() error {
	l.closed.Store(true)
	return nil
}

// fakeNetwork implements ListenFunc. Each call consumes the next queued error;
// once the queue is empty, calls succeed.
type fakeNetwork struct {
	mu        sync.Mutex
	errs      []error
	calls     int
	configs   []transport.ListenConfig
	listeners []*fakeListener
	bound     chan struct{}
}

func newFakeNetwork(errs ...error) *fakeNetwork {
	return &fakeNetwork{errs: errs, bound: make(chan struct{}, 16)}
}

func (n *fakeNetwork) listen(cfg transport.ListenConfig) (transport.Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls++
	if len(n.errs) > 0 {
		err := n.errs[0]
		n.errs = n.errs[1:]
		return nil, err
	}

	l := &fakeListener{}
	n.configs = append(n.configs, cfg)
	n.listeners = append(n.listeners, l)
	n.bound <- struct{}{}
	return l, nil
}

func (n *fakeNetwork) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

// current returns the config and listener of the latest successful bind.
func (n *fakeNetwork) current(t *testing.T) (transport.ListenConfig, *fakeListener) {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.configs, "nothing bound")
	return n.configs[len(n.configs)-1], n.listeners[len(n.listeners)-1]
}

func (n *fakeNetwork) waitBound(t *testing.T) {
	t.Helper()
	select {
	case <-n.bound:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for bind")
	}
}

// connect simulates a target connecting to the latest listener.
func (n *fakeNetwork) connect(t *testing.T) target {
	t.Helper()
	cfg, _ := n.current(t)

	local, remote := transport.Pipe()
	t.Cleanup(func() { _ = remote.Close() })
	cfg.OnPeer(local)
	return target{ep: remote}
}
