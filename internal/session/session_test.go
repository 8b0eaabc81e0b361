package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/devbridge/internal/bootstrap"
	"github.com/coral-mesh/devbridge/internal/protocol"
	"github.com/coral-mesh/devbridge/internal/testutil"
	"github.com/coral-mesh/devbridge/internal/transport"
)

var testScript = bootstrap.Script{Source: "window.agent = true;", Origin: "test"}

// endRecorder collects OnEnd notifications.
type endRecorder struct {
	mu      sync.Mutex
	endings []Ending
	ch      chan Ending
}

func newEndRecorder() *endRecorder {
	return &endRecorder{ch: make(chan Ending, 8)}
}

func (r *endRecorder) onEnd(_ *Session, e Ending) {
	r.mu.Lock()
	r.endings = append(r.endings, e)
	r.mu.Unlock()
	r.ch <- e
}

func (r *endRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.endings)
}

func recvFrame(t *testing.T, ep transport.Endpoint) string {
	t.Helper()
	for {
		select {
		case ev, ok := <-ep.Events():
			require.True(t, ok, "endpoint closed")
			if ev.Kind == transport.EventOpen {
				continue
			}
			require.Equal(t, transport.EventMessage, ev.Kind, "unexpected event %s", ev.Kind)
			return ev.Data
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frame")
			return ""
		}
	}
}

func newTestSession(t *testing.T) (*Session, *transport.PipeEndpoint, *transport.PipeEndpoint, *endRecorder) {
	t.Helper()

	local, target := transport.Pipe()
	t.Cleanup(func() { _ = target.Close() })

	rec := newEndRecorder()
	s, err := New(Config{
		Endpoint:  local,
		Bootstrap: testScript,
		Logger:    testutil.NewTestLogger(t),
		OnEnd:     rec.onEnd,
	})
	require.NoError(t, err)
	return s, local, target, rec
}

func TestNew_DeliversBootstrapOnce(t *testing.T) {
	s, _, target, _ := newTestSession(t)

	assert.Equal(t, StateActive, s.State())
	assert.True(t, s.BootstrapDelivered())
	assert.NotEmpty(t, s.ID())

	assert.Equal(t, protocol.BootstrapFrame(testScript.Source), recvFrame(t, target))

	require.NoError(t, s.Wall().Send(map[string]any{"x": 1}))
	assert.Equal(t, `{"x":1}`, recvFrame(t, target), "bootstrap precedes relay traffic and is not repeated")
}

func TestNew_BootstrapFailure(t *testing.T) {
	local, target := transport.Pipe()
	require.NoError(t, local.Close())
	defer target.Close()

	called := false
	s, err := New(Config{
		Endpoint:  local,
		Bootstrap: testScript,
		Logger:    testutil.NewTestLogger(t),
		OnEnd:     func(*Session, Ending) { called = true },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrEndpointClosed)
	assert.Nil(t, s)
	assert.False(t, called)
}

func TestDeliver_OrderAndFanOut(t *testing.T) {
	s, _, _, _ := newTestSession(t)

	var first, second []any
	s.Wall().Listen(func(p any) { first = append(first, p) })
	s.Wall().Listen(func(p any) { second = append(second, p) })

	const n = 100
	for i := 0; i < n; i++ {
		s.Deliver(float64(i))
	}

	require.Len(t, first, n)
	require.Len(t, second, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, float64(i), first[i])
		assert.Equal(t, float64(i), second[i])
	}
}

func TestDeliver_RegistrationOrder(t *testing.T) {
	s, _, _, _ := newTestSession(t)

	var order []string
	s.Listen(func(any) { order = append(order, "a") })
	s.Listen(func(any) { order = append(order, "b") })
	s.Listen(nil)
	s.Listen(func(any) { order = append(order, "c") })

	s.Deliver("x")
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestDeliver_PanickingListener(t *testing.T) {
	s, _, _, _ := newTestSession(t)

	var got []any
	s.Listen(func(any) { panic("boom") })
	s.Listen(func(p any) { got = append(got, p) })

	assert.NotPanics(t, func() { s.Deliver("x") })
	assert.Equal(t, []any{"x"}, got)
}

func TestEnd_ExactlyOnce(t *testing.T) {
	s, local, _, rec := newTestSession(t)

	assert.True(t, s.End(Ending{Reason: ReasonDisconnected}))
	assert.False(t, s.End(Ending{Reason: ReasonDisconnected}))
	assert.False(t, s.End(Ending{Reason: ReasonPeerClosed}))

	assert.Equal(t, StateTornDown, s.State())
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, ReasonDisconnected, (<-rec.ch).Reason)
	assert.True(t, local.Closed())
}

func TestEnd_EndpointOwnership(t *testing.T) {
	tests := []struct {
		reason     Reason
		wantClosed bool
	}{
		{ReasonPeerClosed, false},
		{ReasonPeerErrored, false},
		{ReasonReplaced, false},
		{ReasonDisconnected, true},
		{ReasonTransportClosed, true},
		{ReasonTransportErrored, true},
		{ReasonHostClosed, true},
	}

	for _, tt := range tests {
		t.Run(tt.reason.String(), func(t *testing.T) {
			s, local, _, _ := newTestSession(t)
			t.Cleanup(func() { _ = local.Close() })

			s.End(Ending{Reason: tt.reason})
			assert.Equal(t, tt.wantClosed, local.Closed())
		})
	}
}

func TestWall_StaleAfterEnd(t *testing.T) {
	s, local, target, _ := newTestSession(t)
	wall := s.Wall()
	recvFrame(t, target) // bootstrap

	var got []any
	wall.Listen(func(p any) { got = append(got, p) })
	assert.False(t, wall.Stale())
	assert.Equal(t, s.ID(), wall.SessionID())

	s.End(Ending{Reason: ReasonPeerClosed})
	assert.True(t, wall.Stale())

	// Stale wall: no deliveries, sends dropped, new listeners ignored.
	s.Deliver("late")
	wall.Listen(func(p any) { got = append(got, p) })
	s.Deliver("later")
	assert.Empty(t, got)

	assert.NoError(t, wall.Send(map[string]any{"x": 1}))
	assert.ErrorIs(t, s.Send("x"), ErrSessionEnded)

	// Nothing reached the target after the session ended.
	require.NoError(t, local.Close())
	for ev := range target.Events() {
		assert.NotEqual(t, transport.EventMessage, ev.Kind, "unexpected frame %q", ev.Data)
	}

	assert.NotPanics(t, wall.Disconnect)
}

func TestSend_NothingWrittenAfterEnd(t *testing.T) {
	const next = "eval:next-session"

	for i := 0; i < 20; i++ {
		s, local, target, _ := newTestSession(t)
		recvFrame(t, target) // bootstrap

		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			for s.Send(map[string]any{"n": i}) == nil {
			}
		}()

		// The endpoint stays open after a peer close, as it does when the
		// target attaches again on the same connection.
		s.End(Ending{Reason: ReasonPeerClosed})
		require.NoError(t, local.Send(next))
		<-stopped

		for {
			frame := recvFrame(t, target)
			if frame == next {
				break
			}
			require.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), frame)
		}

		require.NoError(t, local.Close())
		for ev := range target.Events() {
			require.NotEqual(t, transport.EventMessage, ev.Kind, "frame %q written after the session ended", ev.Data)
		}
	}
}

func TestDeliver_NoneAfterEndReturns(t *testing.T) {
	for i := 0; i < 20; i++ {
		s, _, _, _ := newTestSession(t)

		var ended atomic.Bool
		var late atomic.Int32
		s.Listen(func(any) {
			if ended.Load() {
				late.Add(1)
			}
		})

		delivering := make(chan struct{})
		go func() {
			defer close(delivering)
			for s.Active() {
				s.Deliver("x")
			}
		}()

		s.Wall().Disconnect()
		ended.Store(true)
		<-delivering

		assert.Zero(t, late.Load(), "listener ran after Disconnect returned")
	}
}

func TestWall_DisconnectIsIdempotent(t *testing.T) {
	s, local, _, rec := newTestSession(t)

	s.Wall().Disconnect()
	s.Wall().Disconnect()

	assert.Equal(t, 1, rec.count())
	assert.True(t, local.Closed())
	assert.Equal(t, ReasonDisconnected, (<-rec.ch).Reason)
}

func TestWall_SendEncodingError(t *testing.T) {
	s, _, _, _ := newTestSession(t)

	err := s.Wall().Send(func() {})
	assert.Error(t, err)
	assert.True(t, s.Active())
}

func TestReason(t *testing.T) {
	assert.True(t, ReasonPeerErrored.Errored())
	assert.True(t, ReasonTransportErrored.Errored())
	assert.False(t, ReasonPeerClosed.Errored())
	assert.False(t, ReasonDisconnected.Errored())
	assert.Equal(t, "unknown", Reason(99).String())
	assert.Equal(t, "active", StateActive.String())
}

func TestEnd_CarriesCause(t *testing.T) {
	s, _, _, rec := newTestSession(t)
	cause := errors.New("reset")

	s.End(Ending{Reason: ReasonTransportErrored, Err: cause})

	e := <-rec.ch
	assert.Equal(t, ReasonTransportErrored, e.Reason)
	assert.ErrorIs(t, e.Err, cause)
}
