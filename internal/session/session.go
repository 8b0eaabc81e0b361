// Package session owns the lifecycle of one logical debug session on an endpoint.
//
// A Session delivers the bootstrap exactly once on construction, relays payloads
// between the target and the registered listeners while Active, and ends exactly
// once. The UI consumes it through a Wall, which becomes inert when the session
// ends.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/devbridge/internal/bootstrap"
	"github.com/coral-mesh/devbridge/internal/protocol"
	"github.com/coral-mesh/devbridge/internal/transport"
)

// ErrSessionEnded is returned by Send once the session is torn down.
var ErrSessionEnded = errors.New("session ended")

// State is a session lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateBootstrapSent
	StateActive
	StateTornDown
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBootstrapSent:
		return "bootstrap_sent"
	case StateActive:
		return "active"
	case StateTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// Reason says why a session ended.
type Reason int

const (
	// ReasonPeerClosed: the target sent a close marker.
	ReasonPeerClosed Reason = iota

	// ReasonPeerErrored: the target sent an error marker or an undecodable frame.
	ReasonPeerErrored

	// ReasonDisconnected: the UI called Wall.Disconnect.
	ReasonDisconnected

	// ReasonTransportClosed: the endpoint closed underneath the session.
	ReasonTransportClosed

	// ReasonTransportErrored: the endpoint failed underneath the session.
	ReasonTransportErrored

	// ReasonReplaced: a new attach on the same endpoint superseded the session.
	ReasonReplaced

	// ReasonHostClosed: the owning host was closed.
	ReasonHostClosed
)

// String returns a string representation of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonPeerClosed:
		return "peer_closed"
	case ReasonPeerErrored:
		return "peer_errored"
	case ReasonDisconnected:
		return "disconnected"
	case ReasonTransportClosed:
		return "transport_closed"
	case ReasonTransportErrored:
		return "transport_errored"
	case ReasonReplaced:
		return "replaced"
	case ReasonHostClosed:
		return "host_closed"
	default:
		return "unknown"
	}
}

// Errored reports whether the session ended because of a fault rather than a close.
func (r Reason) Errored() bool {
	return r == ReasonPeerErrored || r == ReasonTransportErrored
}

// closesEndpoint reports whether ending for r closes the endpoint. Protocol-level
// ends and replacement keep it open so the target can attach again on the same
// connection.
func (r Reason) closesEndpoint() bool {
	switch r {
	case ReasonPeerClosed, ReasonPeerErrored, ReasonReplaced:
		return false
	default:
		return true
	}
}

// Ending describes how a session ended.
type Ending struct {
	Reason Reason

	// Err is the underlying cause, if any.
	Err error
}

// Listener receives decoded payloads from the target. Listeners run on the
// endpoint's reader while the session holds its delivery lock, so a listener
// must not end the session synchronously.
type Listener func(payload any)

// Config configures a new Session.
type Config struct {
	// Endpoint carries the session. The session closes it on explicit or
	// transport-level teardown.
	Endpoint transport.Endpoint

	// Bootstrap is sent to the target once, before any payload.
	Bootstrap bootstrap.Script

	Logger zerolog.Logger

	// OnEnd is called exactly once when the session ends, outside any session lock.
	OnEnd func(*Session, Ending)
}

// Session is one logical debug session. All methods are safe for concurrent use.
type Session struct {
	id     string
	ep     transport.Endpoint
	logger zerolog.Logger
	onEnd  func(*Session, Ending)
	wall   *Wall

	state              atomic.Int32
	bootstrapDelivered bool

	// sendMu orders writes against End: once End returns no frame from this
	// session reaches the endpoint. deliverMu does the same for listeners.
	sendMu    sync.Mutex
	deliverMu sync.Mutex

	mu        sync.Mutex
	listeners []Listener
}

// New creates a session on cfg.Endpoint and delivers the bootstrap. The returned
// session is Active. If the bootstrap cannot be sent the session is TornDown,
// OnEnd is not called and the error is returned; the caller still owns the endpoint.
func New(cfg Config) (*Session, error) {
	id := uuid.New().String()
	s := &Session{
		id: id,
		ep: cfg.Endpoint,
		logger: cfg.Logger.With().
			Str("session_id", id).
			Str("endpoint_id", cfg.Endpoint.ID()).
			Logger(),
		onEnd: cfg.OnEnd,
	}
	s.wall = &Wall{s: s}
	s.state.Store(int32(StateCreated))

	if err := s.ep.Send(protocol.BootstrapFrame(cfg.Bootstrap.Source)); err != nil {
		s.state.Store(int32(StateTornDown))
		return nil, fmt.Errorf("failed to deliver bootstrap: %w", err)
	}
	s.bootstrapDelivered = true
	s.state.Store(int32(StateBootstrapSent))

	s.logger.Debug().
		Str("bootstrap_origin", cfg.Bootstrap.Origin).
		Str("bootstrap_digest", cfg.Bootstrap.Digest()).
		Int("bootstrap_bytes", cfg.Bootstrap.Size()).
		Msg("Bootstrap delivered")

	s.state.Store(int32(StateActive))
	s.logger.Info().Msg("Session active")

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Active reports whether the session is Active.
func (s *Session) Active() bool {
	return s.State() == StateActive
}

// BootstrapDelivered reports whether the bootstrap frame was sent.
func (s *Session) BootstrapDelivered() bool {
	return s.bootstrapDelivered
}

// Endpoint returns the endpoint carrying the session.
func (s *Session) Endpoint() transport.Endpoint {
	return s.ep
}

// Wall returns the session's UI capability. Every session has its own Wall.
func (s *Session) Wall() *Wall {
	return s.wall
}

// Listen appends fn to the listeners. It has no effect once the session ended.
func (s *Session) Listen(fn Listener) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Active() {
		return
	}
	s.listeners = append(s.listeners, fn)
}

// Deliver hands payload to every listener in registration order, synchronously.
// It is a no-op once the session ended, and stops early if the session ends
// mid-delivery. A panicking listener is logged and does not prevent delivery
// to the others.
func (s *Session) Deliver(payload any) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if !s.Active() {
		return
	}

	s.mu.Lock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for i, fn := range listeners {
		if !s.Active() {
			return
		}
		s.invoke(i, fn, payload)
	}
}

func (s *Session) invoke(index int, fn Listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Int("listener", index).
				Interface("panic", r).
				Msg("Payload listener panicked")
		}
	}()
	fn(payload)
}

// Send encodes data as JSON and writes it to the target. The write cannot
// overlap End, so a frame is never sent after the session ended.
func (s *Session) Send(data any) error {
	frame, err := protocol.EncodePayload(data)
	if err != nil {
		if !s.Active() {
			return ErrSessionEnded
		}
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if !s.Active() {
		return ErrSessionEnded
	}
	if err := s.ep.Send(frame); err != nil {
		return fmt.Errorf("failed to send payload: %w", err)
	}
	return nil
}

// End tears the session down. Only the first call has an effect: it waits for
// an in-flight Send or Deliver, marks the session TornDown, closes the endpoint
// when the reason requires it, and calls OnEnd. It reports whether this call
// ended the session.
func (s *Session) End(ending Ending) bool {
	s.sendMu.Lock()
	ended := s.state.CompareAndSwap(int32(StateActive), int32(StateTornDown))
	s.sendMu.Unlock()
	if !ended {
		return false
	}

	// Wait out a delivery that started before the state changed.
	//nolint:staticcheck // SA2001: the empty critical section is the wait.
	s.deliverMu.Lock()
	s.deliverMu.Unlock()

	s.mu.Lock()
	s.listeners = nil
	s.mu.Unlock()

	evt := s.logger.Info()
	if ending.Reason.Errored() {
		evt = s.logger.Warn()
	}
	evt.Str("reason", ending.Reason.String()).Err(ending.Err).Msg("Session ended")

	if ending.Reason.closesEndpoint() {
		if err := s.ep.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close endpoint")
		}
	}

	if s.onEnd != nil {
		s.onEnd(s, ending)
	}
	return true
}
