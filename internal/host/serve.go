package host

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/devbridge/internal/bootstrap"
	"github.com/coral-mesh/devbridge/internal/constants"
	"github.com/coral-mesh/devbridge/internal/protocol"
	"github.com/coral-mesh/devbridge/internal/session"
	"github.com/coral-mesh/devbridge/internal/transport"
)

// ListenFunc binds a listener. A wrapper around transport.Listen is used when nil.
type ListenFunc func(cfg transport.ListenConfig) (transport.Listener, error)

func listenWebSocket(cfg transport.ListenConfig) (transport.Listener, error) {
	l, err := transport.Listen(cfg)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ServeConfig configures StartServer.
type ServeConfig struct {
	// Host is the interface to bind. Empty binds all interfaces.
	Host string

	// Port defaults to constants.DefaultServePort.
	Port int

	// Path restricts accepted upgrades to one request path. Empty accepts any.
	Path string

	// RestartDelay is the wait before rebinding after a listen failure.
	// Defaults to constants.DefaultRestartDelay.
	RestartDelay time.Duration

	Bootstrap bootstrap.Script
	Handler   Handler
	Logger    zerolog.Logger

	Listen ListenFunc
}

func (c *ServeConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = constants.DefaultServePort
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = constants.DefaultRestartDelay
	}
	if c.Handler == nil {
		c.Handler = NopHandler{}
	}
	if c.Listen == nil {
		c.Listen = listenWebSocket
	}
	if c.Bootstrap.Source == "" {
		c.Bootstrap = bootstrap.Embedded()
	}
}

// peer is the accepted endpoint and its attach state. The negotiator is only
// touched by the peer's reader.
type peer struct {
	ep  transport.Endpoint
	neg *protocol.Negotiator
}

// ServeHost is the serve-mode host. It admits at most one peer at a time and
// rebinds after listen failures.
type ServeHost struct {
	cfg    ServeConfig
	addr   string
	notify *notifier
	logger zerolog.Logger

	mu       sync.Mutex
	closed   bool
	gen      uint64 // identifies the current listener; stale callbacks are dropped
	listener transport.Listener
	peer     *peer
	session  *session.Session
	occupied bool

	restartSeq   uint64
	restartTimer *time.Timer
}

// StartServer starts listening for a target. Bind failures are reported to the
// Handler and retried after RestartDelay until Close.
func StartServer(cfg ServeConfig) *ServeHost {
	cfg.applyDefaults()

	h := &ServeHost{
		cfg:    cfg,
		addr:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		notify: &notifier{handler: cfg.Handler},
	}
	h.logger = cfg.Logger.With().
		Str("component", "serve-host").
		Str("addr", h.addr).
		Logger()

	h.notify.disconnected(h.notify.ticket())
	h.start()

	return h
}

// Addr returns the bound address, or nil while not listening.
func (h *ServeHost) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Occupied reports whether a peer currently holds the session slot.
func (h *ServeHost) Occupied() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.occupied
}

// Session returns the active session, or nil.
func (h *ServeHost) Session() *session.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// PendingRestart reports whether a rebind is scheduled.
func (h *ServeHost) PendingRestart() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.restartTimer != nil
}

// Close cancels any pending restart, ends the active session, closes the peer
// and the listener, and tells the Handler OnDisconnected. It is idempotent.
func (h *ServeHost) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.cancelRestartLocked()
	l, p, s := h.detachLocked()
	t := h.notify.ticket()
	h.mu.Unlock()

	if s != nil {
		s.End(session.Ending{Reason: session.ReasonHostClosed})
	}
	if p != nil {
		h.closePeer(p)
	}
	if l != nil {
		if err := l.Close(); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to close listener")
		}
	}
	h.notify.closed(t)
	return nil
}

// start binds a fresh listener. Occupancy starts empty.
func (h *ServeHost) start() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.gen++
	gen := h.gen
	h.mu.Unlock()

	l, err := h.cfg.Listen(transport.ListenConfig{
		Addr:    h.addr,
		Path:    h.cfg.Path,
		Logger:  h.cfg.Logger,
		OnPeer:  func(ep transport.Endpoint) { h.handlePeer(gen, ep) },
		OnError: func(err error) { h.handleListenError(gen, err) },
	})
	if err != nil {
		h.handleListenError(gen, err)
		return
	}

	h.mu.Lock()
	if h.closed || gen != h.gen {
		h.mu.Unlock()
		if err := l.Close(); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to close listener")
		}
		return
	}
	h.listener = l
	t := h.notify.ticket()
	h.mu.Unlock()

	h.logger.Info().Str("listen_addr", l.Addr().String()).Msg("Listening for target")
	h.notify.disconnected(t)
}

func (h *ServeHost) handleListenError(gen uint64, err error) {
	h.mu.Lock()
	if h.closed || gen != h.gen {
		h.mu.Unlock()
		return
	}
	h.gen++
	l, p, s := h.detachLocked()
	h.scheduleRestartLocked()
	t := h.notify.ticket()
	h.mu.Unlock()

	h.logger.Error().Err(err).
		Bool("address_in_use", transport.IsAddressInUse(err)).
		Dur("restart_delay", h.cfg.RestartDelay).
		Msg("Failed to start the devtools server")

	if s != nil {
		s.End(session.Ending{Reason: session.ReasonTransportErrored, Err: err})
	}
	if p != nil {
		h.closePeer(p)
	}
	if l != nil {
		if closeErr := l.Close(); closeErr != nil {
			h.logger.Debug().Err(closeErr).Msg("Failed to close failed listener")
		}
	}

	h.notify.errored(t, ErrorMessage(err))
}

// scheduleRestartLocked arms the single restart timer, replacing any pending one.
func (h *ServeHost) scheduleRestartLocked() {
	h.cancelRestartLocked()

	seq := h.restartSeq
	h.restartTimer = time.AfterFunc(h.cfg.RestartDelay, func() {
		h.mu.Lock()
		if h.closed || seq != h.restartSeq {
			h.mu.Unlock()
			return
		}
		h.restartTimer = nil
		h.mu.Unlock()

		h.logger.Info().Msg("Restarting devtools server")
		h.start()
	})
}

func (h *ServeHost) cancelRestartLocked() {
	h.restartSeq++
	if h.restartTimer != nil {
		h.restartTimer.Stop()
		h.restartTimer = nil
	}
}

// detachLocked clears the listener, peer and session and returns them for
// teardown outside the lock.
func (h *ServeHost) detachLocked() (transport.Listener, *peer, *session.Session) {
	l, p, s := h.listener, h.peer, h.session
	h.listener = nil
	h.peer = nil
	h.session = nil
	h.occupied = false
	return l, p, s
}

// handlePeer admits ep if the slot is free. A peer that is connected but idle
// after ending its session gives way to the newcomer.
func (h *ServeHost) handlePeer(gen uint64, ep transport.Endpoint) {
	logger := h.logger.With().Str("endpoint_id", ep.ID()).Logger()

	h.mu.Lock()
	if h.closed || gen != h.gen {
		h.mu.Unlock()
		transport.Discard(ep)
		return
	}
	if h.occupied {
		h.mu.Unlock()
		logger.Warn().Msg("Only one connection allowed at a time")
		transport.Discard(ep)
		return
	}
	idle := h.peer
	p := &peer{ep: ep, neg: protocol.NewNegotiator(protocol.StateAttached)}
	h.peer = p
	h.occupied = true
	h.mu.Unlock()

	if idle != nil {
		logger.Info().Str("idle_endpoint_id", idle.ep.ID()).Msg("Replacing idle peer")
		h.closePeer(idle)
	}

	logger.Info().Msg("Target connected")

	// The session exists before the reader starts so no payload is dropped.
	h.attach(p)
	go h.readPeer(p)
}

// attach opens a session for p, which must hold the slot.
func (h *ServeHost) attach(p *peer) {
	s, err := session.New(session.Config{
		Endpoint:  p.ep,
		Bootstrap: h.cfg.Bootstrap,
		Logger:    h.cfg.Logger,
		OnEnd:     h.onSessionEnd,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("endpoint_id", p.ep.ID()).Msg("Failed to start session")
		h.mu.Lock()
		if h.peer == p {
			h.peer = nil
			h.occupied = false
		}
		h.mu.Unlock()
		h.closePeer(p)
		return
	}

	h.mu.Lock()
	if h.closed || h.peer != p {
		h.mu.Unlock()
		s.End(session.Ending{Reason: session.ReasonHostClosed})
		return
	}
	h.session = s
	h.occupied = true
	t := h.notify.ticket()
	h.mu.Unlock()

	h.notify.connected(t, s.Wall())
}

// onSessionEnd frees the slot. Sessions detached by Close or a listen failure
// are reported by those paths instead.
func (h *ServeHost) onSessionEnd(s *session.Session, _ session.Ending) {
	h.mu.Lock()
	if h.session != s || h.closed {
		h.mu.Unlock()
		return
	}
	h.session = nil
	h.occupied = false
	t := h.notify.ticket()
	h.mu.Unlock()

	h.notify.disconnected(t)
}

// closePeer closes a peer whose reader is already running; the reader drains
// the remaining events.
func (h *ServeHost) closePeer(p *peer) {
	if err := p.ep.Close(); err != nil {
		h.logger.Debug().Err(err).Str("endpoint_id", p.ep.ID()).Msg("Failed to close peer")
	}
}

// readPeer is the peer endpoint's only reader.
func (h *ServeHost) readPeer(p *peer) {
	for ev := range p.ep.Events() {
		switch ev.Kind {
		case transport.EventOpen:
		case transport.EventMessage:
			h.handleFrame(p, ev.Data)
		case transport.EventClose, transport.EventError:
			h.handlePeerEnd(p, ev)
		}
	}
}

func (h *ServeHost) handleFrame(p *peer, frame string) {
	h.mu.Lock()
	if h.peer != p {
		h.mu.Unlock()
		return
	}
	s := h.session
	h.mu.Unlock()

	sig := p.neg.Next(frame)

	switch sig.Kind {
	case protocol.SignalAttachRequested:
		if s != nil {
			h.logger.Debug().Str("session_id", s.ID()).Msg("Ignoring attach while session is active")
			return
		}
		h.mu.Lock()
		if h.closed || h.peer != p || h.occupied {
			h.mu.Unlock()
			return
		}
		h.occupied = true
		h.mu.Unlock()
		h.attach(p)

	case protocol.SignalPayload:
		if s != nil {
			s.Deliver(sig.Payload)
		}

	case protocol.SignalPeerClosed, protocol.SignalPeerErrored:
		reason := session.ReasonPeerClosed
		if sig.Kind == protocol.SignalPeerErrored {
			reason = session.ReasonPeerErrored
		}
		if s != nil {
			s.End(session.Ending{Reason: reason, Err: sig.Err})
		}
	}
}

func (h *ServeHost) handlePeerEnd(p *peer, ev transport.Event) {
	h.mu.Lock()
	if h.peer != p {
		h.mu.Unlock()
		return
	}
	h.peer = nil
	s := h.session
	if s == nil {
		h.occupied = false
	}
	closed := h.closed
	t := h.notify.ticket()
	h.mu.Unlock()

	evt := h.logger.Info()
	reason := session.ReasonTransportClosed
	if ev.Kind == transport.EventError {
		evt = h.logger.Warn().Err(ev.Err)
		reason = session.ReasonTransportErrored
	}
	evt.Str("endpoint_id", p.ep.ID()).Msg("Connection to target closed")

	if s != nil && s.End(session.Ending{Reason: reason, Err: ev.Err}) {
		return
	}
	if !closed {
		h.notify.disconnected(t)
	}
}
