package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/devbridge/internal/bootstrap"
	"github.com/coral-mesh/devbridge/internal/constants"
	"github.com/coral-mesh/devbridge/internal/protocol"
	"github.com/coral-mesh/devbridge/internal/retry"
	"github.com/coral-mesh/devbridge/internal/session"
	"github.com/coral-mesh/devbridge/internal/transport"
)

// DialFunc opens an endpoint. transport.Dial is used when nil.
type DialFunc func(ctx context.Context, cfg transport.DialConfig) (transport.Endpoint, error)

// DialConfig configures ConnectToSocket.
type DialConfig struct {
	// Host defaults to constants.DefaultDialHost.
	Host string

	// Port defaults to constants.DefaultDialPort.
	Port int

	// Path defaults to constants.DefaultDialPath.
	Path string

	HandshakeTimeout time.Duration

	// Retry governs the initial connection attempt. A zero MaxRetries dials once.
	// Once connected the host never redials.
	Retry retry.Config

	Bootstrap bootstrap.Script
	Handler   Handler
	Logger    zerolog.Logger

	Dial DialFunc
}

func (c *DialConfig) applyDefaults() {
	if c.Host == "" {
		c.Host = constants.DefaultDialHost
	}
	if c.Port == 0 {
		c.Port = constants.DefaultDialPort
	}
	if c.Path == "" {
		c.Path = constants.DefaultDialPath
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 1
	}
	if c.Retry.InitialBackoff <= 0 {
		c.Retry.InitialBackoff = constants.DefaultDialRetryBackoff
	}
	if c.Handler == nil {
		c.Handler = NopHandler{}
	}
	if c.Dial == nil {
		c.Dial = transport.Dial
	}
	if c.Bootstrap.Source == "" {
		c.Bootstrap = bootstrap.Embedded()
	}
}

// DialHost is the dial-mode host. It owns one endpoint for its whole life and
// runs sessions on it each time the target attaches.
type DialHost struct {
	cfg    DialConfig
	url    string
	ep     transport.Endpoint
	neg    *protocol.Negotiator
	notify *notifier
	logger zerolog.Logger
	done   chan struct{}

	mu      sync.Mutex
	session *session.Session
	closed  bool
}

// ConnectToSocket dials the target's packager and waits for it to attach. The
// Handler is told OnDisconnected before the first attempt. If no connection
// can be made the error is returned and the Handler stays in the waiting state.
func ConnectToSocket(ctx context.Context, cfg DialConfig) (*DialHost, error) {
	cfg.applyDefaults()

	h := &DialHost{
		cfg:    cfg,
		url:    transport.DialURL(cfg.Host, cfg.Port, cfg.Path),
		neg:    protocol.NewNegotiator(protocol.StateArmed),
		notify: &notifier{handler: cfg.Handler},
		logger: cfg.Logger.With().Str("component", "dial-host").Logger(),
		done:   make(chan struct{}),
	}
	h.logger = h.logger.With().Str("url", h.url).Logger()
	h.notify.disconnected(h.notify.ticket())

	retryCfg := cfg.Retry
	retryCfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		h.logger.Debug().Err(err).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Dial attempt failed, retrying")
	}

	err := retry.Do(ctx, retryCfg, func() error {
		ep, err := cfg.Dial(ctx, transport.DialConfig{
			URL:              h.url,
			HandshakeTimeout: cfg.HandshakeTimeout,
			Logger:           cfg.Logger,
		})
		if err != nil {
			return err
		}
		h.ep = ep
		return nil
	}, func(error) bool {
		return ctx.Err() == nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", h.url, err)
	}

	h.logger.Info().Str("endpoint_id", h.ep.ID()).Msg("Connected, waiting for target to attach")

	go h.run()

	return h, nil
}

// Done is closed once the endpoint has closed and no further session can start.
func (h *DialHost) Done() <-chan struct{} {
	return h.done
}

// URL returns the address the host dialed.
func (h *DialHost) URL() string {
	return h.url
}

// Session returns the active session, or nil.
func (h *DialHost) Session() *session.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// Close ends any active session and closes the endpoint. The Handler is told
// OnDisconnected on the first call only. Close is idempotent.
func (h *DialHost) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	s := h.session
	h.session = nil
	t := h.notify.ticket()
	h.mu.Unlock()

	if s != nil {
		s.End(session.Ending{Reason: session.ReasonHostClosed})
	}
	h.notify.closed(t)

	if err := h.ep.Close(); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to close endpoint")
	}
	return nil
}

// run is the endpoint's only reader.
func (h *DialHost) run() {
	defer close(h.done)

	for ev := range h.ep.Events() {
		switch ev.Kind {
		case transport.EventOpen:
		case transport.EventMessage:
			h.handleFrame(ev.Data)
		case transport.EventClose, transport.EventError:
			h.handleTransportEnd(ev)
		}
	}
}

func (h *DialHost) handleFrame(frame string) {
	sig := h.neg.Next(frame)

	switch sig.Kind {
	case protocol.SignalAttachRequested:
		h.attach()

	case protocol.SignalPayload:
		if s := h.Session(); s != nil {
			s.Deliver(sig.Payload)
		}

	case protocol.SignalPeerClosed, protocol.SignalPeerErrored:
		reason := session.ReasonPeerClosed
		if sig.Kind == protocol.SignalPeerErrored {
			reason = session.ReasonPeerErrored
		}
		if s := h.Session(); s != nil {
			s.End(session.Ending{Reason: reason, Err: sig.Err})
		}

	case protocol.SignalIgnored:
		h.logger.Trace().Msg("Ignoring frame")
	}
}

// attach starts a session. An attach while a session is active replaces it.
func (h *DialHost) attach() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	old := h.session
	h.session = nil
	h.mu.Unlock()

	if old != nil {
		h.logger.Info().Str("session_id", old.ID()).Msg("Target attached again, replacing session")
		old.End(session.Ending{Reason: session.ReasonReplaced})
	}

	s, err := session.New(session.Config{
		Endpoint:  h.ep,
		Bootstrap: h.cfg.Bootstrap,
		Logger:    h.cfg.Logger,
		OnEnd:     h.onSessionEnd,
	})
	if err != nil {
		// The endpoint is unusable; its terminal event finishes the teardown.
		h.logger.Error().Err(err).Msg("Failed to start session")
		if closeErr := h.ep.Close(); closeErr != nil {
			h.logger.Warn().Err(closeErr).Msg("Failed to close endpoint")
		}
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.End(session.Ending{Reason: session.ReasonHostClosed})
		return
	}
	h.session = s
	t := h.notify.ticket()
	h.mu.Unlock()

	h.notify.connected(t, s.Wall())
}

// onSessionEnd reports the waiting state. A replaced session was already
// detached by attach, and Close reports its own state.
func (h *DialHost) onSessionEnd(s *session.Session, _ session.Ending) {
	h.mu.Lock()
	if h.session != s || h.closed {
		h.mu.Unlock()
		return
	}
	h.session = nil
	t := h.notify.ticket()
	h.mu.Unlock()

	h.notify.disconnected(t)
}

func (h *DialHost) handleTransportEnd(ev transport.Event) {
	evt := h.logger.Info()
	reason := session.ReasonTransportClosed
	if ev.Kind == transport.EventError {
		evt = h.logger.Warn().Err(ev.Err)
		reason = session.ReasonTransportErrored
	}
	evt.Msg("Connection to target closed")

	h.mu.Lock()
	s := h.session
	closed := h.closed
	t := h.notify.ticket()
	h.mu.Unlock()

	if s != nil && s.End(session.Ending{Reason: reason, Err: ev.Err}) {
		return
	}
	if !closed {
		h.notify.disconnected(t)
	}
}
