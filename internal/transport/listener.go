package transport

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Listener accepts peers on a bound address.
type Listener interface {
	// Addr returns the bound address.
	Addr() net.Addr

	// Close stops accepting peers. Endpoints already handed out are not closed.
	// Close is idempotent.
	Close() error
}

// ListenConfig configures Listen.
type ListenConfig struct {
	// Addr is the host:port to bind. An empty host binds all interfaces.
	Addr string

	// Path restricts upgrades to a single request path. Empty accepts any path.
	Path string

	Logger zerolog.Logger

	// OnPeer is called with each accepted endpoint. The callee owns the endpoint.
	OnPeer func(Endpoint)

	// OnError is called if the server fails after a successful bind. The error is
	// a *BindError.
	OnError func(error)
}

// WebSocketListener implements Listener with an HTTP server that upgrades every
// matching request to a websocket endpoint.
type WebSocketListener struct {
	cfg      ListenConfig
	ln       net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	closeOnce sync.Once
}

// Listen binds cfg.Addr and starts accepting websocket peers. Bind failures are
// returned as *BindError so callers can tell an occupied port from other causes.
func Listen(cfg ListenConfig) (*WebSocketListener, error) {
	// Bind first so a busy port is reported synchronously.
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, NewBindError(cfg.Addr, err)
	}

	l := &WebSocketListener{
		cfg: cfg,
		ln:  ln,
		upgrader: websocket.Upgrader{
			// Debug targets connect without a browser origin.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: cfg.Logger.With().Str("listen_addr", ln.Addr().String()).Logger(),
	}
	l.server = &http.Server{
		Handler:           http.HandlerFunc(l.handleUpgrade),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go l.serve()

	return l, nil
}

// Addr returns the bound address.
func (l *WebSocketListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops the HTTP server and releases the port.
func (l *WebSocketListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.server.Close()
	})
	return err
}

func (l *WebSocketListener) serve() {
	err := l.server.Serve(l.ln)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}

	l.logger.Error().Err(err).Msg("Websocket server failed")
	if l.cfg.OnError != nil {
		l.cfg.OnError(NewBindError(l.cfg.Addr, err))
	}
}

func (l *WebSocketListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if l.cfg.Path != "" && r.URL.Path != l.cfg.Path {
		http.NotFound(w, r)
		return
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		l.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}

	ep := newWebSocketEndpoint(conn, l.cfg.Logger)
	if l.cfg.OnPeer == nil {
		Discard(ep)
		return
	}
	l.cfg.OnPeer(ep)
}
