package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/devbridge/internal/constants"
)

const (
	// writeTimeout bounds a single frame write.
	writeTimeout = 10 * time.Second

	// closeGracePeriod bounds the close frame written before the socket is torn down.
	closeGracePeriod = 100 * time.Millisecond

	// DefaultHandshakeTimeout is used when DialConfig.HandshakeTimeout is zero.
	DefaultHandshakeTimeout = constants.DefaultHandshakeTimeout
)

// wsEndpoint implements Endpoint over a gorilla/websocket connection.
type wsEndpoint struct {
	id     string
	conn   *websocket.Conn
	events chan Event
	logger zerolog.Logger

	// writeMu serializes data frame writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
}

func newWebSocketEndpoint(conn *websocket.Conn, logger zerolog.Logger) *wsEndpoint {
	id := uuid.New().String()
	ep := &wsEndpoint{
		id:     id,
		conn:   conn,
		events: make(chan Event, eventBufferSize),
		logger: logger.With().Str("endpoint_id", id).Str("remote_addr", conn.RemoteAddr().String()).Logger(),
	}
	ep.events <- Event{Kind: EventOpen}
	go ep.readLoop()
	return ep
}

func (e *wsEndpoint) ID() string {
	return e.id
}

func (e *wsEndpoint) Events() <-chan Event {
	return e.events
}

func (e *wsEndpoint) Send(frame string) error {
	if e.closed.Load() {
		return ErrEndpointClosed
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := e.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		if e.closed.Load() {
			return ErrEndpointClosed
		}
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (e *wsEndpoint) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)

		// Best effort; the peer may already be gone.
		closeMsgErr := e.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		if closeMsgErr != nil {
			e.logger.Debug().Err(closeMsgErr).Msg("Failed to send close frame")
		}

		if err := e.conn.Close(); err != nil {
			e.logger.Debug().Err(err).Msg("Failed to close connection")
		}
	})
	return nil
}

// readLoop is the endpoint's only reader; frames are emitted in arrival order.
func (e *wsEndpoint) readLoop() {
	defer close(e.events)

	for {
		msgType, data, err := e.conn.ReadMessage()
		if err != nil {
			e.events <- e.terminalEvent(err)
			return
		}

		// Control frames are handled by gorilla; binary frames are not part of the protocol.
		if msgType != websocket.TextMessage {
			e.logger.Debug().Int("message_type", msgType).Msg("Ignoring non-text frame")
			continue
		}

		e.events <- Event{Kind: EventMessage, Data: string(data)}
	}
}

func (e *wsEndpoint) terminalEvent(err error) Event {
	if e.closed.Load() {
		return Event{Kind: EventClose}
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return Event{Kind: EventClose}
	}
	return Event{Kind: EventError, Err: err}
}

// DialConfig configures Dial.
type DialConfig struct {
	// URL is the websocket URL to connect to, see DialURL.
	URL string

	// HandshakeTimeout bounds the opening handshake. Zero means DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	Logger zerolog.Logger
}

// Dial opens a websocket endpoint to cfg.URL.
func Dial(ctx context.Context, cfg DialConfig) (Endpoint, error) {
	timeout := cfg.HandshakeTimeout
	if timeout == 0 {
		timeout = DefaultHandshakeTimeout
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.URL, err)
	}

	return newWebSocketEndpoint(conn, cfg.Logger), nil
}

// DialURL builds the websocket URL for a host, port and path,
// e.g. ws://localhost:8081/devtools.
func DialURL(host string, port int, path string) string {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   path,
	}
	return u.String()
}
