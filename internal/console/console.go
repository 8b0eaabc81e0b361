// Package console is a terminal UI for the bridge. It implements host.Handler
// by printing status banners, and optionally echoes payloads from the target
// and forwards JSON lines typed by the user.
package console

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/devbridge/internal/constants"
	"github.com/coral-mesh/devbridge/internal/host"
	"github.com/coral-mesh/devbridge/internal/session"
)

// ErrNotConnected is returned by Send while no session is active.
var ErrNotConnected = errors.New("no target connected")

// Config configures a console UI.
type Config struct {
	Out io.Writer

	// SettleDelay postpones the connected banner so that a connect immediately
	// followed by a disconnect does not flash on screen.
	SettleDelay time.Duration

	// Echo prints every payload received from the target.
	Echo bool

	Logger zerolog.Logger
}

type styles struct {
	waiting   lipgloss.Style
	connected lipgloss.Style
	err       lipgloss.Style
	incoming  lipgloss.Style
	outgoing  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		waiting: r.NewStyle().
			Foreground(lipgloss.Color("241")).
			Bold(true),
		connected: r.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true),
		err: r.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true),
		incoming: r.NewStyle().
			Foreground(lipgloss.Color("205")),
		outgoing: r.NewStyle().
			Foreground(lipgloss.Color("11")),
	}
}

// UI renders bridge state to a terminal.
type UI struct {
	cfg    Config
	styles styles
	logger zerolog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	wall      *session.Wall
	settle    *time.Timer
	settleSeq uint64
}

var _ host.Handler = (*UI)(nil)

// New creates a console UI writing to cfg.Out.
func New(cfg Config) *UI {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = constants.DefaultSettleDelay
	}
	return &UI{
		cfg:    cfg,
		styles: newStyles(lipgloss.NewRenderer(cfg.Out)),
		logger: cfg.Logger.With().Str("component", "console").Logger(),
	}
}

// OnConnected shows the connected banner after the settle delay.
func (u *UI) OnConnected(wall *session.Wall) {
	u.mu.Lock()
	u.wall = wall
	u.cancelSettleLocked()
	seq := u.settleSeq
	u.settle = time.AfterFunc(u.cfg.SettleDelay, func() {
		u.mu.Lock()
		if seq != u.settleSeq || u.wall != wall {
			u.mu.Unlock()
			return
		}
		u.settle = nil
		u.mu.Unlock()

		u.println(u.styles.connected.Render("Connected to target") + " " + wall.SessionID())
	})
	u.mu.Unlock()

	if u.cfg.Echo {
		wall.Listen(u.echo)
	}
}

// OnDisconnected shows the waiting banner.
func (u *UI) OnDisconnected() {
	u.reset()
	u.println(u.styles.waiting.Render(host.MessageWaiting))
}

// OnError shows a bind error.
func (u *UI) OnError(message string) {
	u.reset()
	u.println(u.styles.err.Render(message))
}

// Connected reports whether a session is currently active.
func (u *UI) Connected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.wall != nil && !u.wall.Stale()
}

// Send decodes line as JSON and sends it to the target.
func (u *UI) Send(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	var value any
	if err := json.Unmarshal([]byte(line), &value); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	u.mu.Lock()
	wall := u.wall
	u.mu.Unlock()
	if wall == nil || wall.Stale() {
		return ErrNotConnected
	}

	if err := wall.Send(value); err != nil {
		return err
	}
	if u.cfg.Echo {
		u.println(u.styles.outgoing.Render("→ " + line))
	}
	return nil
}

// Disconnect ends the active session, if any.
func (u *UI) Disconnect() {
	u.mu.Lock()
	wall := u.wall
	u.mu.Unlock()
	if wall != nil {
		wall.Disconnect()
	}
}

// ReadCommands forwards each line of r to the target until r is exhausted.
// The line "disconnect" ends the active session. Errors are reported on the
// console and do not stop reading.
func (u *UI) ReadCommands(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "disconnect" {
			u.Disconnect()
			continue
		}
		if err := u.Send(line); err != nil {
			u.println(u.styles.err.Render(err.Error()))
		}
	}
	return scanner.Err()
}

// Close stops any pending redraw.
func (u *UI) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cancelSettleLocked()
}

func (u *UI) reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.wall = nil
	u.cancelSettleLocked()
}

func (u *UI) cancelSettleLocked() {
	u.settleSeq++
	if u.settle != nil {
		u.settle.Stop()
		u.settle = nil
	}
}

func (u *UI) echo(payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		u.logger.Debug().Err(err).Msg("Failed to render payload")
		return
	}
	u.println(u.styles.incoming.Render("← " + string(b)))
}

func (u *UI) println(s string) {
	u.writeMu.Lock()
	defer u.writeMu.Unlock()
	if _, err := fmt.Fprintln(u.cfg.Out, s); err != nil {
		u.logger.Debug().Err(err).Msg("Failed to write to console")
	}
}
