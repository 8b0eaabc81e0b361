package serve

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/devbridge/internal/bootstrap"
	"github.com/coral-mesh/devbridge/internal/cli/helpers"
	"github.com/coral-mesh/devbridge/internal/config"
	"github.com/coral-mesh/devbridge/internal/protocol"
	"github.com/coral-mesh/devbridge/internal/testutil"
	"github.com/coral-mesh/devbridge/internal/transport"
)

const waitTimeout = 5 * time.Second

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestRoot(t *testing.T, args ...string) (*cobra.Command, *lockedBuffer) {
	t.Helper()

	globals := helpers.NewGlobalOptions()
	root := &cobra.Command{Use: "devbridge", SilenceUsage: true, SilenceErrors: true}
	globals.Bind(root.PersistentFlags())
	root.AddCommand(NewServeCmd(globals))

	out := &lockedBuffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(append([]string{
		"serve",
		"--config", filepath.Join(t.TempDir(), "config.yaml"),
		"--log-level", "error",
	}, args...))
	return root, out
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestOptionsApply(t *testing.T) {
	opts := options{host: "127.0.0.1", port: 9100, path: "/bridge"}
	cmd := NewServeCmd(helpers.NewGlobalOptions())
	require.NoError(t, cmd.Flags().Parse([]string{"--host", "127.0.0.1", "--path", "/bridge"}))

	cfg := config.DefaultConfig()
	opts.apply(cmd, cfg)

	assert.Equal(t, "127.0.0.1", cfg.Serve.Host)
	assert.Equal(t, "/bridge", cfg.Serve.Path)
	assert.Equal(t, 8097, cfg.Serve.Port, "unset flag must not override")
}

func TestServeCmd_InvalidPath(t *testing.T) {
	root, _ := newTestRoot(t, "--path", "bridge")

	err := root.Execute()
	assert.ErrorIs(t, err, config.ErrInvalidPath)
}

func TestServeCmd_BridgesTarget(t *testing.T) {
	port := freePort(t)
	root, out := newTestRoot(t, "--host", "127.0.0.1", "--port", strconv.Itoa(port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	dialCtx, dialCancel := testutil.NewTestContext()
	defer dialCancel()

	var target transport.Endpoint
	require.Eventually(t, func() bool {
		ep, err := transport.Dial(dialCtx, transport.DialConfig{
			URL:    transport.DialURL("127.0.0.1", port, "/"),
			Logger: testutil.NewTestLogger(t),
		})
		if err != nil {
			return false
		}
		target = ep
		return true
	}, waitTimeout, 20*time.Millisecond)
	defer target.Close()

	// The session starts on accept.
	assert.Equal(t, protocol.BootstrapFrame(bootstrap.Embedded().Source), nextFrame(t, target))

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("Connected to target"))
	}, waitTimeout, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("serve did not exit on cancel")
	}
}

func TestServeCmd_PortInUse(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()
	port := taken.Addr().(*net.TCPAddr).Port

	root, out := newTestRoot(t, "--host", "127.0.0.1", "--port", strconv.Itoa(port))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("Another instance of DevTools is running"))
	}, waitTimeout, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("serve did not exit on cancel")
	}
}

func nextFrame(t *testing.T, ep transport.Endpoint) string {
	t.Helper()
	for {
		select {
		case ev, ok := <-ep.Events():
			require.True(t, ok, "endpoint closed")
			if ev.Kind == transport.EventMessage {
				return ev.Data
			}
			require.False(t, ev.Kind.Terminal(), "endpoint ended: %v", ev.Err)
		case <-time.After(waitTimeout):
			t.Fatal("timed out waiting for frame")
		}
	}
}
