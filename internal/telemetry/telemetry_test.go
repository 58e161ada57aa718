package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/mediacore/internal/buildinfo"
	"github.com/tphakala/mediacore/internal/conf"
	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/privacy"
)

func TestLoadOrCreateSystemID(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	first, err := LoadOrCreateSystemID(dir)
	require.NoError(t, err)
	assert.True(t, privacy.IsValidSystemID(first), first)
	second, err := LoadOrCreateSystemID(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second, "stored id is reused")

	require.NoError(t, os.WriteFile(filepath.Join(dir, systemIDFile), []byte("garbage"), 0o600))
	third, err := LoadOrCreateSystemID(dir)
	require.NoError(t, err)
	assert.NotEqual(t, "garbage", third)
	assert.True(t, privacy.IsValidSystemID(third))
}

func TestApplyPrivacyFilters(t *testing.T) {
	t.Parallel()
	event := &sentry.Event{
		ServerName: "studio-laptop",
		Message:    "open /home/alice/a.flac: denied",
		Exception:  []sentry.Exception{{Type: "File I/O Error", Value: "open /home/alice/a.flac: denied"}},
		User:       sentry.User{ID: "42", IPAddress: "10.0.0.1"},
		Contexts:   map[string]sentry.Context{"os": {"name": "linux"}, "codec": {"value": "flac"}},
		Extra:      map[string]any{"component": "codec", "path": "/home/alice/a.flac"},
		Tags:       map[string]string{"hostname": "studio-laptop", "category": "codec"},
	}
	out := applyPrivacyFilters(event)
	assert.Empty(t, out.ServerName)
	assert.True(t, out.User.IsEmpty())
	assert.NotContains(t, out.Contexts, "os")
	assert.Contains(t, out.Contexts, "codec")
	assert.Equal(t, map[string]any{"component": "codec"}, out.Extra)
	assert.Equal(t, map[string]string{"category": "codec"}, out.Tags)
	assert.NotContains(t, out.Message, "alice")
	assert.Contains(t, out.Message, ".flac: denied")
	assert.Equal(t, out.Message, out.Exception[0].Value)
}

func TestInitDisabled(t *testing.T) {
	t.Parallel()
	s := conf.DefaultSettings()
	s.Telemetry.Enabled = false
	shutdown, err := Init(s, buildinfo.NewContext("1.0.0", "", ""))
	require.NoError(t, err)
	shutdown()
}

// captureTransport records events in memory and implements the full
// sentry.Transport interface.
type captureTransport struct {
	mu      sync.Mutex
	events  []*sentry.Event
	flushes int
	closed  bool
}

func (c *captureTransport) Configure(sentry.ClientOptions) {}

func (c *captureTransport) SendEvent(e *sentry.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureTransport) Flush(time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++
	return true
}

func (c *captureTransport) FlushWithContext(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++
	return true
}

func (c *captureTransport) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *captureTransport) snapshot() (events []*sentry.Event, flushes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*sentry.Event(nil), c.events...), c.flushes
}

func TestCaptureTransportFlushWithContext(t *testing.T) {
	t.Parallel()
	tr := &captureTransport{}
	assert.True(t, tr.FlushWithContext(t.Context()))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.False(t, tr.FlushWithContext(ctx), "cancelled context")
	tr.Close()
	assert.True(t, tr.closed)
}

// Not parallel: installs the global Sentry hub and error reporter.
func TestInitInstallsReporter(t *testing.T) {
	s := conf.DefaultSettings()
	s.Telemetry.Enabled = true
	s.Telemetry.DSN = "https://public@example.invalid/1"
	s.Telemetry.Environment = "test"
	tr := &captureTransport{}

	shutdown, err := initWithTransport(s, buildinfo.NewContext("1.0.0", "", "ABCD-0123-EF45"), tr)
	require.NoError(t, err)
	reporter := errors.GetTelemetryReporter()
	require.NotNil(t, reporter)
	assert.True(t, reporter.IsEnabled())

	sentry.CaptureMessage("open /home/alice/a.flac: denied")
	shutdown()
	assert.Nil(t, errors.GetTelemetryReporter())

	events, flushes := tr.snapshot()
	require.Len(t, events, 1)
	assert.NotContains(t, events[0].Message, "alice")
	assert.Positive(t, flushes, "shutdown flushes through the transport")
}
