package preview

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/c360/previewsync/errors"
	"github.com/c360/previewsync/export"
	"github.com/c360/previewsync/message"
	"github.com/c360/previewsync/pkg/backoff"
	"github.com/c360/previewsync/state"
	"github.com/c360/previewsync/testutil"
	"github.com/c360/previewsync/wsclient"
)

func fastClientConfig() wsclient.Config {
	cfg := wsclient.DefaultConfig()
	cfg.Backoff = backoff.Policy{BaseInterval: 5 * time.Millisecond, MaxAttempts: 3}
	cfg.DialTimeout = time.Second
	cfg.WriteTimeout = time.Second
	return cfg
}

func newTestProvider(t *testing.T, server *testutil.Server, opts ...Option) *Provider {
	t.Helper()
	opts = append([]Option{WithClientConfig(fastClientConfig())}, opts...)
	p, err := New("test", server.URL(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestProvider_ConnectAndSendUpdate(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	p := newTestProvider(t, server)
	require.NoError(t, p.Connect(context.Background()))
	assert.Equal(t, state.StatusOpen, p.State().Connection.Status)

	require.NoError(t, p.SendUpdate(map[string]any{"html": "<h1>hello</h1>"}))

	got, ok := server.WaitFor(message.TypeUpdate, 1, 2*time.Second)
	require.True(t, ok)

	var payload map[string]any
	require.NoError(t, got[0].DecodePayload(&payload))
	assert.Equal(t, "<h1>hello</h1>", payload["html"])
}

func TestProvider_SendUpdateQueuedWhileOffline(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	p := newTestProvider(t, server)

	require.NoError(t, p.SendUpdate(map[string]any{"seq": 1}))
	require.NoError(t, p.SendUpdate(map[string]any{"seq": 2}))

	require.NoError(t, p.Connect(context.Background()))

	got, ok := server.WaitFor(message.TypeUpdate, 2, 2*time.Second)
	require.True(t, ok)

	var first, second map[string]any
	require.NoError(t, got[0].DecodePayload(&first))
	require.NoError(t, got[1].DecodePayload(&second))
	assert.Equal(t, float64(1), first["seq"])
	assert.Equal(t, float64(2), second["seq"])
}

func TestProvider_OnUpdateReceivesInboundPayload(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	p := newTestProvider(t, server)

	var mu sync.Mutex
	var updates []json.RawMessage
	p.OnUpdate(func(payload json.RawMessage) {
		mu.Lock()
		updates = append(updates, payload)
		mu.Unlock()
	})

	require.NoError(t, p.Connect(context.Background()))

	env, err := message.New(message.TypeUpdate, map[string]any{"html": "<p>remote</p>"})
	require.NoError(t, err)
	require.NoError(t, server.Send(env))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) == 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(updates[0], &payload))
	assert.Equal(t, "<p>remote</p>", payload["html"])
}

func TestProvider_OnErrorNeverFailsConnection(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	p := newTestProvider(t, server)

	var mu sync.Mutex
	var errs []error
	p.OnError(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})

	require.NoError(t, p.Connect(context.Background()))

	env, err := message.New(message.TypeError, map[string]any{
		"code":    "RENDER_FAILED",
		"message": "template exploded",
	})
	require.NoError(t, err)
	require.NoError(t, server.Send(env))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) == 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Contains(t, errs[0].Error(), "RENDER_FAILED")
	assert.Contains(t, errs[0].Error(), "template exploded")
	mu.Unlock()

	// The remote error is informational only.
	assert.Equal(t, state.StatusOpen, p.State().Connection.Status)
}

func TestProvider_InboundPerformanceReplacesSnapshot(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	p := newTestProvider(t, server)

	var mu sync.Mutex
	var snaps []state.PerformanceSnapshot
	p.OnPerformance(func(s state.PerformanceSnapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})

	require.NoError(t, p.Connect(context.Background()))

	env, err := message.New(message.TypePerformance, map[string]any{
		"renderTimeMs":   12.5,
		"fps":            58.0,
		"componentCount": 7,
		"memoryUsage":    1024,
	})
	require.NoError(t, err)
	require.NoError(t, server.Send(env))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snaps) == 1
	}, 2*time.Second, 5*time.Millisecond)

	snap := p.State().Performance
	assert.Equal(t, 58.0, snap.FPS)
	assert.Equal(t, 7, snap.ComponentCount)
	assert.Equal(t, uint64(1024), snap.MemoryUsage)
	assert.Equal(t, 12500*time.Microsecond, snap.RenderTime)
}

func TestProvider_RemoteExportProgressFoldsMonotonically(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	p := newTestProvider(t, server,
		WithExportOptions(export.WithStepDelay(50*time.Millisecond)))
	require.NoError(t, p.Connect(context.Background()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.ExportPortfolio(context.Background(), export.Options{Type: "pdf"})
	}()

	require.Eventually(t, func() bool {
		return p.State().Export.Active
	}, 2*time.Second, time.Millisecond)

	env, err := message.New(message.TypeExport, map[string]any{
		"status":   "progress",
		"progress": 95,
	})
	require.NoError(t, err)
	require.NoError(t, server.Send(env))

	require.Eventually(t, func() bool {
		return p.State().Export.Progress >= 95
	}, 2*time.Second, 5*time.Millisecond)

	// A stale lower remote progress value never rewinds the job.
	env, err = message.New(message.TypeExport, map[string]any{
		"status":   "progress",
		"progress": 10,
	})
	require.NoError(t, err)
	require.NoError(t, server.Send(env))

	time.Sleep(50 * time.Millisecond)
	assert.GreaterOrEqual(t, p.State().Export.Progress, 95)

	// The simulated local job may have finished already; cancellation is
	// best effort here.
	_ = p.CancelExport()
	<-done
}

func TestProvider_ThrottleCoalescesLatestUpdate(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	p := newTestProvider(t, server,
		WithThrottle(rate.Every(100*time.Millisecond), 1))
	require.NoError(t, p.Connect(context.Background()))

	// First update passes the limiter; the burst is spent, so the rest
	// coalesce into a single deferred flush carrying the latest payload.
	for seq := 1; seq <= 5; seq++ {
		require.NoError(t, p.SendUpdate(map[string]any{"seq": seq}))
	}

	got, ok := server.WaitFor(message.TypeUpdate, 2, 2*time.Second)
	require.True(t, ok)
	require.Len(t, got, 2)

	var first, flushed map[string]any
	require.NoError(t, got[0].DecodePayload(&first))
	require.NoError(t, got[1].DecodePayload(&flushed))
	assert.Equal(t, float64(1), first["seq"])
	assert.Equal(t, float64(5), flushed["seq"])

	// Nothing else trickles out afterwards.
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, server.ReceivedOfType(message.TypeUpdate), 2)
}

func TestProvider_DisconnectMirroredIntoState(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	p := newTestProvider(t, server)
	require.NoError(t, p.Connect(context.Background()))
	require.NoError(t, p.Disconnect())

	require.Eventually(t, func() bool {
		return p.State().Connection.Status == state.StatusClosed
	}, 2*time.Second, time.Millisecond)
}

func TestProvider_Health(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	p := newTestProvider(t, server)

	h := p.Health()
	assert.False(t, h.Healthy)
	assert.False(t, h.ExportActive)
	assert.False(t, h.MonitorEnabled)

	require.NoError(t, p.Connect(context.Background()))
	p.Performance().Enable()

	h = p.Health()
	assert.True(t, h.Healthy)
	assert.True(t, h.MonitorEnabled)
	assert.Equal(t, wsclient.StatusOpen, h.Connection.Status)
}

func TestProvider_ViewOperationsWorkOffline(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	p := newTestProvider(t, server)

	p.View().SetZoom(2.0)
	p.View().SetPan(10, -5)

	snap := p.State()
	assert.Equal(t, 2.0, snap.View.Zoom)
	assert.Equal(t, state.Pan{X: 10, Y: -5}, snap.View.Pan)
	assert.Equal(t, state.StatusClosed, snap.Connection.Status)
}

func TestProvider_CloseRejectsFurtherUse(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	p := newTestProvider(t, server)
	require.NoError(t, p.Connect(context.Background()))
	require.NoError(t, p.Close())

	err := p.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrConnectionClosed))
}
