package connectivity

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingListener) OnOffline() { r.add("offline") }
func (r *recordingListener) OnOnline()  { r.add("online") }

func (r *recordingListener) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingListener) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newTestMonitor(p Pinger) *Monitor {
	if p == nil {
		p = PingerFunc(func(context.Context) error { return nil })
	}
	return New(p, 10*time.Millisecond, 50*time.Millisecond, nil)
}

func TestReport_FiresOneEdgePerTransition(t *testing.T) {
	m := newTestMonitor(nil)
	l := &recordingListener{}
	m.Subscribe(l)

	m.Report(true)
	m.Report(false)
	m.Report(false)
	m.Report(true)
	m.Report(true)

	assert.Equal(t, []string{"offline", "online"}, l.Events())
	assert.True(t, m.Online())
}

func TestWasOffline_SurvivesUntilConsumed(t *testing.T) {
	m := newTestMonitor(nil)
	assert.False(t, m.WasOffline())
	assert.False(t, m.ConsumeRestored())

	m.Report(false)
	assert.True(t, m.WasOffline())
	assert.False(t, m.ConsumeRestored(), "still offline, nothing restored yet")

	m.Report(true)
	assert.True(t, m.WasOffline())
	assert.True(t, m.ConsumeRestored())
	assert.False(t, m.ConsumeRestored(), "notice is one-shot")
	assert.False(t, m.WasOffline())
}

func TestSubscribe_Cancel(t *testing.T) {
	m := newTestMonitor(nil)
	l := &recordingListener{}
	cancel := m.Subscribe(l)
	cancel()

	m.Report(false)
	assert.Empty(t, l.Events())
}

func TestProbe_ReportsPingOutcome(t *testing.T) {
	var fail atomic.Bool
	m := newTestMonitor(PingerFunc(func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		require.True(t, hasDeadline, "probe must be bounded by a timeout")
		if fail.Load() {
			return errors.New("connection refused")
		}
		return nil
	}))

	fail.Store(true)
	assert.False(t, m.Probe(context.Background()))
	assert.False(t, m.Online())

	fail.Store(false)
	assert.True(t, m.Probe(context.Background()))
	assert.True(t, m.Online())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	var calls atomic.Int32
	m := newTestMonitor(PingerFunc(func(context.Context) error {
		calls.Add(1)
		return errors.New("down")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, m.Online())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestGRPCHealthPinger(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	p, err := NewGRPCHealthPinger("passthrough:///bufnet", "",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, p.PingContext(ctx))

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	require.ErrorIs(t, p.PingContext(ctx), ErrNotServing)
}
