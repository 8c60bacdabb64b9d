package dispatcher

import (
	"errors"
	"sync"
	"testing"

	"github.com/anatoly-dev/game-realtime/pkg/metrics"
	"github.com/anatoly-dev/game-realtime/pkg/models"
	"github.com/anatoly-dev/game-realtime/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func mustAdd(t *testing.T, reg *registry.Registry, conn models.Connection) string {
	t.Helper()
	id, err := reg.Add(conn)
	require.NoError(t, err)
	return id
}

type testTransport struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
	panics bool
}

func (t *testTransport) Send(frame []byte) error {
	if t.panics {
		panic("broken transport")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.frames = append(t.frames, frame)
	return nil
}

func (t *testTransport) Ping() error               { return nil }
func (t *testTransport) Close(reason string) error { return nil }

func (t *testTransport) events(tb testing.TB) []models.Envelope {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Envelope, 0, len(t.frames))
	for _, f := range t.frames {
		var env models.Envelope
		require.NoError(tb, json.Unmarshal(f, &env))
		out = append(out, env)
	}
	return out
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *registry.Registry, *metrics.Metrics) {
	reg := registry.New()
	d := NewDispatcher(reg, "srv-test", zaptest.NewLogger(t))
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	d.SetMetrics(&m.Dispatch)
	return d, reg, m
}

func TestPublishNoSubscribers(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	require.Equal(t, 0, d.Publish(models.GameChannel("nobody"), "generation:progress", nil))
}

func TestPublishFanoutIsolation(t *testing.T) {
	d, reg, m := newTestDispatcher(t)
	ch := models.GameChannel("g1")

	var healthy []*testTransport
	for i := 0; i < 5; i++ {
		tr := &testTransport{}
		if i == 2 {
			tr.err = models.ErrSlowConsumer
		} else {
			healthy = append(healthy, tr)
		}
		id := mustAdd(t, reg, models.Connection{Transport: tr})
		reg.Subscribe(id, ch)
	}

	delivered := d.Publish(ch, "interactive:generation:progress", map[string]interface{}{"gameId": "g1", "percent": 50})
	require.Equal(t, 4, delivered)
	for _, tr := range healthy {
		events := tr.events(t)
		require.Len(t, events, 1)
		require.Equal(t, "interactive:generation:progress", events[0].Event)
		require.Equal(t, "srv-test", events[0].ServerID)
		require.False(t, events[0].Timestamp.IsZero())
		data := events[0].Data.(map[string]interface{})
		require.Equal(t, 50.0, data["percent"])
	}
	require.Equal(t, 1.0, testutil.ToFloat64(m.Dispatch.DeliveryErrors.WithLabelValues("slow_consumer")))
	require.Equal(t, 4.0, testutil.ToFloat64(m.Dispatch.Deliveries))
}

func TestPublishPanickingTransportIsIsolated(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	ch := models.GameChannel("g1")

	ok := &testTransport{}
	reg.Subscribe(mustAdd(t, reg, models.Connection{Transport: &testTransport{panics: true}}), ch)
	reg.Subscribe(mustAdd(t, reg, models.Connection{Transport: ok}), ch)

	require.Equal(t, 1, d.Publish(ch, "x", nil))
	require.Len(t, ok.events(t), 1)
}

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	ch := models.GameChannel("g1")
	tr := &testTransport{}
	reg.Subscribe(mustAdd(t, reg, models.Connection{Transport: tr}), ch)

	for i := 0; i < 20; i++ {
		d.Publish(ch, "tick", map[string]int{"seq": i})
	}
	events := tr.events(t)
	require.Len(t, events, 20)
	for i, env := range events {
		require.Equal(t, float64(i), env.Data.(map[string]interface{})["seq"])
	}
}

func TestPublishSkipsOtherChannels(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	in, out := &testTransport{}, &testTransport{}
	reg.Subscribe(mustAdd(t, reg, models.Connection{Transport: in}), models.GameChannel("g1"))
	reg.Subscribe(mustAdd(t, reg, models.Connection{Transport: out}), models.GameChannel("g2"))

	require.Equal(t, 1, d.Publish(models.GameChannel("g1"), "x", nil))
	require.Empty(t, out.events(t))
}

func TestSendTo(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	tr := &testTransport{}
	id := mustAdd(t, reg, models.Connection{Transport: tr})

	require.NoError(t, d.SendTo(id, models.EventPong, models.PingPayload{Timestamp: 1}))
	require.Equal(t, models.EventPong, tr.events(t)[0].Event)

	require.ErrorIs(t, d.SendTo("missing", models.EventPong, nil), models.ErrNotFound)

	tr.err = models.ErrClosed
	err := d.SendTo(id, models.EventPong, nil)
	require.True(t, errors.Is(err, models.ErrTransport))
}

func TestBroadcast(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	a, b := &testTransport{}, &testTransport{}
	mustAdd(t, reg, models.Connection{Transport: a})
	mustAdd(t, reg, models.Connection{Transport: b})

	require.Equal(t, 2, d.Broadcast(models.EventServerShutdown, models.DisconnectNotice{Reason: "bye", GracefulTimeout: 5000}))
	require.Equal(t, models.EventServerShutdown, a.events(t)[0].Event)
	require.Equal(t, models.EventServerShutdown, b.events(t)[0].Event)
}
