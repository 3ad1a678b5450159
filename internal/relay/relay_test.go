package relay

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logEntry struct {
	level string
	msg   string
	kv    []any
}

// testLogger implements Logger for testing
type testLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *testLogger) record(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, kv: kv})
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) { l.record("DEBUG", msg, keysAndValues) }
func (l *testLogger) Info(msg string, keysAndValues ...any)  { l.record("INFO", msg, keysAndValues) }
func (l *testLogger) Warn(msg string, keysAndValues ...any)  { l.record("WARN", msg, keysAndValues) }
func (l *testLogger) Error(msg string, keysAndValues ...any) { l.record("ERROR", msg, keysAndValues) }

// anomalies returns the anomaly kinds reported as warnings, in order.
func (l *testLogger) anomalies() []Anomaly {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Anomaly
	for _, e := range l.entries {
		if e.level != "WARN" {
			continue
		}
		for i := 0; i+1 < len(e.kv); i += 2 {
			if e.kv[i] == "anomaly" {
				out = append(out, Anomaly(e.kv[i+1].(string)))
			}
		}
	}
	return out
}

// recordingSink captures every delivered payload.
type recordingSink struct {
	mu       sync.Mutex
	payloads []string
}

func (s *recordingSink) Deliver(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, p)
}

func (s *recordingSink) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.payloads...)
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry[string], *testLogger) {
	t.Helper()
	logger := &testLogger{}

	r, err := New[string](append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)

	return r, logger
}

func TestRegistry_SendBeforeRegisterReturnsPayload(t *testing.T) {
	r, logger := newTestRegistry(t)
	sink := &recordingSink{}

	r.Send("tooltip", "hello")
	assert.True(t, r.HasPending("tooltip"))

	got, ok := r.Register("tooltip", sink)

	require.True(t, ok)
	assert.Equal(t, "hello", got)
	assert.Empty(t, sink.received(), "send must not invoke a sink registered later")
	assert.False(t, r.HasPending("tooltip"), "register consumes the pending payload")
	assert.Empty(t, logger.anomalies())
}

func TestRegistry_SendToRegisteredDelivers(t *testing.T) {
	r, logger := newTestRegistry(t)
	sink := &recordingSink{}

	_, ok := r.Register("dialog", sink)
	require.False(t, ok)

	r.Send("dialog", "content")

	assert.Equal(t, []string{"content"}, sink.received())
	assert.False(t, r.HasPending("dialog"))
	assert.Empty(t, logger.anomalies())
}

func TestRegistry_DuplicateRegisterKeepsFirst(t *testing.T) {
	r, logger := newTestRegistry(t)
	first := &recordingSink{}
	second := &recordingSink{}

	r.Register("header", first)
	got, ok := r.Register("header", second)

	assert.False(t, ok)
	assert.Equal(t, "", got)

	r.Send("header", "title")

	assert.Equal(t, []string{"title"}, first.received())
	assert.Empty(t, second.received())
	assert.Equal(t, []Anomaly{AnomalyDuplicateRegister}, logger.anomalies())
}

func TestRegistry_UnregisterUnknownReportsAnomaly(t *testing.T) {
	r, logger := newTestRegistry(t)

	r.Unregister("missing")
	r.Unregister("missing")

	assert.False(t, r.IsRegistered("missing"))
	assert.Equal(t, []Anomaly{AnomalySpuriousUnregister, AnomalySpuriousUnregister}, logger.anomalies())
	assert.Equal(t, Stats{Channels: []ChannelState{}}, r.Stats())
}

func TestRegistry_UnregisterLeavesPendingAlone(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.Send("status", "queued")
	r.Unregister("status")

	assert.True(t, r.HasPending("status"))
}

func TestRegistry_LastWriteWins(t *testing.T) {
	r, logger := newTestRegistry(t)
	sink := &recordingSink{}

	r.Send("status", "p1")
	r.Send("status", "p2")

	got, ok := r.Register("status", sink)

	require.True(t, ok)
	assert.Equal(t, "p2", got)
	assert.Empty(t, sink.received())
	assert.Equal(t, []Anomaly{AnomalyLostUpdate}, logger.anomalies())
}

func TestRegistry_EndToEnd(t *testing.T) {
	r, logger := newTestRegistry(t)
	s1 := &recordingSink{}
	s2 := &recordingSink{}

	_, ok := r.Register("A", s1)
	assert.False(t, ok, "nothing pending on first registration")

	r.Send("A", "hello")
	assert.Equal(t, []string{"hello"}, s1.received())

	r.Unregister("A")

	r.Send("A", "world")
	assert.Equal(t, []string{"hello"}, s1.received(), "unregistered sink must not be invoked")

	got, ok := r.Register("A", s2)
	require.True(t, ok)
	assert.Equal(t, "world", got)
	assert.Empty(t, s2.received())

	r.Send("A", "again")
	assert.Equal(t, []string{"again"}, s2.received())
	assert.Empty(t, logger.anomalies())
}

func TestRegistry_SinkFunc(t *testing.T) {
	r, _ := newTestRegistry(t)

	var got string
	r.Register("fn", SinkFunc[string](func(p string) { got = p }))
	r.Send("fn", "via func")

	assert.Equal(t, "via func", got)
}

func TestRegistry_NilSink(t *testing.T) {
	r, logger := newTestRegistry(t)

	r.Send("nil", "kept")
	_, ok := r.Register("nil", nil)

	assert.False(t, ok)
	assert.False(t, r.IsRegistered("nil"))
	assert.True(t, r.HasPending("nil"))
	assert.Equal(t, []Anomaly{AnomalyNilSink}, logger.anomalies())
}

func TestRegistry_SinkPanicRecovered(t *testing.T) {
	r, logger := newTestRegistry(t)

	r.Register("boom", SinkFunc[string](func(string) { panic("render failed") }))

	assert.NotPanics(t, func() { r.Send("boom", "x") })
	assert.Equal(t, []Anomaly{AnomalySinkPanic}, logger.anomalies())
	assert.True(t, r.IsRegistered("boom"))
}

func TestRegistry_SinkReentersRegistry(t *testing.T) {
	r, logger := newTestRegistry(t)

	// The sink detaches itself and forwards to another channel.
	r.Register("first", SinkFunc[string](func(p string) {
		r.Unregister("first")
		r.Send("second", p+" forwarded")
	}))

	done := make(chan struct{})
	go func() {
		r.Send("first", "payload")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send deadlocked on re-entrant sink")
	}

	assert.False(t, r.IsRegistered("first"))
	got, ok := r.Register("second", &recordingSink{})
	require.True(t, ok)
	assert.Equal(t, "payload forwarded", got)
	assert.Empty(t, logger.anomalies())
}

func TestRegistry_SendDeliversToReceiverRegisteredMidway(t *testing.T) {
	r, logger := newTestRegistry(t)
	sink := &recordingSink{}

	var registered bool
	r.testHookBeforeBuffer = func(name string) {
		// The lookup found no receiver; one attaches before buffering.
		_, registered = r.Register(name, sink)
		assert.True(t, r.IsRegistered(name))
		assert.False(t, r.HasPending(name))
	}

	r.Send("late", "payload")

	assert.False(t, registered, "nothing was pending when the receiver attached")
	assert.Equal(t, []string{"payload"}, sink.received())
	assert.False(t, r.HasPending("late"), "a registered name is never pending")
	assert.True(t, r.IsRegistered("late"))
	assert.Empty(t, logger.anomalies())
}

func TestRegistry_LockUnavailable(t *testing.T) {
	r, logger := newTestRegistry(t, WithLockTimeout(10*time.Millisecond))
	sink := &recordingSink{}

	require.True(t, r.lock.Lock())

	r.Send("busy", "dropped")
	_, ok := r.Register("busy", sink)
	assert.False(t, ok)
	r.Unregister("busy")

	r.lock.Unlock()

	assert.False(t, r.IsRegistered("busy"), "abandoned register must not mutate state")
	assert.False(t, r.HasPending("busy"), "abandoned send must not buffer")
	assert.Equal(t, []Anomaly{
		AnomalyLockUnavailable,
		AnomalyLockUnavailable,
		AnomalyLockUnavailable,
	}, logger.anomalies())
}

func TestRegistry_ReadsDoNotBlockEachOther(t *testing.T) {
	r, logger := newTestRegistry(t, WithLockTimeout(0))
	sink := &recordingSink{}
	r.Register("shared", sink)

	require.True(t, r.lock.RLock())
	defer r.lock.RUnlock()

	// Delivery only needs a read section.
	r.Send("shared", "while reading")

	assert.Equal(t, []string{"while reading"}, sink.received())
	assert.Empty(t, logger.anomalies())
}

func TestRegistry_Stats(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.Register("b-registered", &recordingSink{})
	r.Send("a-pending", "x")
	r.Send("c-pending", "y")

	stats := r.Stats()

	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, []ChannelState{
		{Name: "a-pending", Pending: true},
		{Name: "b-registered", Registered: true},
		{Name: "c-pending", Pending: true},
	}, stats.Channels)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r, _ := newTestRegistry(t, WithLockTimeout(5*time.Second))

	const workers = 16
	const rounds = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			own := fmt.Sprintf("own-%d", w)
			sink := &recordingSink{}
			for i := 0; i < rounds; i++ {
				r.Send(own, fmt.Sprintf("%d", i))
				r.Register(own, sink)
				r.Send(own, "live")
				r.Unregister(own)

				// Contend on one shared name as well.
				r.Send("shared", own)
				if _, ok := r.Register("shared", sink); ok || r.IsRegistered("shared") {
					r.Unregister("shared")
				}
			}
		}(w)
	}
	wg.Wait()

	// A name is never both registered and pending.
	for _, ch := range r.Stats().Channels {
		assert.False(t, ch.Registered && ch.Pending, "channel %s in both maps", ch.Name)
	}
	for w := 0; w < workers; w++ {
		assert.False(t, r.IsRegistered(fmt.Sprintf("own-%d", w)))
	}
}

func TestRegistry_CountsSkipsWhenBusy(t *testing.T) {
	r, logger := newTestRegistry(t)
	r.Register("a", &recordingSink{})
	r.Send("b", "x")

	active, pending, ok := r.Counts()
	require.True(t, ok)
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, pending)

	require.True(t, r.lock.Lock())
	_, _, ok = r.Counts()
	r.lock.Unlock()

	assert.False(t, ok)
	assert.Empty(t, logger.anomalies(), "counts never reports")
}
