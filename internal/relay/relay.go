// Package relay routes content to named receivers that may live anywhere in a
// UI tree. Content sent to a name without a receiver is held until one
// registers.
package relay

import (
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// DefaultLockTimeout is how long an operation waits for the registry lock
// before giving up and reporting ErrLockUnavailable.
const DefaultLockTimeout = 250 * time.Millisecond

// Sink receives payloads for a registered channel.
type Sink[T any] interface {
	Deliver(payload T)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc[T any] func(payload T)

// Deliver calls f(payload).
func (f SinkFunc[T]) Deliver(payload T) {
	f(payload)
}

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Option configures a Registry.
type Option func(*config)

type config struct {
	logger      Logger
	lockTimeout time.Duration
	meter       metric.Meter
	perChannel  bool
}

// WithLogger sets the logger anomalies are reported to.
func WithLogger(l Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithLockTimeout bounds how long an operation waits for the registry lock.
// A zero timeout only succeeds when the lock is free.
func WithLockTimeout(d time.Duration) Option {
	return func(c *config) {
		c.lockTimeout = d
	}
}

// WithMeter records registry metrics on m instead of the global meter.
func WithMeter(m metric.Meter) Option {
	return func(c *config) {
		if m != nil {
			c.meter = m
		}
	}
}

// WithChannelMetrics tags the delivery and buffering counters with the channel
// name. Only enable it when the set of channel names is small and fixed.
func WithChannelMetrics() Option {
	return func(c *config) {
		c.perChannel = true
	}
}

// ChannelState describes one channel name known to the registry.
type ChannelState struct {
	Name       string `json:"name"`
	Registered bool   `json:"registered"`
	Pending    bool   `json:"pending"`
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Active   int            `json:"active"`
	Pending  int            `json:"pending"`
	Channels []ChannelState `json:"channels,omitempty"`
}

// Registry maps channel names to receivers and buffers the latest payload
// for names that have none. A name is never both registered and pending.
//
// A Registry is safe for concurrent use. Receivers must call Unregister when
// they go away; a stale registration blocks the name for good.
type Registry[T any] struct {
	lock      *rwLock
	receivers map[string]Sink[T]
	pending   map[string]T

	logger  Logger
	metrics *instruments

	// testHookBeforeBuffer runs between the lookup and buffering sections of Send.
	testHookBeforeBuffer func(name string)
}

// New creates a new Registry.
// Uses the global OTel meter for metrics unless WithMeter is given (no-op if not configured).
func New[T any](opts ...Option) (*Registry[T], error) {
	cfg := &config{
		logger:      nopLogger{},
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.meter == nil {
		cfg.meter = meter()
	}

	r := &Registry[T]{
		lock:      newRWLock(cfg.lockTimeout),
		receivers: make(map[string]Sink[T]),
		pending:   make(map[string]T),
		logger:    cfg.logger,
	}

	in, err := newInstruments(cfg.meter, cfg.perChannel, r.Counts)
	if err != nil {
		return nil, fmt.Errorf("creating relay instruments: %w", err)
	}
	r.metrics = in

	return r, nil
}

// Register installs sink as the receiver for name and returns the payload
// buffered for name, if any.
//
// If name already has a receiver the call is refused: the existing sink stays,
// nothing is returned and the conflict is reported.
func (r *Registry[T]) Register(name string, sink Sink[T]) (T, bool) {
	var zero T

	if sink == nil {
		r.report(AnomalyNilSink, name)
		return zero, false
	}

	if !r.lock.Lock() {
		r.report(AnomalyLockUnavailable, name, "op", "register")
		return zero, false
	}

	if _, exists := r.receivers[name]; exists {
		r.lock.Unlock()
		r.report(AnomalyDuplicateRegister, name)
		return zero, false
	}

	r.receivers[name] = sink
	payload, ok := r.pending[name]
	if ok {
		delete(r.pending, name)
	}
	r.lock.Unlock()

	r.logger.Debug("receiver registered", "channel", name, "pending", ok)
	return payload, ok
}

// Unregister removes the receiver for name. Buffered payloads are left alone.
func (r *Registry[T]) Unregister(name string) {
	if !r.lock.Lock() {
		r.report(AnomalyLockUnavailable, name, "op", "unregister")
		return
	}

	_, exists := r.receivers[name]
	delete(r.receivers, name)
	r.lock.Unlock()

	if !exists {
		r.report(AnomalySpuriousUnregister, name)
		return
	}
	r.logger.Debug("receiver unregistered", "channel", name)
}

// Send delivers payload to the receiver for name, or buffers it until one
// registers. A newer buffered payload replaces an older one.
//
// The sink runs on the caller's goroutine with no registry lock held, so it
// may call back into the registry.
func (r *Registry[T]) Send(name string, payload T) {
	if !r.lock.RLock() {
		r.report(AnomalyLockUnavailable, name, "op", "send")
		return
	}
	sink, ok := r.receivers[name]
	r.lock.RUnlock()

	if ok {
		r.deliver(name, sink, payload)
		return
	}

	if r.testHookBeforeBuffer != nil {
		r.testHookBeforeBuffer(name)
	}

	if !r.lock.Lock() {
		r.report(AnomalyLockUnavailable, name, "op", "send")
		return
	}

	// A receiver may have registered between the two sections.
	if sink, ok := r.receivers[name]; ok {
		r.lock.Unlock()
		r.deliver(name, sink, payload)
		return
	}

	_, overwritten := r.pending[name]
	r.pending[name] = payload
	r.lock.Unlock()

	r.metrics.countBuffered(name)
	if overwritten {
		r.report(AnomalyLostUpdate, name)
		return
	}
	r.logger.Debug("payload buffered", "channel", name)
}

// IsRegistered returns true if name has an active receiver.
func (r *Registry[T]) IsRegistered(name string) bool {
	if !r.lock.RLock() {
		r.report(AnomalyLockUnavailable, name, "op", "is_registered")
		return false
	}
	defer r.lock.RUnlock()
	_, ok := r.receivers[name]
	return ok
}

// HasPending returns true if a payload is buffered for name.
func (r *Registry[T]) HasPending(name string) bool {
	if !r.lock.RLock() {
		r.report(AnomalyLockUnavailable, name, "op", "has_pending")
		return false
	}
	defer r.lock.RUnlock()
	_, ok := r.pending[name]
	return ok
}

// Stats returns a snapshot of all known channels, sorted by name.
func (r *Registry[T]) Stats() Stats {
	if !r.lock.RLock() {
		r.report(AnomalyLockUnavailable, "", "op", "stats")
		return Stats{}
	}

	s := Stats{
		Active:   len(r.receivers),
		Pending:  len(r.pending),
		Channels: make([]ChannelState, 0, len(r.receivers)+len(r.pending)),
	}
	for name := range r.receivers {
		s.Channels = append(s.Channels, ChannelState{Name: name, Registered: true})
	}
	for name := range r.pending {
		s.Channels = append(s.Channels, ChannelState{Name: name, Pending: true})
	}
	r.lock.RUnlock()

	sort.Slice(s.Channels, func(i, j int) bool {
		return s.Channels[i].Name < s.Channels[j].Name
	})
	return s
}

// Counts returns the number of registered receivers and buffered payloads.
// It never waits for the lock and never reports, so it is safe to call from
// logging and metrics callbacks; ok is false when the registry is busy.
func (r *Registry[T]) Counts() (active, pending int, ok bool) {
	if !r.lock.TryRLock() {
		return 0, 0, false
	}
	defer r.lock.RUnlock()
	return len(r.receivers), len(r.pending), true
}

func (r *Registry[T]) deliver(name string, sink Sink[T], payload T) {
	defer func() {
		if rec := recover(); rec != nil {
			r.report(AnomalySinkPanic, name, "panic", fmt.Sprint(rec))
		}
	}()

	sink.Deliver(payload)
	r.metrics.countDelivered(name)
}

func (r *Registry[T]) report(kind Anomaly, name string, keysAndValues ...any) {
	kv := make([]any, 0, 6+len(keysAndValues))
	kv = append(kv, "channel", name, "anomaly", string(kind), "error", kind.Err())
	kv = append(kv, keysAndValues...)
	r.logger.Warn(kind.message(), kv...)
	r.metrics.countAnomaly(kind)
}
