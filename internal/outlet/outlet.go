// Package outlet provides a bubbletea component that renders whatever content
// is relayed to its channel name.
//
// An outlet registers with the relay when created and must be closed when it
// leaves the view; otherwise its name stays taken for the life of the registry.
package outlet

import (
	"sync"

	"github.com/OCAP2/elsewhere/internal/channel"
	"github.com/OCAP2/elsewhere/internal/relay"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
)

// DefaultInboxSize is the number of deliveries an outlet queues before it
// starts dropping them.
const DefaultInboxSize = 16

// DeliveryMsg carries a fragment that arrived on an outlet's channel.
// Parents should forward it to every outlet; each outlet ignores messages
// addressed to another outlet.
type DeliveryMsg struct {
	OutletID uuid.UUID
	Channel  string
	Fragment Fragment
}

type delivery struct {
	channel  string
	fragment Fragment
}

// Option configures an Outlet.
type Option func(*Outlet)

// WithStyle wraps the rendered body in style.
func WithStyle(style lipgloss.Style) Option {
	return func(o *Outlet) {
		o.style = style
	}
}

// WithPlaceholder sets the body shown while nothing has been delivered.
func WithPlaceholder(f Fragment) Option {
	return func(o *Outlet) {
		if f != nil {
			o.placeholder = f
		}
	}
}

// WithInboxSize sets how many deliveries may queue between renders.
func WithInboxSize(size int) Option {
	return func(o *Outlet) {
		o.inboxSize = size
	}
}

// WithLogger sets the logger used to report dropped deliveries.
func WithLogger(l relay.Logger) Option {
	return func(o *Outlet) {
		if l != nil {
			o.logger = l
		}
	}
}

// Outlet is a receiver placed somewhere in the view tree.
type Outlet struct {
	id       uuid.UUID
	name     string
	registry *relay.Registry[Fragment]

	inbox     channel.Channel[delivery]
	inboxSize int
	done      chan struct{}
	closeOnce sync.Once

	body        Fragment
	placeholder Fragment
	style       lipgloss.Style
	logger      relay.Logger
}

// New creates an outlet and registers it under name. Content buffered for
// name before the outlet existed becomes its initial body.
func New(registry *relay.Registry[Fragment], name string, opts ...Option) *Outlet {
	o := &Outlet{
		id:          uuid.New(),
		registry:    registry,
		inboxSize:   DefaultInboxSize,
		done:        make(chan struct{}),
		placeholder: Text(""),
		style:       lipgloss.NewStyle(),
		logger:      nopLogger{},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.inbox = channel.New[delivery](o.inboxSize)

	o.attach(name)
	return o
}

// ID returns the outlet's unique id.
func (o *Outlet) ID() uuid.UUID {
	return o.id
}

// Name returns the channel the outlet is addressed by.
func (o *Outlet) Name() string {
	return o.name
}

// Body returns the fragment currently rendered.
func (o *Outlet) Body() Fragment {
	return o.body
}

// Init starts listening for deliveries.
func (o *Outlet) Init() tea.Cmd {
	return o.listen()
}

// Update applies deliveries addressed to this outlet.
func (o *Outlet) Update(msg tea.Msg) (*Outlet, tea.Cmd) {
	d, ok := msg.(DeliveryMsg)
	if !ok || d.OutletID != o.id {
		return o, nil
	}

	// Deliveries queued under a previous name are stale after Rename.
	if d.Channel == o.name && d.Fragment != nil {
		o.body = d.Fragment
	}
	return o, o.listen()
}

// View renders the current body.
func (o *Outlet) View() string {
	return o.style.Render(o.body.View())
}

// Rename re-addresses the outlet. The body is replaced by whatever was
// buffered for the new name, or the placeholder.
func (o *Outlet) Rename(name string) {
	if name == o.name {
		return
	}
	o.registry.Unregister(o.name)
	o.attach(name)
}

// Close unregisters the outlet and stops its listener. Safe to call twice;
// only the first call unregisters.
func (o *Outlet) Close() {
	o.closeOnce.Do(func() {
		o.registry.Unregister(o.name)
		close(o.done)
	})
}

func (o *Outlet) attach(name string) {
	o.name = name
	o.body = o.placeholder
	if f, ok := o.registry.Register(name, &sink{outlet: o, channel: name}); ok && f != nil {
		o.body = f
	}
}

func (o *Outlet) listen() tea.Cmd {
	inbox, done, id := o.inbox, o.done, o.id
	return func() tea.Msg {
		select {
		case d := <-inbox.Receive():
			return DeliveryMsg{OutletID: id, Channel: d.channel, Fragment: d.fragment}
		case <-done:
			return nil
		}
	}
}

// sink is what the registry holds for one registration of an outlet. It runs
// on the sender's goroutine and only touches the inbox.
type sink struct {
	outlet  *Outlet
	channel string
}

func (s *sink) Deliver(f Fragment) {
	select {
	case <-s.outlet.done:
		return
	default:
	}

	if !s.outlet.inbox.TrySend(delivery{channel: s.channel, fragment: f}) {
		s.outlet.logger.Warn("outlet inbox full, dropping delivery",
			"channel", s.channel, "outlet", s.outlet.id.String(), "queued", s.outlet.inbox.Len())
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
