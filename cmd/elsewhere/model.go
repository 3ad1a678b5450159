package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OCAP2/elsewhere/internal/outlet"
	"github.com/OCAP2/elsewhere/internal/relay"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// channel names
const (
	channelHeader     = "header"
	channelTooltip    = "tooltip"
	channelTooltipAlt = "tooltip-alt"
	channelStatus     = "status"
	channelClock      = "clock"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Background(lipgloss.Color("238")).Padding(0, 2)
	tooltipStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	clockStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// model lays out the outlets. Content reaches them only through the registry.
type model struct {
	registry *relay.Registry[outlet.Fragment]

	header  *outlet.Outlet
	tooltip *outlet.Outlet
	status  *outlet.Outlet
	clock   *outlet.Outlet

	headerSends  int
	tooltipSends int
}

func newModel(registry *relay.Registry[outlet.Fragment], opts ...outlet.Option) *model {
	with := func(extra ...outlet.Option) []outlet.Option {
		return append(append([]outlet.Option{}, opts...), extra...)
	}

	return &model{
		registry: registry,
		header: outlet.New(registry, channelHeader, with(
			outlet.WithStyle(headerStyle),
			outlet.WithPlaceholder(outlet.Text("press h to set the header")),
		)...),
		tooltip: outlet.New(registry, channelTooltip, with(
			outlet.WithStyle(tooltipStyle),
			outlet.WithPlaceholder(outlet.Text("press t to send a tooltip")),
		)...),
		status: outlet.New(registry, channelStatus, with(
			outlet.WithStyle(statusStyle),
			outlet.WithPlaceholder(outlet.Text("waiting for status")),
		)...),
		clock: outlet.New(registry, channelClock, with(
			outlet.WithStyle(clockStyle),
		)...),
	}
}

func (m *model) outlets() []*outlet.Outlet {
	return []*outlet.Outlet{m.header, m.tooltip, m.status, m.clock}
}

func (m *model) Init() tea.Cmd {
	var cmds []tea.Cmd
	for _, o := range m.outlets() {
		cmds = append(cmds, o.Init())
	}
	return tea.Batch(cmds...)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case outlet.DeliveryMsg:
		var cmds []tea.Cmd
		for _, o := range m.outlets() {
			_, cmd := o.Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.close()
			return m, tea.Quit
		case "h":
			m.headerSends++
			m.registry.Send(channelHeader, outlet.Styled{
				Style: titleStyle,
				Body:  fmt.Sprintf("elsewhere demo, header update #%d", m.headerSends),
			})
		case "t":
			m.tooltipSends++
			m.registry.Send(channelTooltip, outlet.Text(fmt.Sprintf("tooltip #%d sent from the key handler", m.tooltipSends)))
		case "r":
			m.toggleTooltip()
		}
	}
	return m, nil
}

// toggleTooltip moves the tooltip outlet between its two names. Sends to the
// name it leaves are buffered until it comes back.
func (m *model) toggleTooltip() {
	if m.tooltip.Name() == channelTooltip {
		m.tooltip.Rename(channelTooltipAlt)
		return
	}
	m.tooltip.Rename(channelTooltip)
}

func (m *model) close() {
	for _, o := range m.outlets() {
		o.Close()
	}
}

func (m *model) View() string {
	var b strings.Builder
	b.WriteString(m.header.View())
	b.WriteString("\n\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, m.tooltip.View(), "  ", m.clock.View()))
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("tooltip outlet listens on %q\n", m.tooltip.Name()))
	b.WriteString(m.status.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("h header · t tooltip · r rename tooltip · q quit"))
	return b.String()
}

// runClock sends the current time to the clock channel until ctx is done.
func runClock(ctx context.Context, registry *relay.Registry[outlet.Fragment], interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	registry.Send(channelClock, clockFragment(time.Now()))
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			registry.Send(channelClock, clockFragment(now))
		}
	}
}

func clockFragment(t time.Time) outlet.Fragment {
	return outlet.Text(t.Format("15:04:05"))
}

func statusFragment(stats relay.Stats) outlet.Fragment {
	var pending []string
	for _, ch := range stats.Channels {
		if ch.Pending {
			pending = append(pending, ch.Name)
		}
	}

	line := fmt.Sprintf("receivers: %d  buffered: %d", stats.Active, stats.Pending)
	if len(pending) > 0 {
		line += "  (" + strings.Join(pending, ", ") + ")"
	}
	return outlet.Text(line)
}
