package outlet

import "github.com/charmbracelet/lipgloss"

// Fragment is renderable content relayed to an outlet.
type Fragment interface {
	View() string
}

// Text is a plain string fragment.
type Text string

// View returns the text unchanged.
func (t Text) View() string {
	return string(t)
}

// Styled renders Body through a lipgloss style.
type Styled struct {
	Style lipgloss.Style
	Body  string
}

// View renders the styled body.
func (s Styled) View() string {
	return s.Style.Render(s.Body)
}
