package tui

import "github.com/charmbracelet/lipgloss"

// palette holds the terminal colors shared by every view.
var palette = struct {
	accent, ok, warn, muted, bar, prompt, fg lipgloss.Color
}{
	accent: lipgloss.Color("39"),
	ok:     lipgloss.Color("86"),
	warn:   lipgloss.Color("220"),
	muted:  lipgloss.Color("241"),
	bar:    lipgloss.Color("235"),
	prompt: lipgloss.Color("237"),
	fg:     lipgloss.Color("255"),
}

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(1, 2).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(palette.accent)
	textStyle   = lipgloss.NewStyle()
	dimStyle    = lipgloss.NewStyle().Foreground(palette.muted)

	toolStyle = lipgloss.NewStyle().
			Foreground(palette.warn).
			Italic(true).
			PaddingLeft(2)

	statusStyle = lipgloss.NewStyle().
			Background(palette.bar).
			Foreground(palette.fg).
			Padding(0, 1)

	promptBarStyle = lipgloss.NewStyle().Background(palette.prompt).Padding(0, 1)
	confirmStyle   = lipgloss.NewStyle().Bold(true).Foreground(palette.ok)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(palette.muted).
			Italic(true).
			Align(lipgloss.Center)
)

// boxFor picks the message frame; the in-progress answer gets the accent
// border and system messages the warning one.
func boxFor(msg Message) lipgloss.Style {
	switch {
	case msg.ID == streamingID:
		return boxStyle.BorderForeground(palette.accent)
	case msg.Role == RoleSystem:
		return boxStyle.BorderForeground(palette.warn)
	default:
		return boxStyle.BorderForeground(palette.muted)
	}
}
