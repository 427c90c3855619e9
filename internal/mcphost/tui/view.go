package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const welcomeText = "Welcome! Ask a question, or use /servers to see the tool servers."

// View stacks the feed, the prompt bar and the status bar.
func (m Model) View() string {
	if !m.ready || m.feed == nil {
		return "Initializing..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.feed.View(),
		m.promptBar(),
		m.statusBar.View(m.width),
	)
}

func (m Model) renderMessages() string {
	if len(m.messages) == 0 {
		return welcomeStyle.Render(welcomeText)
	}
	var b strings.Builder
	for i, msg := range m.messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(RenderMessage(msg, m.width))
	}
	return b.String()
}

// promptBar shows the input with a mode-specific prefix and key hint, or the
// pending confirmation question.
func (m Model) promptBar() string {
	bar := promptBarStyle.Width(m.width)
	if m.mode == ModeConfirm {
		question := "Confirm? (y/n)"
		if m.confirm != nil {
			question = m.confirm.prompt
		}
		return bar.Render(confirmStyle.Render(question))
	}
	prefix, hint := "> ", "/ for commands | ctrl+l to clear"
	switch {
	case m.mode == ModeCommand:
		prefix, hint = "/ ", "Enter to run | Esc to cancel"
	case m.streaming:
		hint = "Esc to cancel"
	}
	return bar.Render(prefix + m.input.View() + "  " + dimStyle.Render(hint))
}
