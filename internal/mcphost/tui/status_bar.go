package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// StatusBar summarizes the session: where, which model, how many tool
// servers, and the running token and time totals.
type StatusBar struct {
	workspace  string
	model      string
	servers    int
	streaming  bool
	spinner    string
	tokens     int
	duration   time.Duration
	lastUpdate time.Time
}

func (s StatusBar) View(width int) string {
	left := []string{
		"📁 " + truncate(s.workspace, 20),
		"🤖 " + s.model,
		"🔧 " + pluralize(s.servers, "server"),
	}
	if s.streaming {
		left = append(left, strings.TrimSpace(s.spinner+" answering"))
	}
	leftText := strings.Join(left, " | ")
	rightText := "🪙 " + formatTokens(s.tokens) + " | ⏱️  " + formatDuration(s.duration)
	gap := max(0, width-lipgloss.Width(leftText)-lipgloss.Width(rightText))
	return statusStyle.Render(leftText + strings.Repeat(" ", gap) + rightText)
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func formatTokens(n int) string {
	if n >= 1000 {
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	}
	return fmt.Sprint(n)
}

// truncate shortens s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	switch {
	case n <= 0 || len(r) <= n:
		return s
	case n == 1:
		return string(r[:1])
	default:
		return string(r[:n-1]) + "…"
	}
}
