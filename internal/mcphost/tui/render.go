package tui

import (
	"fmt"
	"strings"
	"time"
)

type roleLabel struct {
	icon, name string
}

var roleLabels = map[MessageRole]roleLabel{
	RoleUser:   {"👤", "You"},
	RoleAgent:  {"🤖", "Assistant"},
	RoleSystem: {"⚙️", "System"},
}

// RenderMessage converts a Message into a styled string for the viewport.
// Tool notices render as a single line between answer segments.
func RenderMessage(msg Message, width int) string {
	if msg.Role == RoleTool {
		return toolStyle.Render("🔧 Running tool: " + msg.Text)
	}
	label, ok := roleLabels[msg.Role]
	if !ok {
		label = roleLabel{"💬", string(msg.Role)}
	}
	lines := []string{
		headerStyle.Render(fmt.Sprintf("%s [%s] %s", label.icon, msg.Timestamp.Format("15:04:05"), label.name)),
	}
	body := textStyle
	if msg.Role == RoleSystem {
		body = dimStyle
	}
	lines = append(lines, body.Render(msg.Text))
	if meta := msg.Metadata; meta.Duration > 0 {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("⏱️  %s | 🪙 %d tokens", formatDuration(meta.Duration), meta.TokensUsed)))
	}
	return boxFor(msg).Width(max(0, width-4)).Render(strings.Join(lines, "\n"))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}
