package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// confirmation is a pending yes/no question shown in the prompt bar.
type confirmation struct {
	prompt string
	onYes  func(Model) Model
}

func (m Model) askConfirm(prompt string, onYes func(Model) Model) Model {
	m.confirm = &confirmation{prompt: prompt, onYes: onYes}
	m.mode = ModeConfirm
	m.input.SetValue("")
	return m.addSystemMessage(prompt)
}

// handleConfirmMode resolves the pending confirmation with y or n.
func (m Model) handleConfirmMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	pending := m.confirm
	switch msg.String() {
	case "y", "Y", "enter":
		m.confirm = nil
		m.mode = ModeNormal
		if pending != nil && pending.onYes != nil {
			m = pending.onYes(m)
		}
		return m, nil
	case "n", "N", "esc":
		m.confirm = nil
		m.mode = ModeNormal
		return m.addSystemMessage("Cancelled"), nil
	}
	return m, nil
}
