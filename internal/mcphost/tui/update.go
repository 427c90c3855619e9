package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	runtimesvc "github.com/lexcodex/mcphost/internal/mcphost/runtime"
)

// Init fulfills the Bubble Tea Model interface.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update applies incoming Bubble Tea messages to mutate the Model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			if m.cancelRun != nil {
				m.cancelRun()
			}
			return m, tea.Quit
		case "ctrl+l":
			return m.clearFeed().refreshFeedContent(), nil
		}
		switch m.mode {
		case ModeNormal:
			return m.handleNormalMode(msg)
		case ModeCommand:
			return m.handleCommandMode(msg)
		case ModeConfirm:
			return m.handleConfirmMode(msg)
		}
	case instructionMsg:
		return m.handleInstruction(msg)
	case askDoneMsg:
		return m.handleAskDone(msg)
	case historyMsg:
		return m.handleHistory(msg), nil
	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.statusBar.spinner = m.spinner.View()
		return m, cmd
	}
	return m, nil
}

// handleResize adjusts the feed/input layout on terminal resize events.
func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height

	statusBarHeight := 1
	promptBarHeight := 1
	feedHeight := max(1, msg.Height-statusBarHeight-promptBarHeight)

	if !m.ready {
		v := viewport.New(msg.Width, feedHeight)
		m.feed = &v
		m.ready = true
	} else {
		m.feed.Width = msg.Width
		m.feed.Height = feedHeight
	}
	m.input.Width = max(10, msg.Width-4)
	return m.refreshFeedContent(), nil
}

// handleNormalMode implements the default prompt behavior.
func (m Model) handleNormalMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyRunes {
		if msg.String() == "/" && strings.TrimSpace(m.input.Value()) == "" {
			m.mode = ModeCommand
			m.input.SetValue("/")
			m.input.CursorEnd()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "enter":
		return m.submitPrompt()
	case "esc":
		if m.streaming && m.cancelRun != nil {
			m.cancelRun()
			return m.addSystemMessage("Cancelling…"), nil
		}
		return m, nil
	case "up", "down", "pgup", "pgdown", "home", "end":
		var cmd tea.Cmd
		*m.feed, cmd = m.feed.Update(msg)
		m.autoFollow = m.feed.AtBottom()
		return m, cmd
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

// handleCommandMode processes slash-prefixed commands.
func (m Model) handleCommandMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		raw := strings.TrimSpace(m.input.Value())
		m.input.SetValue("")
		m.mode = ModeNormal
		if raw == "" || raw == "/" {
			return m, nil
		}
		if !strings.HasPrefix(raw, "/") {
			raw = "/" + raw
		}
		cmdName, args := parseCommand(raw)
		if cmdName == "" {
			return m, nil
		}
		return handleCommand(m, cmdName, args)
	case "esc":
		m.mode = ModeNormal
		m.input.SetValue("")
		return m, nil
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

// handleInstruction applies a streamed instruction and keeps listening.
func (m Model) handleInstruction(msg instructionMsg) (tea.Model, tea.Cmd) {
	if !m.streaming {
		return m, nil
	}
	m = m.applyInstruction(msg.instruction).refreshFeedContent()
	return m, listenToStream(m.streamCh)
}

// handleAskDone finalizes the feed once the question has finished.
func (m Model) handleAskDone(msg askDoneMsg) (tea.Model, tea.Cmd) {
	if !m.streaming {
		return m, nil
	}
	// an unflushed segment is abandoned
	m = m.dropPartial()
	if msg.err != nil {
		m = m.addSystemMessage(runtimesvc.UserMessage(msg.err))
	}
	if msg.answer != nil {
		if i := m.lastAgentMessage(); i >= 0 && msg.err == nil {
			m.messages[i].Metadata = MessageMetadata{
				Duration:   msg.answer.Duration,
				TokensUsed: msg.answer.Usage.Total(),
			}
		}
		m.session.TotalTokens += msg.answer.Usage.Total()
		m.session.TotalDuration += msg.answer.Duration
	}

	m.statusBar.tokens = m.session.TotalTokens
	m.statusBar.duration = m.session.TotalDuration
	m.statusBar.streaming = false
	m.statusBar.spinner = ""
	m.statusBar.lastUpdate = time.Now()

	if m.cancelRun != nil {
		m.cancelRun()
	}
	m.streaming = false
	m.live = nil
	m.streamCh = nil
	m.cancelRun = nil
	return m.refreshFeedContent(), nil
}

func (m Model) handleHistory(msg historyMsg) Model {
	if msg.err != nil {
		return m.addSystemMessage(fmt.Sprintf("history unavailable: %v", msg.err))
	}
	if len(msg.transcripts) == 0 {
		return m.addSystemMessage("No questions recorded yet")
	}
	var b strings.Builder
	b.WriteString("Recent questions:\n\n")
	for _, t := range msg.transcripts {
		status := "ok"
		if t.Error != "" {
			status = "failed"
		}
		b.WriteString(fmt.Sprintf("  %s  %s  [%s, %d tools]\n",
			t.StartedAt.Local().Format("01-02 15:04"),
			truncate(t.Question, 60),
			status,
			len(t.Tools),
		))
	}
	return m.addSystemMessage(b.String())
}

func (m Model) addSystemMessage(text string) Model {
	m.messages = append(m.messages, Message{
		ID:        generateID(),
		Timestamp: time.Now(),
		Role:      RoleSystem,
		Text:      text,
	})
	return m.refreshFeedContent()
}

// listenToStream adapts Go channels to Bubble Tea commands for streaming.
func listenToStream(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}
