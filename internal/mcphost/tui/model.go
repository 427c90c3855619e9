package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lexcodex/mcphost/framework"
	runtimesvc "github.com/lexcodex/mcphost/internal/mcphost/runtime"
	"github.com/lexcodex/mcphost/persistence"
)

// Backend is the slice of the runtime the chat UI depends on.
type Backend interface {
	Ask(ctx context.Context, servers *framework.ServerList, question string, sink framework.Sink, opts ...framework.RenderOption) (*framework.Answer, error)
	Recent(ctx context.Context, limit int) ([]persistence.Transcript, error)
	ModelName() string
	SetModel(name string) error
}

// Settings seeds a new Model.
type Settings struct {
	Workspace string
	Servers   []framework.ToolServerConfig
	Cursor    string
}

// Run bootstraps the chat TUI on top of rt.
func Run(ctx context.Context, rt *runtimesvc.Runtime) error {
	if rt == nil {
		return fmt.Errorf("runtime is required")
	}
	model := NewModel(rt, Settings{
		Workspace: rt.Config.Workspace,
		Servers:   rt.DefaultServers(),
		Cursor:    rt.Config.Cursor,
	})
	program := tea.NewProgram(
		model,
		tea.WithContext(ctx),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	final, err := program.Run()
	if m, ok := final.(Model); ok && m.cancelRun != nil {
		m.cancelRun()
	}
	return err
}

// Model implements the Bubble Tea Model interface and coordinates the feed,
// prompt bar, and status bar.
type Model struct {
	backend Backend
	servers *framework.ServerList
	cursor  string

	feed    *viewport.Model
	input   textinput.Model
	spinner spinner.Model

	statusBar StatusBar

	messages []Message
	session  *Session

	width  int
	height int
	ready  bool

	mode    InputMode
	confirm *confirmation

	streaming bool
	live      *liveAnswer
	streamCh  chan tea.Msg
	cancelRun context.CancelFunc

	autoFollow bool
}

// InputMode tracks the role of the prompt bar.
type InputMode int

const (
	ModeNormal InputMode = iota
	ModeCommand
	ModeConfirm
)

// Message is one entry of the feed.
type Message struct {
	ID        string
	Timestamp time.Time
	Role      MessageRole
	Text      string
	Metadata  MessageMetadata
}

// MessageRole identifies the role of each entry in the feed.
type MessageRole string

const (
	RoleUser   MessageRole = "user"
	RoleAgent  MessageRole = "agent"
	RoleTool   MessageRole = "tool"
	RoleSystem MessageRole = "system"
)

// MessageMetadata contains per-answer metrics (duration, tokens).
type MessageMetadata struct {
	Duration   time.Duration
	TokensUsed int
}

// Session tracks high-level session metadata for the status bar.
type Session struct {
	ID            string
	StartTime     time.Time
	Workspace     string
	TotalTokens   int
	TotalDuration time.Duration
	Questions     int
}

// NewModel initializes the prompt/input/feed model.
func NewModel(backend Backend, settings Settings) Model {
	input := textinput.New()
	input.Placeholder = "Ask a question or /help for commands"
	input.Focus()

	v := viewport.New(0, 0)
	vp := &v

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	session := &Session{
		ID:        fmt.Sprintf("session-%d", time.Now().UnixNano()),
		StartTime: time.Now(),
		Workspace: settings.Workspace,
	}
	servers := framework.NewServerList(settings.Servers...)

	m := Model{
		backend:    backend,
		servers:    servers,
		cursor:     settings.Cursor,
		feed:       vp,
		input:      input,
		spinner:    sp,
		messages:   []Message{},
		session:    session,
		mode:       ModeNormal,
		autoFollow: true,
	}
	m.statusBar = StatusBar{
		workspace:  session.Workspace,
		model:      backend.ModelName(),
		servers:    servers.Len(),
		lastUpdate: time.Now(),
	}
	return m
}

// submitPrompt sends the current input to the backend. An empty tool-server
// list blocks the run with a system message.
func (m Model) submitPrompt() (Model, tea.Cmd) {
	value := strings.TrimSpace(m.input.Value())
	if value == "" {
		return m, nil
	}
	if m.streaming {
		return m.addSystemMessage("A question is already running. Press Esc to cancel it."), nil
	}
	if err := m.servers.Validate(); err != nil {
		return m.addSystemMessage(runtimesvc.UserMessage(err)), nil
	}

	m.messages = append(m.messages, Message{
		ID:        generateID(),
		Timestamp: time.Now(),
		Role:      RoleUser,
		Text:      value,
	})
	m.input.SetValue("")
	m.mode = ModeNormal

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan tea.Msg)
	m.streaming = true
	m.live = newLiveAnswer()
	m.streamCh = ch
	m.cancelRun = cancel
	m.session.Questions++
	m.statusBar.streaming = true
	m = m.refreshFeedContent()

	servers := framework.NewServerList(m.servers.All()...)
	go runAsk(ctx, m.backend, ch, servers, value, m.cursor)
	return m, tea.Batch(listenToStream(ch), m.spinner.Tick)
}

// runAsk executes one question and forwards its instructions. The final
// askDoneMsg is always delivered before ch closes.
func runAsk(ctx context.Context, backend Backend, ch chan<- tea.Msg, servers *framework.ServerList, question, cursor string) {
	defer close(ch)
	sink := framework.SinkFunc(func(in framework.Instruction) error {
		select {
		case ch <- instructionMsg{instruction: in}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	var opts []framework.RenderOption
	if cursor != "" {
		opts = append(opts, framework.WithCursor(cursor))
	}
	answer, err := backend.Ask(ctx, servers, question, sink, opts...)
	ch <- askDoneMsg{answer: answer, err: err}
}

// generateID produces a lightweight unique identifier for feed entries.
func generateID() string {
	return fmt.Sprintf("msg-%d", time.Now().UnixNano())
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// refreshFeedContent ensures the viewport reflects the latest messages.
func (m Model) refreshFeedContent() Model {
	if !m.ready || m.feed == nil {
		return m
	}
	m.feed.SetContent(m.renderMessages())
	if m.autoFollow {
		m.feed.GotoBottom()
	}
	return m
}
