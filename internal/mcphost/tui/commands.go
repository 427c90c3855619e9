package tui

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lexcodex/mcphost/framework"
)

// CommandHandler mutates model state for /commands in the prompt bar.
type CommandHandler func(Model, []string) (Model, tea.Cmd)

// Command describes a slash command entry.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Handler     CommandHandler
}

var commandRegistry = map[string]Command{}

func init() {
	registerCommand(Command{
		Name:        "help",
		Aliases:     []string{"h", "?"},
		Description: "Show available commands",
		Usage:       "/help [command]",
		Handler:     handleHelp,
	})
	registerCommand(Command{
		Name:        "servers",
		Aliases:     []string{"ls"},
		Description: "List configured tool servers",
		Usage:       "/servers",
		Handler:     handleServers,
	})
	registerCommand(Command{
		Name:        "add",
		Aliases:     []string{"a"},
		Description: "Add a tool server",
		Usage:       "/add <uvx|npx|http>:<package or url>",
		Handler:     handleAdd,
	})
	registerCommand(Command{
		Name:        "set",
		Aliases:     []string{"edit"},
		Description: "Replace a tool server",
		Usage:       "/set <n> <uvx|npx|http>:<package or url>",
		Handler:     handleSet,
	})
	registerCommand(Command{
		Name:        "rm",
		Aliases:     []string{"remove"},
		Description: "Remove one or more tool servers",
		Usage:       "/rm <n> [n...]",
		Handler:     handleRemove,
	})
	registerCommand(Command{
		Name:        "reset",
		Description: "Restore the default tool server",
		Usage:       "/reset",
		Handler:     handleReset,
	})
	registerCommand(Command{
		Name:        "model",
		Aliases:     []string{"m"},
		Description: "Show or switch the model",
		Usage:       "/model [name]",
		Handler:     handleModel,
	})
	registerCommand(Command{
		Name:        "history",
		Aliases:     []string{"hist"},
		Description: "Show recent questions",
		Usage:       "/history [n]",
		Handler:     handleHistoryCommand,
	})
	registerCommand(Command{
		Name:        "clear",
		Aliases:     []string{"cls"},
		Description: "Clear the feed",
		Usage:       "/clear",
		Handler:     handleClear,
	})
}

func registerCommand(cmd Command) {
	commandRegistry[cmd.Name] = cmd
}

// parseCommand splits the slash-prefixed input into command + args.
func parseCommand(input string) (string, []string) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return "", nil
	}
	if !strings.HasPrefix(parts[0], "/") {
		return "", nil
	}
	name := strings.TrimPrefix(parts[0], "/")
	return name, parts[1:]
}

// handleCommand finds the registered command (with alias fallback).
func handleCommand(m Model, name string, args []string) (Model, tea.Cmd) {
	if name == "" {
		return m, nil
	}
	cmd, ok := lookupCommand(name)
	if !ok {
		return m.addSystemMessage(fmt.Sprintf("Unknown command: %s", name)), nil
	}
	return cmd.Handler(m, args)
}

func lookupCommand(name string) (Command, bool) {
	if cmd, ok := commandRegistry[name]; ok {
		return cmd, true
	}
	for _, registered := range commandRegistry {
		for _, alias := range registered.Aliases {
			if alias == name {
				return registered, true
			}
		}
	}
	return Command{}, false
}

func handleHelp(m Model, args []string) (Model, tea.Cmd) {
	if len(args) > 0 {
		if cmd, ok := lookupCommand(strings.TrimPrefix(args[0], "/")); ok {
			text := fmt.Sprintf("%s - %s\nUsage: %s", cmd.Name, cmd.Description, cmd.Usage)
			return m.addSystemMessage(text), nil
		}
	}
	names := make([]string, 0, len(commandRegistry))
	for name := range commandRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("Available commands:\n\n")
	for _, name := range names {
		cmd := commandRegistry[name]
		b.WriteString(fmt.Sprintf("  %s - %s\n", cmd.Usage, cmd.Description))
	}
	b.WriteString("\nEsc cancels a running question.")
	return m.addSystemMessage(b.String()), nil
}

func handleServers(m Model, args []string) (Model, tea.Cmd) {
	return m.addSystemMessage(describeServers(m.servers)), nil
}

func describeServers(list *framework.ServerList) string {
	var b strings.Builder
	if list.Len() == 0 {
		b.WriteString("No tool servers configured. Add one with /add.\n")
	} else {
		b.WriteString("Tool servers:\n\n")
		for i, cfg := range list.All() {
			b.WriteString(fmt.Sprintf("  %d. %s\n", i+1, cfg))
		}
	}
	mechanisms := make([]string, 0, len(framework.LaunchMechanisms))
	for _, mech := range framework.LaunchMechanisms {
		mechanisms = append(mechanisms, string(mech))
	}
	b.WriteString(fmt.Sprintf("\nLaunch mechanisms: %s", strings.Join(mechanisms, ", ")))
	return b.String()
}

// parseServerArgs accepts "mech:pkg" or "mech pkg".
func parseServerArgs(args []string) (framework.ToolServerConfig, error) {
	switch len(args) {
	case 1:
		return framework.ParseToolServerConfig(args[0])
	case 2:
		return framework.ParseToolServerConfig(args[0] + ":" + args[1])
	default:
		return framework.ToolServerConfig{}, fmt.Errorf("expected <mechanism>:<package>")
	}
}

func parseIndex(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%q is not a server number", raw)
	}
	return n - 1, nil
}

func (m Model) serversChanged() Model {
	m.statusBar.servers = m.servers.Len()
	return m
}

func handleAdd(m Model, args []string) (Model, tea.Cmd) {
	cfg, err := parseServerArgs(args)
	if err != nil {
		return m.addSystemMessage(fmt.Sprintf("Usage: %s (%v)", commandRegistry["add"].Usage, err)), nil
	}
	m.servers.Add(cfg)
	m = m.serversChanged()
	return m.addSystemMessage(fmt.Sprintf("Added tool server %d: %s", m.servers.Len(), cfg)), nil
}

func handleSet(m Model, args []string) (Model, tea.Cmd) {
	if len(args) < 2 {
		return m.addSystemMessage("Usage: " + commandRegistry["set"].Usage), nil
	}
	idx, err := parseIndex(args[0])
	if err != nil {
		return m.addSystemMessage(err.Error()), nil
	}
	cfg, err := parseServerArgs(args[1:])
	if err != nil {
		return m.addSystemMessage(fmt.Sprintf("Usage: %s (%v)", commandRegistry["set"].Usage, err)), nil
	}
	if err := m.servers.Update(idx, cfg); err != nil {
		return m.addSystemMessage(err.Error()), nil
	}
	return m.addSystemMessage(fmt.Sprintf("Tool server %d is now %s", idx+1, cfg)), nil
}

func handleRemove(m Model, args []string) (Model, tea.Cmd) {
	if len(args) == 0 {
		return m.addSystemMessage("Usage: " + commandRegistry["rm"].Usage), nil
	}
	indices := make([]int, 0, len(args))
	for _, raw := range args {
		idx, err := parseIndex(raw)
		if err != nil {
			return m.addSystemMessage(err.Error()), nil
		}
		if _, err := m.servers.At(idx); err != nil {
			return m.addSystemMessage(err.Error()), nil
		}
		indices = append(indices, idx)
	}
	if len(indices) == 1 {
		return m.removeServers(indices), nil
	}
	return m.askConfirm(
		fmt.Sprintf("Remove %d tool servers? (y/n)", len(indices)),
		func(m Model) Model { return m.removeServers(indices) },
	), nil
}

func (m Model) removeServers(indices []int) Model {
	if err := m.servers.RemoveMany(indices); err != nil {
		return m.addSystemMessage(err.Error())
	}
	m = m.serversChanged()
	msg := fmt.Sprintf("Removed %d tool server(s); %d left", len(indices), m.servers.Len())
	if m.servers.Len() == 0 {
		msg += ". Add one with /add before asking."
	}
	return m.addSystemMessage(msg)
}

func handleReset(m Model, args []string) (Model, tea.Cmd) {
	m.servers = framework.DefaultServerList()
	m = m.serversChanged()
	return m.addSystemMessage(describeServers(m.servers)), nil
}

func handleModel(m Model, args []string) (Model, tea.Cmd) {
	if len(args) == 0 {
		return m.addSystemMessage(fmt.Sprintf("Model: %s", m.backend.ModelName())), nil
	}
	if err := m.backend.SetModel(args[0]); err != nil {
		return m.addSystemMessage(err.Error()), nil
	}
	m.statusBar.model = m.backend.ModelName()
	return m.addSystemMessage(fmt.Sprintf("Model set to %s (applies to the next question)", m.statusBar.model)), nil
}

func handleHistoryCommand(m Model, args []string) (Model, tea.Cmd) {
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return m.addSystemMessage("Usage: " + commandRegistry["history"].Usage), nil
		}
		limit = n
	}
	backend := m.backend
	return m, func() tea.Msg {
		transcripts, err := backend.Recent(context.Background(), limit)
		return historyMsg{transcripts: transcripts, err: err}
	}
}

func handleClear(m Model, args []string) (Model, tea.Cmd) {
	return m.clearFeed().addSystemMessage("Feed cleared"), nil
}
