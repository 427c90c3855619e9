package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"
)

// MCPClient is a live session with one tool server.
type MCPClient interface {
	ServerInfo() Implementation
	ListTools(ctx context.Context) ([]MCPTool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error)
	Close() error
}

// ProcessMCPConfig defines how a stdio tool server is spawned.
type ProcessMCPConfig struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	// Stderr receives the server's diagnostic output. Nil discards it.
	Stderr     io.Writer
	ClientInfo Implementation
	// WaitDelay bounds how long Close waits for output pipes held open by
	// grandchildren (the server npx or uvx started). Zero means
	// DefaultWaitDelay.
	WaitDelay time.Duration
}

// DefaultWaitDelay is the WaitDelay used when none is configured.
const DefaultWaitDelay = 2 * time.Second

// ProcessMCPClient talks newline-delimited JSON-RPC to a subprocess.
type ProcessMCPClient struct {
	cmd    *exec.Cmd
	conn   *jsonrpc2.Conn
	cancel context.CancelFunc
	info   Implementation
	meta   ProcessMetadata

	closeOnce sync.Once
}

// NewProcessMCPClient launches the configured server and performs the MCP
// handshake. ctx bounds the handshake only; the process lives until Close.
func NewProcessMCPClient(ctx context.Context, cfg ProcessMCPConfig) (*ProcessMCPClient, error) {
	if cfg.Command == "" {
		return nil, errors.New("command is required for MCP process client")
	}
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := newServerCmd(procCtx, cfg)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	client := newStreamMCPClient(procCtx, &stdioReadWriteCloser{reader: stdout, writer: stdin})
	client.cmd = cmd
	client.cancel = cancel
	client.meta = ProcessMetadata{
		PID:     cmd.Process.Pid,
		Command: cfg.Command,
		Args:    append([]string(nil), cfg.Args...),
		Started: time.Now(),
	}
	if err := client.initialize(ctx, cfg.ClientInfo); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("initialize %s: %w", cfg.Command, err)
	}
	return client, nil
}

func newServerCmd(ctx context.Context, cfg ProcessMCPConfig) *exec.Cmd {
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), cfg.Env...)
	}
	cmd.Stderr = cfg.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = io.Discard
	}
	cmd.WaitDelay = cfg.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}
	return cmd
}

// newStreamMCPClient wires a JSON-RPC connection over rwc without a process.
func newStreamMCPClient(ctx context.Context, rwc io.ReadWriteCloser) *ProcessMCPClient {
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.PlainObjectCodec{})
	handler := jsonrpc2.HandlerWithError(func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
		if req.Notif {
			// logging and list_changed notifications are not surfaced
			return nil, nil
		}
		switch req.Method {
		case "ping":
			return struct{}{}, nil
		default:
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not handled"}
		}
	})
	return &ProcessMCPClient{conn: jsonrpc2.NewConn(ctx, stream, handler)}
}

func (c *ProcessMCPClient) initialize(ctx context.Context, info Implementation) error {
	if info.Name == "" {
		info = defaultClientInfo
	}
	params := initializeParams{
		ProtocolVersion: MCPProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      info,
	}
	var result initializeResult
	if err := c.conn.Call(ctx, "initialize", params, &result); err != nil {
		return err
	}
	c.info = result.ServerInfo
	return c.conn.Notify(ctx, "notifications/initialized", struct{}{})
}

// ServerInfo returns what the server reported during initialize.
func (c *ProcessMCPClient) ServerInfo() Implementation { return c.info }

// ProcessMetadata describes the spawned server process. It is zero for
// clients not backed by a process.
func (c *ProcessMCPClient) ProcessMetadata() ProcessMetadata { return c.meta }

// ListTools pages through tools/list.
func (c *ProcessMCPClient) ListTools(ctx context.Context) ([]MCPTool, error) {
	var tools []MCPTool
	params := toolsListParams{}
	for {
		var result toolsListResult
		if err := c.conn.Call(ctx, "tools/list", params, &result); err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}
		tools = append(tools, result.Tools...)
		if result.NextCursor == "" || result.NextCursor == params.Cursor {
			return tools, nil
		}
		params.Cursor = result.NextCursor
	}
}

// CallTool invokes tools/call.
func (c *ProcessMCPClient) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	var result CallToolResult
	if err := c.conn.Call(ctx, "tools/call", toolsCallParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}
	return &result, nil
}

// Close terminates the underlying process and JSON-RPC connection.
func (c *ProcessMCPClient) Close() error {
	if c == nil {
		return nil
	}
	var err error
	c.closeOnce.Do(func() {
		if c.conn != nil {
			err = c.conn.Close()
		}
		if c.cancel != nil {
			c.cancel()
		}
		if c.cmd != nil && c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
			_ = c.cmd.Wait()
		}
	})
	if errors.Is(err, jsonrpc2.ErrClosed) {
		return nil
	}
	return err
}

type stdioReadWriteCloser struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (s *stdioReadWriteCloser) Read(p []byte) (int, error)  { return s.reader.Read(p) }
func (s *stdioReadWriteCloser) Write(p []byte) (int, error) { return s.writer.Write(p) }
func (s *stdioReadWriteCloser) Close() error {
	_ = s.reader.Close()
	return s.writer.Close()
}
