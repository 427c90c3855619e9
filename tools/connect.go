package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/lexcodex/mcphost/framework"
)

var defaultClientInfo = Implementation{Name: "mcphost", Version: "0.1"}

// Dialer opens a session with one configured tool server.
type Dialer interface {
	Dial(ctx context.Context, cfg framework.ToolServerConfig) (MCPClient, error)
}

// DialerFunc adapts a function into a Dialer.
type DialerFunc func(ctx context.Context, cfg framework.ToolServerConfig) (MCPClient, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, cfg framework.ToolServerConfig) (MCPClient, error) {
	return f(ctx, cfg)
}

// MCPDialer launches subprocess servers through uvx/npx and connects to http
// servers directly.
type MCPDialer struct {
	Dir        string
	Env        []string
	Stderr     io.Writer
	HTTPClient *http.Client
	ClientInfo Implementation
}

// Dial picks the transport by launch mechanism.
func (d MCPDialer) Dial(ctx context.Context, cfg framework.ToolServerConfig) (MCPClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mechanism == framework.LaunchHTTP {
		return NewHTTPMCPClient(ctx, cfg.Package, d.HTTPClient, d.ClientInfo)
	}
	command, args, err := cfg.Command()
	if err != nil {
		return nil, err
	}
	return NewProcessMCPClient(ctx, ProcessMCPConfig{
		Command:    command,
		Args:       args,
		Dir:        d.Dir,
		Env:        d.Env,
		Stderr:     d.Stderr,
		ClientInfo: d.ClientInfo,
	})
}

// Connection is an established session for one entry of the server list.
type Connection struct {
	Index  int
	Config framework.ToolServerConfig
	Client MCPClient
}

// Label identifies the connection in messages.
func (c *Connection) Label() string {
	return fmt.Sprintf("#%d %s", c.Index+1, c.Config)
}

// Tools lists the server's tools as framework tools.
func (c *Connection) Tools(ctx context.Context) ([]framework.Tool, error) {
	listed, err := c.Client.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]framework.Tool, 0, len(listed))
	for _, tool := range listed {
		out = append(out, NewRemoteTool(c.Client, tool))
	}
	return out, nil
}

// ConnectionError records a tool server that could not be reached.
type ConnectionError struct {
	Index  int
	Config framework.ToolServerConfig
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("tool server #%d (%s): %v", e.Index+1, e.Config, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ConnectAll establishes a session with every entry, one after another. A
// failing entry is recorded and the remaining entries are still attempted.
// Cancelling ctx stops before the next entry and reports the rest as failed.
func ConnectAll(ctx context.Context, dialer Dialer, servers []framework.ToolServerConfig) ([]*Connection, []*ConnectionError) {
	var (
		conns []*Connection
		errs  []*ConnectionError
	)
	for i, cfg := range servers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, &ConnectionError{Index: i, Config: cfg, Err: err})
			continue
		}
		client, err := dialer.Dial(ctx, cfg)
		if err != nil {
			errs = append(errs, &ConnectionError{Index: i, Config: cfg, Err: err})
			continue
		}
		conns = append(conns, &Connection{Index: i, Config: cfg, Client: client})
	}
	return conns, errs
}

// CloseAll releases every connection. Each close is attempted regardless of
// earlier failures; failures are logged and never returned.
func CloseAll(conns []*Connection, logger *log.Logger) {
	for _, conn := range conns {
		if err := closeOne(conn); err != nil && logger != nil {
			logger.Printf("close tool server %s: %v", conn.Label(), err)
		}
	}
}

func closeOne(conn *Connection) (err error) {
	if conn == nil || conn.Client == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during close: %v", r)
		}
	}()
	return conn.Client.Close()
}

// Sources adapts connections for framework.AggregateTools.
func Sources(conns []*Connection) []framework.ToolSource {
	out := make([]framework.ToolSource, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn)
	}
	return out
}

// JoinConnectionErrors folds the per-server errors into one error.
func JoinConnectionErrors(errs []*ConnectionError) error {
	joined := make([]error, 0, len(errs))
	for _, err := range errs {
		joined = append(joined, err)
	}
	return errors.Join(joined...)
}
