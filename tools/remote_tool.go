package tools

import (
	"context"

	"github.com/lexcodex/mcphost/framework"
)

// RemoteTool exposes a tool advertised by a tool server.
type RemoteTool struct {
	client MCPClient
	tool   MCPTool
}

// NewRemoteTool wraps tool for calls through client.
func NewRemoteTool(client MCPClient, tool MCPTool) *RemoteTool {
	return &RemoteTool{client: client, tool: tool}
}

func (t *RemoteTool) Name() string        { return t.tool.Name }
func (t *RemoteTool) Description() string { return t.tool.Description }

// InputSchema returns the advertised schema, defaulting to an empty object.
func (t *RemoteTool) InputSchema() map[string]any {
	if len(t.tool.InputSchema) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return t.tool.InputSchema
}

// Call forwards the call and flattens the result to text.
func (t *RemoteTool) Call(ctx context.Context, args map[string]any) (*framework.ToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	res, err := t.client.CallTool(ctx, t.tool.Name, args)
	if err != nil {
		return nil, err
	}
	return &framework.ToolResult{Text: res.Flatten(), IsError: res.IsError}, nil
}
