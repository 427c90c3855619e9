package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MCPProtocolVersion is the protocol revision announced during initialize.
const MCPProtocolVersion = "2025-03-26"

// JSON-RPC 2.0 envelopes used by the HTTP transport. The stdio transport
// relies on jsonrpc2 for framing instead.

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object returned by a tool server.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// Implementation names a client or server.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ServerInfo      Implementation  `json:"serverInfo"`
}

// MCPTool is a tool as advertised by tools/list.
type MCPTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

type toolsListParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type toolsListResult struct {
	Tools      []MCPTool `json:"tools"`
	NextCursor string    `json:"nextCursor,omitempty"`
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ContentItem is one entry of a tools/call result.
type ContentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// CallToolResult is the decoded tools/call result.
type CallToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// Flatten joins the text content. Non-text items are summarized so the model
// still learns they exist.
func (r *CallToolResult) Flatten() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Content))
	for _, item := range r.Content {
		switch {
		case item.Type == "text" || item.Text != "":
			parts = append(parts, item.Text)
		case item.MimeType != "":
			parts = append(parts, "["+item.Type+" "+item.MimeType+"]")
		default:
			parts = append(parts, "["+item.Type+"]")
		}
	}
	return strings.Join(parts, "\n")
}
