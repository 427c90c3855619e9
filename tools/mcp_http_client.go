package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCloseTimeout bounds the session DELETE sent by Close.
const DefaultCloseTimeout = 5 * time.Second

// HTTPMCPClient is an MCP Streamable-HTTP client for one remote server.
type HTTPMCPClient struct {
	URL string
	// CloseTimeout bounds Close; zero means DefaultCloseTimeout.
	CloseTimeout time.Duration

	client    *http.Client
	idSeq     atomic.Int64
	mu        sync.Mutex
	sessionID string
	info      Implementation
}

// NewHTTPMCPClient opens a session with the server at url.
func NewHTTPMCPClient(ctx context.Context, url string, httpClient *http.Client, info Implementation) (*HTTPMCPClient, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("url is required for MCP http client")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c := &HTTPMCPClient{URL: url, client: httpClient}
	if err := c.initialize(ctx, info); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", url, err)
	}
	return c, nil
}

func (c *HTTPMCPClient) initialize(ctx context.Context, info Implementation) error {
	if info.Name == "" {
		info = defaultClientInfo
	}
	params := initializeParams{
		ProtocolVersion: MCPProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      info,
	}
	var result initializeResult
	if err := c.call(ctx, "initialize", params, &result); err != nil {
		return err
	}
	c.info = result.ServerInfo
	return c.notify(ctx, "notifications/initialized")
}

// SessionID returns the session assigned by the server, if any.
func (c *HTTPMCPClient) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ServerInfo returns what the server reported during initialize.
func (c *HTTPMCPClient) ServerInfo() Implementation { return c.info }

// ListTools pages through tools/list.
func (c *HTTPMCPClient) ListTools(ctx context.Context) ([]MCPTool, error) {
	var tools []MCPTool
	params := toolsListParams{}
	for {
		var result toolsListResult
		if err := c.call(ctx, "tools/list", params, &result); err != nil {
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
func (c *HTTPMCPClient) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	var result CallToolResult
	if err := c.call(ctx, "tools/call", toolsCallParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}
	return &result, nil
}

// Close terminates the session. Servers that do not track sessions are left
// alone. A server that does not answer within CloseTimeout is abandoned.
func (c *HTTPMCPClient) Close() error {
	c.mu.Lock()
	sid := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()
	if sid == "" {
		return nil
	}
	timeout := c.CloseTimeout
	if timeout <= 0 {
		timeout = DefaultCloseTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Mcp-Session-Id", sid)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	resp.Body.Close()
	// 405 means the server does not allow clients to end sessions
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusMethodNotAllowed {
		return fmt.Errorf("close session: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPMCPClient) post(ctx context.Context, req *rpcRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if sid := c.SessionID(); sid != "" {
		httpReq.Header.Set("Mcp-Session-Id", sid)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()
	}
	return resp, nil
}

func (c *HTTPMCPClient) call(ctx context.Context, method string, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	id := json.RawMessage(fmt.Sprintf("%d", c.idSeq.Add(1)))
	resp, err := c.post(ctx, &rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	rpcResp, err := decodeRPCResponse(resp, id)
	if err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("unmarshal %s result: %w", method, err)
	}
	return nil
}

func (c *HTTPMCPClient) notify(ctx context.Context, method string) error {
	resp, err := c.post(ctx, &rpcRequest{JSONRPC: "2.0", Method: method})
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: HTTP %d", method, resp.StatusCode)
	}
	return nil
}

// decodeRPCResponse reads either a plain JSON body or an SSE stream and
// returns the response carrying id.
func decodeRPCResponse(resp *http.Response, id json.RawMessage) (*rpcResponse, error) {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/event-stream" {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return nil, errors.New("empty response body")
		}
		var rpcResp rpcResponse
		if err := json.Unmarshal(body, &rpcResp); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
		return &rpcResp, nil
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	var data strings.Builder
	flush := func() *rpcResponse {
		defer data.Reset()
		if data.Len() == 0 {
			return nil
		}
		var rpcResp rpcResponse
		if err := json.Unmarshal([]byte(data.String()), &rpcResp); err != nil {
			return nil
		}
		if bytes.Equal(bytes.TrimSpace(rpcResp.ID), id) {
			return &rpcResp
		}
		return nil
	}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if r := flush(); r != nil {
				return r, nil
			}
			continue
		}
		if value, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(value, " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	if r := flush(); r != nil {
		return r, nil
	}
	return nil, errors.New("event stream ended without a response")
}
