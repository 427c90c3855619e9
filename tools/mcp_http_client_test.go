package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHTTPServer struct {
	mu        sync.Mutex
	methods   []string
	sessions  []string
	deleted   bool
	sseTools  bool
	failTools bool
}

func (f *fakeHTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Method == http.MethodDelete {
		f.deleted = r.Header.Get("Mcp-Session-Id") == "sess-1"
		w.WriteHeader(http.StatusNoContent)
		return
	}
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.methods = append(f.methods, req.Method)
	f.sessions = append(f.sessions, r.Header.Get("Mcp-Session-Id"))

	var result any
	switch req.Method {
	case "initialize":
		w.Header().Set("Mcp-Session-Id", "sess-1")
		result = initializeResult{ProtocolVersion: MCPProtocolVersion, ServerInfo: Implementation{Name: "fake", Version: "1"}}
	case "notifications/initialized":
		w.WriteHeader(http.StatusAccepted)
		return
	case "tools/list":
		if f.failTools {
			writeRPC(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: -32603, Message: "broken"}})
			return
		}
		result = toolsListResult{Tools: []MCPTool{{Name: "search_docs", Description: "Search documentation"}}}
		if f.sseTools {
			data, _ := json.Marshal(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: mustJSON(result)})
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			return
		}
	case "tools/call":
		var params toolsCallParams
		_ = json.Unmarshal(req.Params, &params)
		result = CallToolResult{Content: []ContentItem{{Type: "text", Text: fmt.Sprintf("%s:%v", params.Name, params.Arguments["q"])}}}
	default:
		writeRPC(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: -32601, Message: "unknown"}})
		return
	}
	writeRPC(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: mustJSON(result)})
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func TestHTTPMCPClientSession(t *testing.T) {
	fake := &fakeHTTPServer{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	client, err := NewHTTPMCPClient(ctx, srv.URL, srv.Client(), Implementation{})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", client.SessionID())
	assert.Equal(t, "fake", client.ServerInfo().Name)

	tools, err := client.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "search_docs", tools[0].Name)

	res, err := client.CallTool(ctx, "search_docs", map[string]any{"q": "s3"})
	require.NoError(t, err)
	assert.Equal(t, "search_docs:s3", res.Flatten())

	require.NoError(t, client.Close())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{"initialize", "notifications/initialized", "tools/list", "tools/call"}, fake.methods)
	assert.Equal(t, "", fake.sessions[0])
	assert.Equal(t, "sess-1", fake.sessions[3])
	assert.True(t, fake.deleted)
}

func TestHTTPMCPClientReadsEventStream(t *testing.T) {
	srv := httptest.NewServer(&fakeHTTPServer{sseTools: true})
	defer srv.Close()

	client, err := NewHTTPMCPClient(context.Background(), srv.URL, srv.Client(), Implementation{})
	require.NoError(t, err)
	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
}

func TestHTTPMCPClientSurfacesRPCErrors(t *testing.T) {
	srv := httptest.NewServer(&fakeHTTPServer{failTools: true})
	defer srv.Close()

	client, err := NewHTTPMCPClient(context.Background(), srv.URL, srv.Client(), Implementation{})
	require.NoError(t, err)
	_, err = client.ListTools(context.Background())
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "broken", rpcErr.Message)
}

func TestHTTPMCPClientHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPMCPClient(context.Background(), srv.URL, srv.Client(), Implementation{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestCallToolResultFlatten(t *testing.T) {
	res := &CallToolResult{Content: []ContentItem{
		{Type: "text", Text: "first"},
		{Type: "image", MimeType: "image/png"},
		{Type: "resource"},
	}}
	assert.Equal(t, "first\n[image image/png]\n[resource]", res.Flatten())
	assert.Equal(t, "", (*CallToolResult)(nil).Flatten())
}

func TestHTTPMCPClientCloseGivesUpOnSilentServer(t *testing.T) {
	release := make(chan struct{})
	fake := &fakeHTTPServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		fake.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	client, err := NewHTTPMCPClient(context.Background(), srv.URL, srv.Client(), Implementation{})
	require.NoError(t, err)
	client.CloseTimeout = 50 * time.Millisecond

	done := make(chan struct{})
	go func() {
		CloseAll([]*Connection{{Client: client}}, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("CloseAll blocked on the session DELETE")
	}
	assert.Empty(t, client.SessionID())
	assert.NoError(t, client.Close())
}
