package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/lexcodex/mcphost/framework"
)

// DefaultEndpoint is where a local Ollama listens.
const DefaultEndpoint = "http://localhost:11434"

// Client talks to the Ollama chat API.
type Client struct {
	Endpoint string
	Model    string
	client   *http.Client
	Debug    bool
	Logger   *log.Logger
}

type toolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type toolDef struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type ollamaToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Arguments json.RawMessage `json:"arguments"`
	Function  struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls"`
}

type ollamaResponse struct {
	Message         *ollamaMessage `json:"message"`
	Done            bool           `json:"done"`
	DoneReason      string         `json:"done_reason"`
	EvalCount       int            `json:"eval_count"`
	PromptEvalCount int            `json:"prompt_eval_count"`
	Error           string         `json:"error"`
}

// NewClient builds a new Ollama client.
func NewClient(endpoint, model string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Model:    model,
		client: &http.Client{
			Timeout: 3 * time.Minute,
		},
	}
}

// SetHTTPClient swaps the transport, mostly for tests.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.client = client
}

// Chat sends a non-streamed conversation.
func (c *Client) Chat(ctx context.Context, messages []Message, tools []framework.Tool, options *Options) (*Response, error) {
	payload := c.chatPayload(messages, tools, options, false)
	resp, err := c.post(ctx, "/api/chat", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logf("response /api/chat payload: %s", truncate(string(body), 2048))
	var raw ollamaResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	if raw.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", raw.Error)
	}
	chunk := chunkFrom(raw)
	return &Response{
		Text:         chunk.Content,
		ToolCalls:    chunk.ToolCalls,
		FinishReason: chunk.FinishReason,
		Usage:        chunk.Usage,
	}, nil
}

// ChatStream sends the conversation with streaming enabled and calls fn for
// every NDJSON chunk, in order. An error from fn stops the stream.
func (c *Client) ChatStream(ctx context.Context, messages []Message, tools []framework.Tool, options *Options, fn func(StreamChunk) error) error {
	payload := c.chatPayload(messages, tools, options, true)
	resp, err := c.post(ctx, "/api/chat", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	sawDone := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var raw ollamaResponse
		if err := json.Unmarshal(line, &raw); err != nil {
			return fmt.Errorf("decode ollama chunk: %w", err)
		}
		if raw.Error != "" {
			return fmt.Errorf("ollama error: %s", raw.Error)
		}
		chunk := chunkFrom(raw)
		if err := fn(chunk); err != nil {
			return err
		}
		if chunk.Done {
			sawDone = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("read ollama stream: %w", err)
	}
	if !sawDone {
		return errors.New("ollama stream ended before completion")
	}
	return nil
}

// ListModels returns the names of locally available models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(payload.Models))
	for _, m := range payload.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// SetDebugLogging enables or disables verbose logging for requests/responses.
func (c *Client) SetDebugLogging(enabled bool) {
	c.Debug = enabled
}

func (c *Client) getHTTPClient() *http.Client {
	if c.client != nil {
		return c.client
	}
	c.client = &http.Client{Timeout: 60 * time.Second}
	return c.client
}

func (c *Client) model(options *Options) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	if c.Model != "" {
		return c.Model
	}
	return "llama3.1"
}

// chatRequest is the body of POST /api/chat.
type chatRequest struct {
	Model    string          `json:"model"`
	Messages []chatMessage   `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []toolDef       `json:"tools,omitempty"`
	Options  *requestOptions `json:"options,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []outgoingCall `json:"tool_calls,omitempty"`
}

type outgoingCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type"`
	Function outgoingFunc `json:"function"`
}

type outgoingFunc struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type requestOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
}

func (c *Client) chatPayload(messages []Message, tools []framework.Tool, options *Options, stream bool) chatRequest {
	req := chatRequest{
		Model:    c.model(options),
		Messages: convertMessages(messages),
		Stream:   stream,
		Tools:    convertTools(tools),
	}
	if options != nil {
		opts := requestOptions{
			Temperature: options.Temperature,
			NumPredict:  options.MaxTokens,
			Stop:        options.Stop,
			TopP:        options.TopP,
		}
		if opts.Temperature != 0 || opts.NumPredict != 0 || opts.TopP != 0 || len(opts.Stop) > 0 {
			req.Options = &opts
		}
	}
	return req
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	c.logf("request %s payload: %s", path, truncate(string(body), 2048))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(msg))
	if detail != "" {
		return fmt.Errorf("ollama error: %s: %s", resp.Status, detail)
	}
	return fmt.Errorf("ollama error: %s", resp.Status)
}

func convertMessages(messages []Message) []chatMessage {
	out := make([]chatMessage, len(messages))
	for i, msg := range messages {
		cm := chatMessage{Role: msg.Role, Content: msg.Content, ToolCallID: msg.ToolCallID}
		if msg.Role == "tool" {
			cm.ToolName = msg.Name
		}
		for _, call := range msg.ToolCalls {
			args := call.Args
			if args == nil {
				args = map[string]any{}
			}
			cm.ToolCalls = append(cm.ToolCalls, outgoingCall{
				ID:       call.ID,
				Type:     "function",
				Function: outgoingFunc{Name: call.Name, Arguments: args},
			})
		}
		out[i] = cm
	}
	return out
}

// convertTools advertises tools in Ollama's function-calling format, passing
// each input schema through untouched.
func convertTools(tools []framework.Tool) []toolDef {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]toolDef, len(tools))
	for i, tool := range tools {
		defs[i].Type = "function"
		defs[i].Function = toolFunction{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.InputSchema(),
		}
	}
	return defs
}

func chunkFrom(raw ollamaResponse) StreamChunk {
	chunk := StreamChunk{
		Done:         raw.Done,
		FinishReason: raw.DoneReason,
		Usage: framework.Usage{
			PromptTokens:     raw.PromptEvalCount,
			CompletionTokens: raw.EvalCount,
		},
	}
	if raw.Message != nil {
		chunk.Content = raw.Message.Content
		chunk.ToolCalls = parseToolCalls(raw.Message.ToolCalls)
	}
	return chunk
}

func parseToolCalls(calls []ollamaToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	results := make([]ToolCall, 0, len(calls))
	for _, call := range calls {
		name := call.Name
		args := call.Arguments
		if call.Function.Name != "" {
			name = call.Function.Name
		}
		if len(call.Function.Arguments) > 0 {
			args = call.Function.Arguments
		}
		results = append(results, ToolCall{
			ID:   call.ID,
			Name: name,
			Args: parseArguments(args),
		})
	}
	return results
}

func parseArguments(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj == nil {
			return map[string]any{}
		}
		return obj
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		var nested map[string]any
		if err := json.Unmarshal([]byte(str), &nested); err == nil {
			return nested
		}
		return map[string]any{"value": str}
	}
	return map[string]any{"_raw": string(raw)}
}

func (c *Client) logf(format string, args ...any) {
	if !c.Debug {
		return
	}
	logger := c.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[ollama] "+format, args...)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
