package llm

import (
	"context"

	"github.com/lexcodex/mcphost/framework"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Options tunes a single request. Zero values leave the server defaults.
type Options struct {
	Model       string   `yaml:"model,omitempty"`
	Temperature float64  `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
	TopP        float64  `yaml:"top_p,omitempty"`
	Stop        []string `yaml:"stop,omitempty"`
}

// Response is a complete, non-streamed model reply.
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        framework.Usage
}

// StreamChunk is one incremental piece of a streamed reply. ToolCalls arrive
// whole; Content is a delta.
type StreamChunk struct {
	Content      string
	ToolCalls    []ToolCall
	Done         bool
	FinishReason string
	Usage        framework.Usage
}

// ChatModel streams chat completions with tool support.
type ChatModel interface {
	ChatStream(ctx context.Context, messages []Message, tools []framework.Tool, options *Options, fn func(StreamChunk) error) error
}
