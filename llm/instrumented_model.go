package llm

import (
	"context"
	"strings"
	"time"

	"github.com/lexcodex/mcphost/framework"
)

// InstrumentedModel wraps a ChatModel and emits telemetry for prompts and
// responses.
type InstrumentedModel struct {
	Inner     ChatModel
	Telemetry framework.Telemetry
	Debug     bool
}

func NewInstrumentedModel(inner ChatModel, telemetry framework.Telemetry, debug bool) *InstrumentedModel {
	return &InstrumentedModel{Inner: inner, Telemetry: telemetry, Debug: debug}
}

// ChatStream forwards to the inner model and reports one prompt and one
// response event per call.
func (m *InstrumentedModel) ChatStream(ctx context.Context, messages []Message, tools []framework.Tool, options *Options, fn func(StreamChunk) error) error {
	m.emit(ctx, framework.EventLLMPrompt, "llm chat prompt", chatMeta(messages, tools, options, m.Debug))

	var (
		text      strings.Builder
		toolCalls []string
		usage     framework.Usage
		finish    string
	)
	start := time.Now()
	err := m.Inner.ChatStream(ctx, messages, tools, options, func(chunk StreamChunk) error {
		text.WriteString(chunk.Content)
		for _, call := range chunk.ToolCalls {
			toolCalls = append(toolCalls, call.Name)
		}
		usage.Add(chunk.Usage)
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
		return fn(chunk)
	})

	meta := map[string]any{
		"duration_ms":   time.Since(start).Milliseconds(),
		"finish_reason": finish,
		"text_preview":  clip(text.String(), 1024),
		"usage":         usage,
	}
	if len(toolCalls) > 0 {
		meta["tool_calls"] = toolCalls
	}
	if err != nil {
		meta["error"] = err.Error()
	}
	m.emit(ctx, framework.EventLLMResponse, "llm chat response", meta)
	return err
}

func chatMeta(messages []Message, tools []framework.Tool, options *Options, debug bool) map[string]any {
	roles := make([]string, 0, len(messages))
	for _, msg := range messages {
		roles = append(roles, msg.Role)
	}
	toolNames := make([]string, 0, len(tools))
	for _, t := range tools {
		toolNames = append(toolNames, t.Name())
	}
	meta := map[string]any{
		"model":         modelFromOptions(options),
		"message_count": len(messages),
		"roles":         roles,
		"tool_count":    len(tools),
		"tool_names":    toolNames,
	}
	if debug {
		full := make([]map[string]any, 0, len(messages))
		for _, msg := range messages {
			full = append(full, map[string]any{
				"role":    msg.Role,
				"name":    msg.Name,
				"content": clip(msg.Content, 8192),
			})
		}
		meta["messages"] = full
	}
	return meta
}

func (m *InstrumentedModel) emit(ctx context.Context, kind framework.EventType, msg string, meta map[string]any) {
	if m == nil || m.Telemetry == nil {
		return
	}
	m.Telemetry.Emit(framework.Event{
		Type:      kind,
		RunID:     framework.RunIDFrom(ctx),
		Timestamp: time.Now().UTC(),
		Message:   msg,
		Metadata:  meta,
	})
}

func modelFromOptions(options *Options) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	return ""
}

func clip(s string, max int) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
