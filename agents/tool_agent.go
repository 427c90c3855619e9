package agents

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lexcodex/mcphost/framework"
	"github.com/lexcodex/mcphost/llm"
)

// DefaultMaxIterations bounds the model/tool loop of one question.
const DefaultMaxIterations = 10

// ErrIterationLimit is returned when the model keeps requesting tools after
// the last iteration.
var ErrIterationLimit = errors.New("agent reached its iteration limit")

// ToolAgent answers a question with a model that may call tools. It produces
// the records consumed by framework.Classify.
type ToolAgent struct {
	Model         llm.ChatModel
	Tools         *framework.ToolRegistry
	Options       *llm.Options
	SystemPrompt  string
	MaxIterations int
	Telemetry     framework.Telemetry
	Logger        *log.Logger
	Debug         bool
}

// Stream runs the conversation and writes text fragments and tool-use starts
// to out. It never closes out; the caller closes it once Stream returns.
func (a *ToolAgent) Stream(ctx context.Context, question string, out chan<- map[string]any) (framework.Usage, error) {
	var usage framework.Usage
	if a.Model == nil {
		return usage, errors.New("agent has no model")
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return usage, framework.ErrEmptyQuestion
	}
	registry := a.Tools
	if registry == nil {
		registry = framework.NewToolRegistry()
	}
	tools := registry.All()
	messages := []llm.Message{
		{Role: "system", Content: a.systemPrompt(tools)},
		{Role: "user", Content: question},
	}
	limit := a.MaxIterations
	if limit <= 0 {
		limit = DefaultMaxIterations
	}
	ids := newToolUseIDs()

	for iter := 0; iter < limit; iter++ {
		if err := ctx.Err(); err != nil {
			return usage, err
		}
		offered := tools
		if iter == limit-1 {
			// last turn must produce an answer
			offered = nil
		}
		var (
			text  strings.Builder
			calls []llm.ToolCall
		)
		err := a.Model.ChatStream(ctx, messages, offered, a.Options, func(chunk llm.StreamChunk) error {
			usage.Add(chunk.Usage)
			calls = append(calls, chunk.ToolCalls...)
			if chunk.Content == "" {
				return nil
			}
			text.WriteString(chunk.Content)
			return send(ctx, out, framework.TextRecord(chunk.Content))
		})
		if err != nil {
			return usage, fmt.Errorf("model: %w", err)
		}
		if len(calls) == 0 {
			return usage, nil
		}
		if offered == nil {
			return usage, ErrIterationLimit
		}
		for i := range calls {
			calls[i].ID = ids.assign(calls[i].ID)
		}
		messages = append(messages, llm.Message{Role: "assistant", Content: text.String(), ToolCalls: calls})
		for _, call := range calls {
			if err := send(ctx, out, framework.ToolUseRecord(call.ID, call.Name)); err != nil {
				return usage, err
			}
			content, err := a.invoke(ctx, registry, call)
			if err != nil {
				return usage, err
			}
			messages = append(messages, llm.Message{
				Role:       "tool",
				Name:       call.Name,
				ToolCallID: call.ID,
				Content:    content,
			})
		}
	}
	return usage, ErrIterationLimit
}

// invoke runs one tool call. Tool failures become tool messages so the model
// can recover; only cancellation aborts the run.
func (a *ToolAgent) invoke(ctx context.Context, registry *framework.ToolRegistry, call llm.ToolCall) (string, error) {
	a.emit(ctx, framework.EventToolCall, call.Name, map[string]any{
		"tool_use_id": call.ID,
		"args":        call.Args,
	})
	start := time.Now()
	tool, ok := registry.Get(call.Name)
	if !ok {
		a.debugf("unknown tool %s", call.Name)
		msg := fmt.Sprintf("error: unknown tool %q", call.Name)
		a.emit(ctx, framework.EventToolResult, call.Name, map[string]any{"tool_use_id": call.ID, "error": msg})
		return msg, nil
	}
	res, err := tool.Call(ctx, call.Args)
	meta := map[string]any{
		"tool_use_id": call.ID,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		meta["error"] = err.Error()
		a.emit(ctx, framework.EventToolResult, call.Name, meta)
		a.debugf("tool %s failed: %v", call.Name, err)
		return "error: " + err.Error(), nil
	}
	if res == nil {
		res = &framework.ToolResult{}
	}
	meta["is_error"] = res.IsError
	meta["chars"] = len(res.Text)
	a.emit(ctx, framework.EventToolResult, call.Name, meta)
	if res.IsError {
		return "error: " + res.Text, nil
	}
	return res.Text, nil
}

func (a *ToolAgent) systemPrompt(tools []framework.Tool) string {
	if a.SystemPrompt != "" {
		return a.SystemPrompt
	}
	return BuildSystemPrompt(tools)
}

// BuildSystemPrompt summarizes the available tools for the model.
func BuildSystemPrompt(tools []framework.Tool) string {
	lines := make([]string, 0, len(tools))
	for _, tool := range tools {
		lines = append(lines, fmt.Sprintf("- %s: %s", tool.Name(), tool.Description()))
	}
	if len(lines) == 0 {
		lines = append(lines, "(none)")
	}
	return fmt.Sprintf(`You are a helpful assistant. Answer the user's question, calling tools when they help.
Available tools:
%s
When you call a tool, wait for its response before continuing. Finish with the answer as plain markdown.`, strings.Join(lines, "\n"))
}

func (a *ToolAgent) emit(ctx context.Context, kind framework.EventType, msg string, meta map[string]any) {
	if a.Telemetry == nil {
		return
	}
	a.Telemetry.Emit(framework.Event{
		Type:      kind,
		RunID:     framework.RunIDFrom(ctx),
		Message:   msg,
		Timestamp: time.Now().UTC(),
		Metadata:  meta,
	})
}

func (a *ToolAgent) debugf(format string, args ...interface{}) {
	if !a.Debug {
		return
	}
	logger := a.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[agent] "+format, args...)
}

func send(ctx context.Context, out chan<- map[string]any, record map[string]any) error {
	select {
	case out <- record:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// toolUseIDs keeps invocation ids unique within a run. Models that omit ids,
// or reuse them across turns, get fresh ones.
type toolUseIDs struct {
	seen map[string]struct{}
	next int
}

func newToolUseIDs() *toolUseIDs {
	return &toolUseIDs{seen: make(map[string]struct{})}
}

func (t *toolUseIDs) assign(id string) string {
	if _, dup := t.seen[id]; id == "" || dup {
		for {
			t.next++
			id = fmt.Sprintf("tooluse_%d", t.next)
			if _, taken := t.seen[id]; !taken {
				break
			}
		}
	}
	t.seen[id] = struct{}{}
	return id
}
