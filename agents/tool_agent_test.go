package agents

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/mcphost/framework"
	"github.com/lexcodex/mcphost/llm"
)

// scriptedModel replays one slice of chunks per ChatStream call.
type scriptedModel struct {
	mu      sync.Mutex
	turns   [][]llm.StreamChunk
	err     error
	seen    [][]llm.Message
	offered []int
}

func (m *scriptedModel) ChatStream(ctx context.Context, messages []llm.Message, tools []framework.Tool, options *llm.Options, fn func(llm.StreamChunk) error) error {
	m.mu.Lock()
	m.seen = append(m.seen, append([]llm.Message(nil), messages...))
	m.offered = append(m.offered, len(tools))
	var turn []llm.StreamChunk
	if len(m.turns) > 0 {
		turn = m.turns[0]
		m.turns = m.turns[1:]
	}
	m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, c := range turn {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

type echoTool struct {
	name string
	err  error
	res  *framework.ToolResult
}

func (t echoTool) Name() string                { return t.name }
func (t echoTool) Description() string         { return "echo " + t.name }
func (t echoTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (t echoTool) Call(ctx context.Context, args map[string]any) (*framework.ToolResult, error) {
	if t.err != nil {
		return nil, t.err
	}
	if t.res != nil {
		return t.res, nil
	}
	return &framework.ToolResult{Text: "result of " + t.name}, nil
}

type recordingTelemetry struct {
	mu     sync.Mutex
	events []framework.Event
}

func (r *recordingTelemetry) Emit(e framework.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func registry(t *testing.T, tools ...framework.Tool) *framework.ToolRegistry {
	t.Helper()
	reg := framework.NewToolRegistry()
	for _, tool := range tools {
		require.NoError(t, reg.Register(tool))
	}
	return reg
}

func runAgent(t *testing.T, agent *ToolAgent, question string) ([]map[string]any, framework.Usage, error) {
	t.Helper()
	out := make(chan map[string]any, 64)
	usage, err := agent.Stream(context.Background(), question, out)
	close(out)
	var records []map[string]any
	for r := range out {
		records = append(records, r)
	}
	return records, usage, err
}

func TestToolAgentStreamsTextAndToolUse(t *testing.T) {
	model := &scriptedModel{turns: [][]llm.StreamChunk{
		{
			{Content: "Hello "},
			{ToolCalls: []llm.ToolCall{{Name: "search", Args: map[string]any{"q": "s3"}}}},
			{Done: true, Usage: framework.Usage{PromptTokens: 10, CompletionTokens: 2}},
		},
		{
			{Content: "World"},
			{Done: true, Usage: framework.Usage{PromptTokens: 20, CompletionTokens: 1}},
		},
	}}
	tel := &recordingTelemetry{}
	agent := &ToolAgent{Model: model, Tools: registry(t, echoTool{name: "search"}), Telemetry: tel}

	records, usage, err := runAgent(t, agent, "what is s3?")
	require.NoError(t, err)
	assert.Equal(t, 33, usage.Total())

	rec := &framework.Recorder{}
	state := framework.NewRenderState()
	for _, r := range records {
		for _, in := range state.Handle(framework.DecodeStreamEvent(r)) {
			require.NoError(t, rec.Apply(in))
		}
	}
	for _, in := range state.Finish() {
		require.NoError(t, rec.Apply(in))
	}
	assert.Equal(t, []framework.Instruction{
		{Kind: framework.InstructionRender, Text: "Hello "},
		{Kind: framework.InstructionFlush, Text: "Hello "},
		{Kind: framework.InstructionAnnounce, ToolName: "search"},
		{Kind: framework.InstructionRender, Text: "World"},
		{Kind: framework.InstructionFinalFlush, Text: "World"},
	}, rec.Instructions())

	require.Len(t, model.seen, 2)
	second := model.seen[1]
	require.Len(t, second, 4)
	assert.Equal(t, "system", second[0].Role)
	assert.Contains(t, second[0].Content, "- search: echo search")
	assert.Equal(t, "assistant", second[2].Role)
	assert.Equal(t, "tooluse_1", second[2].ToolCalls[0].ID)
	assert.Equal(t, "tool", second[3].Role)
	assert.Equal(t, "result of search", second[3].Content)
	assert.Equal(t, "tooluse_1", second[3].ToolCallID)

	require.Len(t, tel.events, 2)
	assert.Equal(t, framework.EventToolCall, tel.events[0].Type)
	assert.Equal(t, framework.EventToolResult, tel.events[1].Type)
}

func TestToolAgentToolFailuresFeedBack(t *testing.T) {
	model := &scriptedModel{turns: [][]llm.StreamChunk{
		{{ToolCalls: []llm.ToolCall{
			{ID: "a", Name: "missing"},
			{ID: "b", Name: "broken"},
			{ID: "c", Name: "flagged"},
		}}},
		{{Content: "sorry", Done: true}},
	}}
	agent := &ToolAgent{Model: model, Tools: registry(t,
		echoTool{name: "broken", err: errors.New("server crashed")},
		echoTool{name: "flagged", res: &framework.ToolResult{Text: "bad input", IsError: true}},
	)}
	records, _, err := runAgent(t, agent, "q")
	require.NoError(t, err)
	require.Len(t, records, 4)

	second := model.seen[1]
	assert.Equal(t, `error: unknown tool "missing"`, second[3].Content)
	assert.Equal(t, "error: server crashed", second[4].Content)
	assert.Equal(t, "error: bad input", second[5].Content)
}

func TestToolAgentReassignsDuplicateIDs(t *testing.T) {
	model := &scriptedModel{turns: [][]llm.StreamChunk{
		{{ToolCalls: []llm.ToolCall{{ID: "call_0", Name: "search"}}}},
		{{ToolCalls: []llm.ToolCall{{ID: "call_0", Name: "search"}}}},
		{{Content: "done", Done: true}},
	}}
	agent := &ToolAgent{Model: model, Tools: registry(t, echoTool{name: "search"})}
	records, _, err := runAgent(t, agent, "q")
	require.NoError(t, err)

	var ids []string
	for _, r := range records {
		if ev := framework.DecodeStreamEvent(r); ev.ToolUse != nil {
			ids = append(ids, ev.ToolUse.ToolUseID)
		}
	}
	assert.Equal(t, []string{"call_0", "tooluse_1"}, ids)
}

func TestToolAgentLastIterationOffersNoTools(t *testing.T) {
	model := &scriptedModel{turns: [][]llm.StreamChunk{
		{{ToolCalls: []llm.ToolCall{{Name: "search"}}}},
		{{ToolCalls: []llm.ToolCall{{Name: "search"}}}},
	}}
	agent := &ToolAgent{Model: model, Tools: registry(t, echoTool{name: "search"}), MaxIterations: 2}
	_, _, err := runAgent(t, agent, "q")
	require.ErrorIs(t, err, ErrIterationLimit)
	assert.Equal(t, []int{1, 0}, model.offered)
}

func TestToolAgentModelError(t *testing.T) {
	agent := &ToolAgent{Model: &scriptedModel{err: errors.New("connection refused")}}
	_, _, err := runAgent(t, agent, "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestToolAgentRejectsEmptyQuestion(t *testing.T) {
	agent := &ToolAgent{Model: &scriptedModel{}}
	_, _, err := runAgent(t, agent, "   ")
	require.ErrorIs(t, err, framework.ErrEmptyQuestion)
}

func TestToolAgentStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	model := &scriptedModel{turns: [][]llm.StreamChunk{{{Content: "a"}, {Content: "b"}}}}
	agent := &ToolAgent{Model: model}
	out := make(chan map[string]any)
	done := make(chan error, 1)
	go func() {
		_, err := agent.Stream(ctx, "q", out)
		done <- err
	}()
	<-out
	cancel()
	err := <-done
	require.ErrorIs(t, err, context.Canceled)
}

func TestBuildSystemPromptWithoutTools(t *testing.T) {
	assert.Contains(t, BuildSystemPrompt(nil), "(none)")
	agent := &ToolAgent{SystemPrompt: "custom"}
	assert.Equal(t, "custom", agent.systemPrompt(nil))
}
