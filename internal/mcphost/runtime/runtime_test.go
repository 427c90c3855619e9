package runtime

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/mcphost/framework"
	"github.com/lexcodex/mcphost/tools"
)

type fakeClient struct {
	mu     sync.Mutex
	tools  []tools.MCPTool
	closed int
}

func (f *fakeClient) ServerInfo() tools.Implementation { return tools.Implementation{Name: "fake"} }

func (f *fakeClient) ListTools(context.Context) ([]tools.MCPTool, error) { return f.tools, nil }

func (f *fakeClient) CallTool(context.Context, string, map[string]any) (*tools.CallToolResult, error) {
	return &tools.CallToolResult{Content: []tools.ContentItem{{Type: "text", Text: "ok"}}}, nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

// fakeDialer hands out one client per package and fails packages named
// "broken".
type fakeDialer struct {
	mu      sync.Mutex
	dialed  []string
	clients map[string]*fakeClient
}

func (d *fakeDialer) Dial(_ context.Context, cfg framework.ToolServerConfig) (tools.MCPClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, cfg.Package)
	if cfg.Package == "broken" {
		return nil, errors.New("spawn failed")
	}
	if d.clients == nil {
		d.clients = map[string]*fakeClient{}
	}
	client := &fakeClient{tools: []tools.MCPTool{{Name: cfg.Package + "_search"}}}
	d.clients[cfg.Package] = client
	return client, nil
}

func (d *fakeDialer) closedCounts() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := map[string]int{}
	for pkg, c := range d.clients {
		out[pkg] = c.closed
	}
	return out
}

type streamFunc func(ctx context.Context, question string, out chan<- map[string]any) (framework.Usage, error)

func (f streamFunc) Stream(ctx context.Context, question string, out chan<- map[string]any) (framework.Usage, error) {
	return f(ctx, question, out)
}

func emit(ctx context.Context, out chan<- map[string]any, records ...map[string]any) error {
	for _, rec := range records {
		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func newTestRuntime(t *testing.T, dialer tools.Dialer, factory AgentFactory, mutate ...func(*Config)) *Runtime {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Workspace = dir
	cfg.ConfigPath = ""
	cfg.LogPath = ""
	cfg.HistoryBackend = HistoryBackendFile
	cfg.HistoryPath = filepath.Join(dir, "history")
	for _, fn := range mutate {
		fn(&cfg)
	}
	rt, err := New(context.Background(), cfg, WithLogOutput(io.Discard), WithDialer(dialer), WithAgentFactory(factory))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func list(pkgs ...string) *framework.ServerList {
	l := framework.NewServerList()
	for _, pkg := range pkgs {
		l.Add(framework.ToolServerConfig{Mechanism: framework.LaunchUVX, Package: pkg})
	}
	return l
}

func kinds(instructions []framework.Instruction) []framework.InstructionKind {
	out := make([]framework.InstructionKind, len(instructions))
	for i, in := range instructions {
		out[i] = in.Kind
	}
	return out
}

func TestAskRejectsEmptyServerListWithoutDialing(t *testing.T) {
	dialer := &fakeDialer{}
	rt := newTestRuntime(t, dialer, func(*framework.ToolRegistry) Streamer {
		t.Fatal("agent must not be built")
		return nil
	})

	answer, err := rt.Ask(context.Background(), framework.NewServerList(), "hello", nil)
	assert.ErrorIs(t, err, framework.ErrNoToolServers)
	assert.Nil(t, answer)
	assert.Empty(t, dialer.dialed)

	_, err = rt.Ask(context.Background(), list("docs"), "   ", nil)
	assert.ErrorIs(t, err, framework.ErrEmptyQuestion)
	assert.Empty(t, dialer.dialed)
}

func TestAskStreamsAnswerAndClosesConnections(t *testing.T) {
	dialer := &fakeDialer{}
	var offered []string
	rt := newTestRuntime(t, dialer, func(registry *framework.ToolRegistry) Streamer {
		for _, tool := range registry.All() {
			offered = append(offered, tool.Name())
		}
		return streamFunc(func(ctx context.Context, question string, out chan<- map[string]any) (framework.Usage, error) {
			err := emit(ctx, out,
				framework.TextRecord("Hello"),
				framework.ToolUseRecord("t1", "docs_search"),
				framework.TextRecord("World"),
			)
			return framework.Usage{PromptTokens: 3, CompletionTokens: 2}, err
		})
	})

	recorder := &framework.Recorder{}
	answer, err := rt.Ask(context.Background(), list("docs", "wiki"), "what?", recorder)
	require.NoError(t, err)

	assert.Equal(t, []string{"docs_search", "wiki_search"}, offered)
	assert.Equal(t, []framework.InstructionKind{
		framework.InstructionRender,
		framework.InstructionFlush,
		framework.InstructionAnnounce,
		framework.InstructionRender,
		framework.InstructionFinalFlush,
	}, kinds(recorder.Instructions()))
	assert.Equal(t, []string{"Hello", "World"}, answer.Segments)
	assert.Equal(t, []string{"docs_search"}, answer.Tools)
	assert.Equal(t, 5, answer.Usage.Total())
	assert.Equal(t, "what?", answer.Question)
	assert.Equal(t, map[string]int{"docs": 1, "wiki": 1}, dialer.closedCounts())

	history, err := rt.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "what?", history[0].Question)
	assert.Equal(t, []string{"Hello", "World"}, history[0].Segments)
	assert.Empty(t, history[0].Error)
	assert.Equal(t, DefaultModel, history[0].Model)
}

func TestAskReportsFailedServersAndUsesTheRest(t *testing.T) {
	dialer := &fakeDialer{}
	var toolCount int
	rt := newTestRuntime(t, dialer, func(registry *framework.ToolRegistry) Streamer {
		toolCount = registry.Len()
		return streamFunc(func(ctx context.Context, question string, out chan<- map[string]any) (framework.Usage, error) {
			return framework.Usage{}, emit(ctx, out, framework.TextRecord("done"))
		})
	})

	recorder := &framework.Recorder{}
	answer, err := rt.Ask(context.Background(), list("broken", "docs"), "q", recorder)
	require.NoError(t, err)
	assert.Equal(t, 1, toolCount)
	assert.Equal(t, []string{"broken", "docs"}, dialer.dialed)

	got := recorder.Instructions()
	require.NotEmpty(t, got)
	assert.Equal(t, framework.InstructionNotice, got[0].Kind)
	assert.Contains(t, got[0].Text, "spawn failed")
	require.Len(t, answer.Failures, 1)
	assert.Equal(t, []string{"done"}, answer.Segments)
}

func TestAskFailsWhenNoServerConnects(t *testing.T) {
	dialer := &fakeDialer{}
	rt := newTestRuntime(t, dialer, func(*framework.ToolRegistry) Streamer {
		t.Fatal("agent must not be built")
		return nil
	})

	answer, err := rt.Ask(context.Background(), list("broken", "broken"), "q", nil)
	assert.ErrorIs(t, err, framework.ErrNoConnections)
	require.NotNil(t, answer)
	assert.Len(t, answer.Failures, 2)

	history, err := rt.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Contains(t, history[0].Error, framework.ErrNoConnections.Error())
}

func TestAskTimeoutAbandonsPartialAnswer(t *testing.T) {
	dialer := &fakeDialer{}
	rt := newTestRuntime(t, dialer, func(*framework.ToolRegistry) Streamer {
		return streamFunc(func(ctx context.Context, question string, out chan<- map[string]any) (framework.Usage, error) {
			if err := emit(ctx, out, framework.TextRecord("partial")); err != nil {
				return framework.Usage{}, err
			}
			<-ctx.Done()
			return framework.Usage{}, ctx.Err()
		})
	}, func(cfg *Config) { cfg.Timeout = 50 * time.Millisecond })

	recorder := &framework.Recorder{}
	answer, err := rt.Ask(context.Background(), list("docs"), "slow", recorder)
	assert.ErrorIs(t, err, framework.ErrStreamTimeout)
	assert.Equal(t, []framework.InstructionKind{framework.InstructionRender}, kinds(recorder.Instructions()))
	assert.Empty(t, answer.Segments)
	assert.Equal(t, map[string]int{"docs": 1}, dialer.closedCounts())
}

func TestAskSurfacesAgentError(t *testing.T) {
	dialer := &fakeDialer{}
	boom := errors.New("model exploded")
	rt := newTestRuntime(t, dialer, func(*framework.ToolRegistry) Streamer {
		return streamFunc(func(ctx context.Context, question string, out chan<- map[string]any) (framework.Usage, error) {
			if err := emit(ctx, out, framework.TextRecord("half")); err != nil {
				return framework.Usage{}, err
			}
			return framework.Usage{}, boom
		})
	})

	recorder := &framework.Recorder{}
	_, err := rt.Ask(context.Background(), list("docs"), "q", recorder)
	assert.ErrorIs(t, err, boom)
	for _, in := range recorder.Instructions() {
		assert.NotEqual(t, framework.InstructionFinalFlush, in.Kind)
	}
	assert.Equal(t, map[string]int{"docs": 1}, dialer.closedCounts())
}

func TestAskStopsOnSinkError(t *testing.T) {
	dialer := &fakeDialer{}
	rt := newTestRuntime(t, dialer, func(*framework.ToolRegistry) Streamer {
		return streamFunc(func(ctx context.Context, question string, out chan<- map[string]any) (framework.Usage, error) {
			for {
				if err := emit(ctx, out, framework.TextRecord("x")); err != nil {
					return framework.Usage{}, err
				}
			}
		})
	})

	gone := errors.New("client went away")
	_, err := rt.Ask(context.Background(), list("docs"), "q", framework.SinkFunc(func(framework.Instruction) error {
		return gone
	}))
	assert.ErrorIs(t, err, gone)
	assert.Equal(t, map[string]int{"docs": 1}, dialer.closedCounts())
}

func TestAskAppliesCursorOption(t *testing.T) {
	rt := newTestRuntime(t, &fakeDialer{}, func(*framework.ToolRegistry) Streamer {
		return streamFunc(func(ctx context.Context, question string, out chan<- map[string]any) (framework.Usage, error) {
			return framework.Usage{}, emit(ctx, out, framework.TextRecord("Hi"))
		})
	})
	recorder := &framework.Recorder{}
	_, err := rt.Ask(context.Background(), list("docs"), "q", recorder, framework.WithCursor("▌"))
	require.NoError(t, err)
	got := recorder.Instructions()
	require.Len(t, got, 2)
	assert.Equal(t, "Hi▌", got[0].Text)
	assert.Equal(t, "Hi", got[1].Text)
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Contains(t, UserMessage(framework.ErrNoToolServers), "/add")
	assert.Contains(t, UserMessage(framework.ErrStreamTimeout), "try your question again")
	assert.Contains(t, UserMessage(errors.New("weird")), "weird")
}

func TestSetModel(t *testing.T) {
	rt := newTestRuntime(t, &fakeDialer{}, nil)
	assert.Equal(t, DefaultModel, rt.ModelName())
	require.NoError(t, rt.SetModel("qwen2.5"))
	assert.Equal(t, "qwen2.5", rt.ModelName())
	assert.Error(t, rt.SetModel(" "))
}

func TestConfigNormalizeResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Workspace: dir, HistoryBackend: HistoryBackendFile}
	require.NoError(t, cfg.Normalize())
	assert.Equal(t, filepath.Join(dir, ".mcphost", "history"), cfg.HistoryPath)
	assert.Equal(t, filepath.Join(dir, ".mcphost", "mcphost.log"), cfg.LogPath)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultModel, cfg.OllamaModel)

	bad := Config{Workspace: dir, HistoryBackend: "postgres"}
	assert.Error(t, bad.Normalize())

	badServer := Config{Workspace: dir, Servers: []framework.ToolServerConfig{{Mechanism: "pip", Package: "x"}}}
	assert.Error(t, badServer.Normalize())
}

func TestConfigFileRoundTripAndOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".mcphost", "config.yaml")
	saved := Config{
		OllamaModel: "qwen2.5",
		Timeout:     2 * time.Minute,
		Servers:     []framework.ToolServerConfig{{Mechanism: framework.LaunchNPX, Package: "@modelcontextprotocol/server-everything"}},
	}
	require.NoError(t, SaveConfigFile(path, saved))
	loaded, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, saved.OllamaModel, loaded.OllamaModel)
	assert.Equal(t, saved.Timeout, loaded.Timeout)
	assert.Equal(t, saved.Servers, loaded.Servers)

	cfg := DefaultConfig()
	cfg.Overlay(loaded)
	cfg.Overlay(Config{Debug: true})
	assert.Equal(t, "qwen2.5", cfg.OllamaModel)
	assert.Equal(t, saved.Servers, cfg.Servers)
	assert.True(t, cfg.Debug)
	assert.Equal(t, framework.DefaultCursor, cfg.Cursor)

	_, err = LoadConfigFile(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
