package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lexcodex/mcphost/agents"
	"github.com/lexcodex/mcphost/framework"
	"github.com/lexcodex/mcphost/llm"
	"github.com/lexcodex/mcphost/persistence"
	"github.com/lexcodex/mcphost/server"
	"github.com/lexcodex/mcphost/tools"
)

// Streamer produces the response records for one question.
type Streamer interface {
	Stream(ctx context.Context, question string, out chan<- map[string]any) (framework.Usage, error)
}

// AgentFactory builds the agent for one run from the tools aggregated for it.
type AgentFactory func(tools *framework.ToolRegistry) Streamer

// Runtime wires the mcphost CLI, Bubble Tea UI, and API server to the shared
// question flow. It owns logging, telemetry, and the history store.
type Runtime struct {
	Config    Config
	Logger    *log.Logger
	Telemetry framework.Telemetry
	History   persistence.HistoryStore
	Dialer    tools.Dialer
	Client    *llm.Client

	newAgent AgentFactory
	closers  []io.Closer

	modelMu   sync.RWMutex
	modelName string

	serverMu     sync.Mutex
	serverCancel context.CancelFunc
}

// Option customizes New.
type Option func(*options)

type options struct {
	logOutput io.Writer
	dialer    tools.Dialer
	factory   AgentFactory
	history   persistence.HistoryStore
}

// WithLogOutput sends log lines to w instead of the configured log file.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// WithDialer replaces the MCP dialer.
func WithDialer(d tools.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithAgentFactory replaces the Ollama-backed tool agent.
func WithAgentFactory(f AgentFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithHistoryStore replaces the configured history backend.
func WithHistoryStore(h persistence.HistoryStore) Option {
	return func(o *options) { o.history = h }
}

// New builds a runtime from cfg. The returned runtime must be closed.
func New(ctx context.Context, cfg Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	rt := &Runtime{Config: cfg, modelName: cfg.OllamaModel}

	logOutput := o.logOutput
	if logOutput == nil {
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		logFile, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log: %w", err)
		}
		rt.closers = append(rt.closers, logFile)
		logOutput = logFile
		if cfg.Debug {
			logOutput = io.MultiWriter(os.Stderr, logFile)
		}
	}
	rt.Logger = log.New(logOutput, "mcphost ", log.LstdFlags|log.Lmicroseconds)

	sinks := []framework.Telemetry{}
	if cfg.Debug {
		sinks = append(sinks, framework.LoggerTelemetry{Logger: rt.Logger})
	}
	if cfg.TelemetryPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.TelemetryPath), 0o755); err != nil {
			rt.Close()
			return nil, fmt.Errorf("create telemetry directory: %w", err)
		}
		file, err := framework.NewJSONFileTelemetry(cfg.TelemetryPath)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open telemetry: %w", err)
		}
		rt.closers = append(rt.closers, file)
		sinks = append(sinks, file)
	}
	rt.Telemetry = framework.MultiplexTelemetry{Sinks: sinks}

	rt.History = o.history
	if rt.History == nil {
		history, err := openHistory(cfg)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("history init: %w", err)
		}
		rt.History = history
	}
	rt.closers = append(rt.closers, rt.History)

	rt.Dialer = o.dialer
	if rt.Dialer == nil {
		rt.Dialer = tools.MCPDialer{Dir: cfg.Workspace, Stderr: logOutput}
	}
	rt.Client = llm.NewClient(cfg.OllamaEndpoint, cfg.OllamaModel)
	rt.Client.Logger = rt.Logger
	rt.Client.SetDebugLogging(cfg.Debug)
	rt.newAgent = o.factory
	if rt.newAgent == nil {
		rt.newAgent = rt.toolAgent
	}
	rt.Logger.Printf("runtime ready (model=%s servers=%d history=%s)", cfg.OllamaModel, len(cfg.Servers), cfg.HistoryBackend)
	return rt, nil
}

func openHistory(cfg Config) (persistence.HistoryStore, error) {
	if cfg.HistoryBackend == HistoryBackendFile {
		return persistence.NewFileHistoryStore(cfg.HistoryPath)
	}
	return persistence.NewSQLiteHistoryStore(cfg.HistoryPath)
}

func (r *Runtime) toolAgent(registry *framework.ToolRegistry) Streamer {
	return &agents.ToolAgent{
		Model:         llm.NewInstrumentedModel(r.Client, r.Telemetry, r.Config.Debug),
		Tools:         registry,
		Options:       &llm.Options{Model: r.ModelName(), Temperature: r.Config.Temperature},
		MaxIterations: r.Config.MaxIterations,
		Telemetry:     r.Telemetry,
		Logger:        r.Logger,
		Debug:         r.Config.Debug,
	}
}

// Close releases resources managed by runtime. Every closer is attempted.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// ModelName returns the model used for new runs.
func (r *Runtime) ModelName() string {
	r.modelMu.RLock()
	defer r.modelMu.RUnlock()
	return r.modelName
}

// SetModel switches the model used for new runs.
func (r *Runtime) SetModel(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("model name required")
	}
	r.modelMu.Lock()
	r.modelName = name
	r.modelMu.Unlock()
	r.Logger.Printf("model set to %s", name)
	return nil
}

// ListModels returns the models installed on the Ollama endpoint.
func (r *Runtime) ListModels(ctx context.Context) ([]string, error) {
	return r.Client.ListModels(ctx)
}

// DefaultServers returns a copy of the configured tool-server list.
func (r *Runtime) DefaultServers() []framework.ToolServerConfig {
	return append([]framework.ToolServerConfig(nil), r.Config.Servers...)
}

// Recent returns the latest transcripts.
func (r *Runtime) Recent(ctx context.Context, limit int) ([]persistence.Transcript, error) {
	if r.History == nil {
		return nil, nil
	}
	return r.History.Recent(ctx, limit)
}

// Ask answers question with the tools of every reachable server in servers.
// Instructions are applied to sink as the response streams. Connections are
// always closed before Ask returns. The returned answer is non-nil whenever
// the run got past validation, even if err is set.
func (r *Runtime) Ask(ctx context.Context, servers *framework.ServerList, question string, sink framework.Sink, opts ...framework.RenderOption) (*framework.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, framework.ErrEmptyQuestion
	}
	if err := servers.Validate(); err != nil {
		return nil, err
	}
	runID := fmt.Sprintf("run-%d", time.Now().UnixNano())
	ctx = framework.WithRunID(ctx, runID)
	started := time.Now()
	collector := &framework.AnswerCollector{}
	out := framework.Tee(sink, collector)
	r.emit(ctx, framework.EventRunStart, question, map[string]any{"servers": servers.Len(), "model": r.ModelName()})

	answer, err := r.run(ctx, servers.All(), question, out, opts)
	collector.Answer.Question = question
	collector.Answer.Duration = time.Since(started)
	if answer != nil {
		collector.Answer.Usage = answer.Usage
	}
	result := &collector.Answer

	meta := map[string]any{"duration_ms": result.Duration.Milliseconds(), "tokens": result.Usage.Total()}
	if err != nil {
		meta["error"] = err.Error()
	}
	r.emit(ctx, framework.EventRunFinish, question, meta)
	r.record(runID, servers.All(), result, err, started)
	return result, err
}

func (r *Runtime) run(ctx context.Context, servers []framework.ToolServerConfig, question string, sink framework.Sink, opts []framework.RenderOption) (*framework.Answer, error) {
	conns, connErrs := tools.ConnectAll(ctx, r.Dialer, servers)
	defer tools.CloseAll(conns, r.Logger)
	for _, connErr := range connErrs {
		r.Logger.Printf("connect %s: %v", connErr.Config, connErr.Err)
		r.emit(ctx, framework.EventConnectError, connErr.Error(), map[string]any{"server": connErr.Config.String()})
		if err := sink.Apply(framework.Instruction{Kind: framework.InstructionNotice, Text: connErr.Error()}); err != nil {
			return nil, err
		}
	}
	if len(conns) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", framework.ErrNoConnections, tools.JoinConnectionErrors(connErrs))
	}
	for _, conn := range conns {
		var fields map[string]any
		if meta, ok := tools.ProcessMetadataFor(conn); ok {
			r.Logger.Printf("tool server %s running as pid %d (%s)", conn.Label(), meta.PID, meta.CommandLine())
			fields = map[string]any{"pid": meta.PID}
		}
		r.emit(ctx, framework.EventConnect, conn.Label(), fields)
	}

	registry, toolErrs := framework.AggregateTools(ctx, tools.Sources(conns))
	for _, toolErr := range toolErrs {
		r.Logger.Printf("list tools: %v", toolErr)
		if err := sink.Apply(framework.Instruction{Kind: framework.InstructionNotice, Text: toolErr.Error()}); err != nil {
			return nil, err
		}
	}
	r.Logger.Printf("run %s: %d tools from %d servers", framework.RunIDFrom(ctx), registry.Len(), len(conns))
	agent := r.newAgent(registry)

	timeout := r.Config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timeoutCtx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()
	runCtx, cancel := context.WithCancelCause(timeoutCtx)
	defer cancel(nil)

	events := make(chan map[string]any)
	done := make(chan struct{})
	var usage framework.Usage
	go func() {
		defer close(done)
		defer close(events)
		u, err := agent.Stream(runCtx, question, events)
		usage = u
		if err != nil {
			cancel(err)
		}
	}()

	classifyErr := framework.Classify(runCtx, events, framework.NewRenderState(opts...), sink)
	if classifyErr != nil {
		cancel(classifyErr)
	}
	<-done
	answer := &framework.Answer{Usage: usage}
	if classifyErr == nil {
		return answer, nil
	}
	cause := context.Cause(runCtx)
	switch {
	case errors.Is(cause, context.DeadlineExceeded):
		r.emit(ctx, framework.EventStreamTimeout, question, map[string]any{"timeout": timeout.String()})
		return answer, framework.ErrStreamTimeout
	case cause != nil && !errors.Is(cause, context.Canceled):
		return answer, cause
	case ctx.Err() != nil:
		return answer, ctx.Err()
	default:
		return answer, classifyErr
	}
}

func (r *Runtime) record(runID string, servers []framework.ToolServerConfig, answer *framework.Answer, runErr error, started time.Time) {
	if r.History == nil {
		return
	}
	t := persistence.Transcript{
		ID:         runID,
		Question:   answer.Question,
		Model:      r.ModelName(),
		Servers:    servers,
		Segments:   answer.Segments,
		Tools:      answer.Tools,
		Failures:   answer.Failures,
		Usage:      answer.Usage,
		StartedAt:  started.UTC(),
		FinishedAt: started.Add(answer.Duration).UTC(),
	}
	if runErr != nil {
		t.Error = runErr.Error()
	}
	// the run context may already be cancelled
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.History.Save(saveCtx, t); err != nil {
		r.Logger.Printf("save transcript %s: %v", runID, err)
	}
}

func (r *Runtime) emit(ctx context.Context, kind framework.EventType, msg string, meta map[string]any) {
	if r.Telemetry == nil {
		return
	}
	r.Telemetry.Emit(framework.Event{
		Type:      kind,
		RunID:     framework.RunIDFrom(ctx),
		Message:   msg,
		Timestamp: time.Now().UTC(),
		Metadata:  meta,
	})
}

// UserMessage converts a run error into the text shown to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, framework.ErrNoToolServers):
		return "No tool servers configured. Add one with /add before asking."
	case errors.Is(err, framework.ErrStreamTimeout):
		return "The response stream timed out. Please try your question again."
	case errors.Is(err, framework.ErrNoConnections):
		return "None of the tool servers could be started. Check the server list and try again."
	case errors.Is(err, framework.ErrEmptyQuestion):
		return "Type a question first."
	case errors.Is(err, agents.ErrIterationLimit):
		return "The model kept calling tools without answering. Try a more specific question."
	case errors.Is(err, context.Canceled):
		return "Cancelled."
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

// StartServer launches the HTTP API server. The returned stop function shuts
// the server down using the provided context.
func (r *Runtime) StartServer(ctx context.Context, addr string) (func(context.Context) error, error) {
	r.serverMu.Lock()
	defer r.serverMu.Unlock()
	if r.serverCancel != nil {
		return nil, errors.New("server already running")
	}
	if addr == "" {
		addr = r.Config.ServerAddr
	}
	api := r.APIServer()
	serverCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- api.ServeContext(serverCtx, addr)
	}()
	r.serverCancel = cancel
	stopFn := func(shutdownCtx context.Context) error {
		r.serverMu.Lock()
		if r.serverCancel == nil {
			r.serverMu.Unlock()
			return nil
		}
		r.serverCancel()
		r.serverCancel = nil
		r.serverMu.Unlock()
		select {
		case err := <-errCh:
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		}
	}
	return stopFn, nil
}

// APIServer builds the HTTP front end for this runtime.
func (r *Runtime) APIServer() *server.APIServer {
	return &server.APIServer{
		Backend: r,
		Auth:    server.NewTokenAuth(r.Config.AuthSecret, 0),
		Logger:  r.Logger,
	}
}
