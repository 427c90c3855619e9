package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lexcodex/mcphost/framework"
	"github.com/lexcodex/mcphost/persistence"
)

// Backend runs questions and exposes history.
type Backend interface {
	Ask(ctx context.Context, servers *framework.ServerList, question string, sink framework.Sink, opts ...framework.RenderOption) (*framework.Answer, error)
	Recent(ctx context.Context, limit int) ([]persistence.Transcript, error)
	DefaultServers() []framework.ToolServerConfig
}

// APIServer exposes the question flow over HTTP and websockets.
type APIServer struct {
	Backend Backend
	Auth    *TokenAuth
	Logger  *log.Logger
	// KeepAlive is the idle interval after which /api/ask sends an SSE
	// comment, so proxies keep the stream open during long tool calls.
	// Zero means DefaultKeepAlive; negative disables it.
	KeepAlive time.Duration
}

// DefaultKeepAlive is the SSE keep-alive interval used when none is set.
const DefaultKeepAlive = 15 * time.Second

// AskRequest is the payload of POST /api/ask and websocket ask frames. A nil
// Servers field selects the default list; an explicit empty list is rejected.
type AskRequest struct {
	Question string                       `json:"question"`
	Servers  []framework.ToolServerConfig `json:"servers"`
}

// DoneEvent summarizes a finished run.
type DoneEvent struct {
	Segments   []string        `json:"segments"`
	Tools      []string        `json:"tools,omitempty"`
	Failures   []string        `json:"failures,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	Usage      framework.Usage `json:"usage"`
}

func doneEvent(answer *framework.Answer) DoneEvent {
	if answer == nil {
		return DoneEvent{}
	}
	return DoneEvent{
		Segments:   answer.Segments,
		Tools:      answer.Tools,
		Failures:   answer.Failures,
		DurationMS: answer.Duration.Milliseconds(),
		Usage:      answer.Usage,
	}
}

// Serve starts listening on the provided address.
func (s *APIServer) Serve(addr string) error {
	return s.ServeContext(context.Background(), addr)
}

// ServeContext allows the caller to control shutdown via context cancellation.
func (s *APIServer) ServeContext(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.logf("API listening on %s", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler returns the routed, authenticated handler.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ask", s.handleAsk)
	mux.HandleFunc("/api/ws", s.handleWebSocket)
	mux.HandleFunc("/api/servers", s.handleServers)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	return s.Auth.Middleware(mux)
}

// prepare validates a request before any output is produced.
func (s *APIServer) prepare(req AskRequest) (*framework.ServerList, string, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, "", framework.ErrEmptyQuestion
	}
	servers := req.Servers
	if servers == nil {
		servers = s.Backend.DefaultServers()
	}
	list := framework.NewServerList(servers...)
	if err := list.Validate(); err != nil {
		return nil, "", err
	}
	return list, question, nil
}

func (s *APIServer) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, question, err := s.prepare(req)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	stream := newSSEWriter(w)
	if stream == nil {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ctx := r.Context()
	sink := framework.SinkFunc(func(in framework.Instruction) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return stream.SendEvent(string(in.Kind), in)
	})
	s.logf("ask from %s: %q (%d servers)", SubjectFromContext(ctx), question, list.Len())
	stopKeepAlive := s.keepAlive(ctx, stream)
	answer, err := s.Backend.Ask(ctx, list, question, sink)
	stopKeepAlive()
	if err != nil {
		if ctx.Err() == nil {
			_ = stream.SendEvent("error", map[string]string{"error": err.Error()})
		}
		return
	}
	_ = stream.SendEvent("done", doneEvent(answer))
}

// keepAlive sends comments on stream until the returned stop is called.
func (s *APIServer) keepAlive(ctx context.Context, stream *sseWriter) (stop func()) {
	interval := s.KeepAlive
	if interval == 0 {
		interval = DefaultKeepAlive
	}
	if interval < 0 {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stream.SendComment("keep-alive")
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

func (s *APIServer) handleServers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{
		"servers":    s.Backend.DefaultServers(),
		"mechanisms": framework.LaunchMechanisms,
	})
}

func (s *APIServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	transcripts, err := s.Backend.Recent(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if transcripts == nil {
		transcripts = []persistence.Transcript{}
	}
	writeJSON(w, map[string]any{"transcripts": transcripts})
}

func (s *APIServer) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
