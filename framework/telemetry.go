package framework

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// EventType categorizes telemetry events.
type EventType string

const (
	EventRunStart      EventType = "run_start"
	EventRunFinish     EventType = "run_finish"
	EventConnect       EventType = "connect"
	EventConnectError  EventType = "connect_error"
	EventToolCall      EventType = "tool_call"
	EventToolResult    EventType = "tool_result"
	EventStreamTimeout EventType = "stream_timeout"
	EventLLMPrompt     EventType = "llm_prompt"
	EventLLMResponse   EventType = "llm_response"
)

type runIDKey struct{}

// WithRunID tags ctx with the id of the current run.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom returns the run id stored by WithRunID.
func RunIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Event captures structured telemetry data.
type Event struct {
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Telemetry receives run events.
type Telemetry interface {
	Emit(event Event)
}

// NopTelemetry drops every event.
type NopTelemetry struct{}

func (NopTelemetry) Emit(Event) {}

// MultiplexTelemetry fans each event out to every non-nil sink.
type MultiplexTelemetry struct {
	Sinks []Telemetry
}

func (m MultiplexTelemetry) Emit(event Event) {
	for _, sink := range m.Sinks {
		if sink == nil {
			continue
		}
		sink.Emit(event)
	}
}

// JSONFileTelemetry appends one JSON object per event to a file. Emit after
// Close is a no-op.
type JSONFileTelemetry struct {
	mu   sync.Mutex
	file *os.File
}

// NewJSONFileTelemetry opens path for appending, creating it if needed.
func NewJSONFileTelemetry(path string) (*JSONFileTelemetry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONFileTelemetry{file: f}, nil
}

func (j *JSONFileTelemetry) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(event)
	if err != nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return
	}
	_, _ = j.file.Write(append(line, '\n'))
}

func (j *JSONFileTelemetry) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// LoggerTelemetry writes events as single log lines, for --debug runs.
type LoggerTelemetry struct {
	Logger *log.Logger
}

func (t LoggerTelemetry) Emit(event Event) {
	logger := t.Logger
	if logger == nil {
		logger = log.Default()
	}
	line := fmt.Sprintf("[%s] run=%s", event.Type, event.RunID)
	if len(event.Metadata) > 0 {
		line += fmt.Sprintf(" meta=%v", event.Metadata)
	}
	if event.Message != "" {
		line += " msg=" + event.Message
	}
	logger.Print(line)
}
