package framework

import "strings"

// InstructionKind enumerates what a renderer should do next.
type InstructionKind string

const (
	// InstructionRender replaces the current rendering target with Text. Text
	// always holds the full buffer, never a delta.
	InstructionRender InstructionKind = "render"
	// InstructionFlush finalizes Text into the current target before a tool
	// notice interrupts the answer.
	InstructionFlush InstructionKind = "flush"
	// InstructionAnnounce shows a "tool running" notice for ToolName. Text
	// rendered afterwards goes to a new, empty target.
	InstructionAnnounce InstructionKind = "announce"
	// InstructionFinalFlush finalizes the last target once the stream ends.
	InstructionFinalFlush InstructionKind = "final"
	// InstructionNotice carries a system message produced outside the
	// classifier, such as a tool server that failed to connect.
	InstructionNotice InstructionKind = "notice"
)

// Instruction is one rendering step for the UI.
type Instruction struct {
	Kind     InstructionKind `json:"kind"`
	Text     string          `json:"text,omitempty"`
	ToolName string          `json:"tool,omitempty"`
}

// DefaultCursor is appended to in-progress renders when a cursor is enabled.
const DefaultCursor = "▌"

// RenderOption customizes a RenderState.
type RenderOption func(*RenderState)

// WithCursor appends marker to every in-progress render. Final flushes never
// carry the marker.
func WithCursor(marker string) RenderOption {
	return func(s *RenderState) {
		s.cursor = marker
	}
}

// RenderState holds the in-progress answer for one question. It must not be
// shared between questions.
type RenderState struct {
	cursor    string
	buf       strings.Builder
	announced map[string]struct{}
	finished  bool
}

// NewRenderState returns an empty state.
func NewRenderState(opts ...RenderOption) *RenderState {
	s := &RenderState{announced: make(map[string]struct{})}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle classifies one event and returns the instructions it triggers.
func (s *RenderState) Handle(ev StreamEvent) []Instruction {
	if s.finished {
		return nil
	}
	var out []Instruction
	if tu := ev.ToolUse; tu != nil && tu.ToolUseID != "" && tu.Name != "" {
		if _, seen := s.announced[tu.ToolUseID]; !seen {
			s.announced[tu.ToolUseID] = struct{}{}
			if s.buf.Len() > 0 {
				out = append(out, Instruction{Kind: InstructionFlush, Text: s.buf.String()})
				s.buf.Reset()
			}
			out = append(out, Instruction{Kind: InstructionAnnounce, ToolName: tu.Name})
		}
	}
	if ev.Text != "" {
		s.buf.WriteString(ev.Text)
		out = append(out, Instruction{Kind: InstructionRender, Text: s.buf.String() + s.cursor})
	}
	return out
}

// Finish emits the final flush, if any text is pending. Later calls to Handle
// or Finish emit nothing.
func (s *RenderState) Finish() []Instruction {
	if s.finished {
		return nil
	}
	s.finished = true
	if s.buf.Len() == 0 {
		return nil
	}
	text := s.buf.String()
	s.buf.Reset()
	return []Instruction{{Kind: InstructionFinalFlush, Text: text}}
}

// Buffer returns the text accumulated since the last flush.
func (s *RenderState) Buffer() string {
	return s.buf.String()
}

// Announced reports whether toolUseID already produced a notice.
func (s *RenderState) Announced(toolUseID string) bool {
	_, ok := s.announced[toolUseID]
	return ok
}
