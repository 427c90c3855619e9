package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/lexcodex/mcphost/framework"
)

// terminalSink prints answer text to out as it streams. Render instructions
// carry the whole segment so far; only the unseen suffix is written. Tool
// announcements and notices go to status so piped output stays clean.
type terminalSink struct {
	out     io.Writer
	status  io.Writer
	printed string
}

func newTerminalSink(out, status io.Writer) *terminalSink {
	return &terminalSink{out: out, status: status}
}

func (s *terminalSink) Apply(in framework.Instruction) error {
	switch in.Kind {
	case framework.InstructionRender:
		return s.write(in.Text)
	case framework.InstructionFlush:
		if err := s.write(in.Text); err != nil {
			return err
		}
		s.printed = ""
		_, err := io.WriteString(s.out, "\n\n")
		return err
	case framework.InstructionFinalFlush:
		if err := s.write(in.Text); err != nil {
			return err
		}
		s.printed = ""
		_, err := io.WriteString(s.out, "\n")
		return err
	case framework.InstructionAnnounce:
		_, err := fmt.Fprintf(s.status, "→ running tool: %s\n", in.ToolName)
		return err
	case framework.InstructionNotice:
		_, err := fmt.Fprintf(s.status, "warning: %s\n", in.Text)
		return err
	}
	return nil
}

func (s *terminalSink) write(text string) error {
	if !strings.HasPrefix(text, s.printed) {
		// the segment was rewritten; start a fresh line
		if _, err := io.WriteString(s.out, "\n"); err != nil {
			return err
		}
		s.printed = ""
	}
	delta := text[len(s.printed):]
	if delta == "" {
		return nil
	}
	if _, err := io.WriteString(s.out, delta); err != nil {
		return err
	}
	s.printed = text
	return nil
}
