package framework

import (
	"strings"
	"time"
)

// Usage counts model tokens for one run.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Add accumulates another usage report.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// Answer is the completed result of one question.
type Answer struct {
	Question string `json:"question"`
	// Segments holds every flushed text segment in order.
	Segments []string `json:"segments"`
	// Tools holds the announced tool names in order.
	Tools    []string      `json:"tools,omitempty"`
	Failures []string      `json:"failures,omitempty"`
	Duration time.Duration `json:"duration"`
	Usage    Usage         `json:"usage"`
}

// Text joins the segments with blank lines.
func (a *Answer) Text() string {
	if a == nil {
		return ""
	}
	return strings.Join(a.Segments, "\n\n")
}

// AnswerCollector is a Sink that builds an Answer from instructions.
type AnswerCollector struct {
	Answer Answer
}

// Apply records flushes, final flushes, and announcements.
func (c *AnswerCollector) Apply(in Instruction) error {
	switch in.Kind {
	case InstructionFlush, InstructionFinalFlush:
		c.Answer.Segments = append(c.Answer.Segments, in.Text)
	case InstructionAnnounce:
		c.Answer.Tools = append(c.Answer.Tools, in.ToolName)
	case InstructionNotice:
		c.Answer.Failures = append(c.Answer.Failures, in.Text)
	}
	return nil
}

// Tee fans instructions out to several sinks, stopping at the first error.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(in Instruction) error {
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s.Apply(in); err != nil {
				return err
			}
		}
		return nil
	})
}
