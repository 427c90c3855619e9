package framework

import (
	"context"
	"sync"
)

// Sink receives render instructions in order.
type Sink interface {
	Apply(Instruction) error
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(Instruction) error

// Apply calls f.
func (f SinkFunc) Apply(in Instruction) error { return f(in) }

// Recorder is a Sink that keeps every instruction it sees.
type Recorder struct {
	mu           sync.Mutex
	instructions []Instruction
}

// Apply records the instruction.
func (r *Recorder) Apply(in Instruction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instructions = append(r.instructions, in)
	return nil
}

// Instructions returns a snapshot of the recorded instructions.
func (r *Recorder) Instructions() []Instruction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Instruction, len(r.instructions))
	copy(out, r.instructions)
	return out
}

// Classify drains events into sink through state. Each event's instructions
// are applied before the next event is received. When events closes the
// final flush is applied. Cancelling ctx abandons the pending buffer and
// returns the context error.
func Classify(ctx context.Context, events <-chan map[string]any, state *RenderState, sink Sink) error {
	if state == nil {
		state = NewRenderState()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-events:
			if !ok {
				// the producer may cancel right before closing
				if err := ctx.Err(); err != nil {
					return err
				}
				return applyAll(sink, state.Finish())
			}
			if err := applyAll(sink, state.Handle(DecodeStreamEvent(raw))); err != nil {
				return err
			}
		}
	}
}

func applyAll(sink Sink, instructions []Instruction) error {
	if sink == nil {
		return nil
	}
	for _, in := range instructions {
		if err := sink.Apply(in); err != nil {
			return err
		}
	}
	return nil
}
