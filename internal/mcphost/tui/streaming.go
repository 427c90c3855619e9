package tui

import (
	"time"

	"github.com/lexcodex/mcphost/framework"
	"github.com/lexcodex/mcphost/persistence"
)

// instructionMsg carries one render instruction from the running question.
type instructionMsg struct {
	instruction framework.Instruction
}

// askDoneMsg signals that a question finished, successfully or not.
type askDoneMsg struct {
	answer *framework.Answer
	err    error
}

// historyMsg delivers the result of /history.
type historyMsg struct {
	transcripts []persistence.Transcript
	err         error
}

// streamingID marks the feed message that is still receiving text.
const streamingID = "streaming"

// liveAnswer tracks the segment currently being streamed into the feed.
type liveAnswer struct {
	index int // feed index of the streaming message, -1 when none
}

func newLiveAnswer() *liveAnswer {
	return &liveAnswer{index: -1}
}

// clearFeed empties the feed. A running answer continues in a fresh
// message.
func (m Model) clearFeed() Model {
	m.messages = nil
	if m.live != nil {
		m.live.index = -1
	}
	return m
}

// applyInstruction mutates the feed according to in.
func (m Model) applyInstruction(in framework.Instruction) Model {
	live := m.live
	if live == nil {
		live = newLiveAnswer()
		m.live = live
	}
	switch in.Kind {
	case framework.InstructionRender:
		if live.index < 0 {
			m.messages = append(m.messages, Message{
				ID:        streamingID,
				Timestamp: time.Now(),
				Role:      RoleAgent,
			})
			live.index = len(m.messages) - 1
		}
		m.messages[live.index].Text = in.Text
	case framework.InstructionFlush, framework.InstructionFinalFlush:
		if live.index < 0 {
			m.messages = append(m.messages, Message{Timestamp: time.Now(), Role: RoleAgent})
			live.index = len(m.messages) - 1
		}
		m.messages[live.index].ID = generateID()
		m.messages[live.index].Text = in.Text
		live.index = -1
	case framework.InstructionAnnounce:
		m.messages = append(m.messages, Message{
			ID:        generateID(),
			Timestamp: time.Now(),
			Role:      RoleTool,
			Text:      in.ToolName,
		})
	case framework.InstructionNotice:
		m = m.addSystemMessage("⚠️  " + in.Text)
	}
	return m
}

// dropPartial removes a streaming segment that never got flushed.
func (m Model) dropPartial() Model {
	if m.live == nil || m.live.index < 0 || m.live.index >= len(m.messages) {
		return m
	}
	m.messages = append(m.messages[:m.live.index], m.messages[m.live.index+1:]...)
	m.live.index = -1
	return m
}

// lastAgentMessage returns the index of the newest agent entry, or -1.
func (m Model) lastAgentMessage() int {
	for i := len(m.messages) - 1; i >= 0; i-- {
		switch m.messages[i].Role {
		case RoleAgent:
			return i
		case RoleUser:
			return -1
		}
	}
	return -1
}
