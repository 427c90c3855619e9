package framework

import "encoding/json"

// StreamEventKind identifies which recognized shape a stream record matched.
type StreamEventKind int

const (
	StreamEventUnrecognized StreamEventKind = iota
	StreamEventToolUseStart
	StreamEventText
)

func (k StreamEventKind) String() string {
	switch k {
	case StreamEventToolUseStart:
		return "tool_use_start"
	case StreamEventText:
		return "text"
	default:
		return "unrecognized"
	}
}

// ToolUseStart announces that the model started invoking a tool.
type ToolUseStart struct {
	ToolUseID string
	Name      string
}

// StreamEvent is one record of an agent response stream after decoding. A
// record may carry a tool-use start, a text fragment, both, or neither.
type StreamEvent struct {
	ToolUse *ToolUseStart
	Text    string
}

// Kind reports the primary shape of the event. Tool-use starts win over text.
func (e StreamEvent) Kind() StreamEventKind {
	if e.ToolUse != nil {
		return StreamEventToolUseStart
	}
	if e.Text != "" {
		return StreamEventText
	}
	return StreamEventUnrecognized
}

// DecodeStreamEvent extracts the recognized facets from a raw record. Missing
// or mistyped fields never fail; they simply leave the facet empty.
//
// Recognized shapes:
//
//	event.contentBlockStart.start.toolUse.{toolUseId,name}
//	data            (string)
//	delta.text      (string, used when data is empty)
func DecodeStreamEvent(raw map[string]any) StreamEvent {
	if raw == nil {
		return StreamEvent{}
	}
	var ev StreamEvent
	if id, name := toolUseFields(raw); id != "" && name != "" {
		ev.ToolUse = &ToolUseStart{ToolUseID: id, Name: name}
	}
	ev.Text = textField(raw)
	return ev
}

// DecodeStreamEventJSON decodes a JSON object record. Anything that is not a
// JSON object decodes to an unrecognized event.
func DecodeStreamEventJSON(data []byte) StreamEvent {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return StreamEvent{}
	}
	return DecodeStreamEvent(raw)
}

func toolUseFields(raw map[string]any) (string, string) {
	event, ok := raw["event"].(map[string]any)
	if !ok {
		return "", ""
	}
	start, ok := event["contentBlockStart"].(map[string]any)
	if !ok {
		return "", ""
	}
	inner, _ := start["start"].(map[string]any)
	toolUse, _ := inner["toolUse"].(map[string]any)
	id, _ := toolUse["toolUseId"].(string)
	name, _ := toolUse["name"].(string)
	return id, name
}

func textField(raw map[string]any) string {
	if text, ok := raw["data"].(string); ok && text != "" {
		return text
	}
	delta, ok := raw["delta"].(map[string]any)
	if !ok {
		return ""
	}
	text, _ := delta["text"].(string)
	return text
}

// TextRecord builds the wire record for a text fragment.
func TextRecord(text string) map[string]any {
	return map[string]any{
		"data":  text,
		"delta": map[string]any{"text": text},
	}
}

// ToolUseRecord builds the wire record announcing a tool invocation.
func ToolUseRecord(toolUseID, name string) map[string]any {
	return map[string]any{
		"event": map[string]any{
			"contentBlockStart": map[string]any{
				"start": map[string]any{
					"toolUse": map[string]any{
						"toolUseId": toolUseID,
						"name":      name,
					},
				},
			},
		},
	}
}
