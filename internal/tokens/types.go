package tokens

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Part is one content part of a Message.
type Part interface {
	isPart()
}

// TextPart is plain text.
type TextPart struct {
	Text string `json:"text"`
}

// DataPart is binary content tagged with a media type.
type DataPart struct {
	MediaType string `json:"mediaType"`
	Data      []byte `json:"data"`
}

// ToolCallPart is a tool invocation emitted by the model.
type ToolCallPart struct {
	Name  string `json:"name"`
	Input any    `json:"input,omitempty"`
}

// ToolResultPart carries the values a tool returned.
type ToolResultPart struct {
	Content []ResultValue `json:"content"`
}

// ResultValue is one item of a tool result. Only string values are
// counted.
type ResultValue struct {
	Value any `json:"value"`
}

func (TextPart) isPart()       {}
func (DataPart) isPart()       {}
func (ToolCallPart) isPart()   {}
func (ToolResultPart) isPart() {}

// IsImage reports whether the part's media type is an image type.
func (p DataPart) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(p.MediaType), "image/")
}

// Message is a chat message made of ordered parts.
type Message struct {
	Role  string `json:"role"`
	Parts []Part `json:"-"`
}

// wirePart is the tagged JSON form of a Part.
type wirePart struct {
	Type      string        `json:"type"`
	Text      string        `json:"text,omitempty"`
	MediaType string        `json:"mediaType,omitempty"`
	Data      []byte        `json:"data,omitempty"`
	Name      string        `json:"name,omitempty"`
	Input     any           `json:"input,omitempty"`
	Content   []ResultValue `json:"content,omitempty"`
}

type wireMessage struct {
	Role    string     `json:"role"`
	Content []wirePart `json:"content"`
}

// UnmarshalJSON decodes {"role": ..., "content": [{"type": ...}, ...]}.
// A plain string content is accepted as a single text part.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Parts = nil

	if len(raw.Content) == 0 || string(raw.Content) == "null" {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw.Content, &text); err == nil {
		m.Parts = []Part{TextPart{Text: text}}
		return nil
	}

	var parts []wirePart
	if err := json.Unmarshal(raw.Content, &parts); err != nil {
		return fmt.Errorf("message content: %w", err)
	}
	for i, p := range parts {
		switch p.Type {
		case "text":
			m.Parts = append(m.Parts, TextPart{Text: p.Text})
		case "data", "image", "file":
			m.Parts = append(m.Parts, DataPart{MediaType: p.MediaType, Data: p.Data})
		case "tool-call":
			m.Parts = append(m.Parts, ToolCallPart{Name: p.Name, Input: p.Input})
		case "tool-result":
			m.Parts = append(m.Parts, ToolResultPart{Content: p.Content})
		default:
			return fmt.Errorf("message content[%d]: unknown part type %q", i, p.Type)
		}
	}
	return nil
}

// MarshalJSON encodes m in the form accepted by UnmarshalJSON.
func (m Message) MarshalJSON() ([]byte, error) {
	out := wireMessage{Role: m.Role, Content: make([]wirePart, 0, len(m.Parts))}
	for _, part := range m.Parts {
		switch p := part.(type) {
		case TextPart:
			out.Content = append(out.Content, wirePart{Type: "text", Text: p.Text})
		case DataPart:
			out.Content = append(out.Content, wirePart{Type: "data", MediaType: p.MediaType, Data: p.Data})
		case ToolCallPart:
			out.Content = append(out.Content, wirePart{Type: "tool-call", Name: p.Name, Input: p.Input})
		case ToolResultPart:
			out.Content = append(out.Content, wirePart{Type: "tool-result", Content: p.Content})
		}
	}
	return json.Marshal(out)
}

// Tool is a tool definition offered to the model.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

// Request is everything a provider call would send.
type Request struct {
	System   string    `json:"system,omitempty"`
	Messages []Message `json:"messages"`
	Tools    []Tool    `json:"tools,omitempty"`
}

// Breakdown is an estimate split by content kind.
type Breakdown struct {
	System   int `json:"system"`
	Messages int `json:"messages"`
	Tools    int `json:"tools"`
	Total    int `json:"total"`
}
