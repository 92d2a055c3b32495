package entity

import "strings"

// Role is an inbound message's role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPart is one element of a structured (array) message content.
// Only Type "text" contributes to the flattened text; other part types
// are dropped with a single diagnostic by the converter.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolCall is an assistant-issued tool invocation, as OpenAI shapes it in
// an assistant message's tool_calls array.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction carries the invoked function's name and JSON-encoded
// argument string.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDeclaration is an inbound tool definition (OpenAI "tools" entry,
// function-calling flavor).
type ToolDeclaration struct {
	Type     string              `json:"type"` // "function"
	Function ToolDeclarationSpec `json:"function"`
}

// ToolDeclarationSpec is the function body of a tool declaration.
type ToolDeclarationSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ChatMessage is one inbound message. Content may be a plain string or a
// structured array of ContentParts — exactly one of Text/Parts is
// populated, matching whichever shape the client sent. FlatText
// resolves either form to the converter's single text value.
type ChatMessage struct {
	Role       Role
	Text       string        // set when content was a plain string
	Parts      []ContentPart // set when content was a structured array
	ToolCalls  []ToolCall    // present for assistant messages carrying tool calls
	ToolCallID string        // present for tool-role messages
}

// FlatText implements spec rule: a structured array's text parts are
// concatenated in order; non-text parts are dropped (the caller logs
// the single diagnostic, since dropping is otherwise silent here).
func (m ChatMessage) FlatText() string {
	if m.Parts == nil {
		return m.Text
	}
	var parts []string
	for _, p := range m.Parts {
		if p.Type == "text" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "")
}

// HasDroppedParts reports whether any content part will be dropped by
// FlatText — a non-"text" part type the converter does not carry.
func (m ChatMessage) HasDroppedParts() bool {
	for _, p := range m.Parts {
		if p.Type != "text" {
			return true
		}
	}
	return false
}

// ChatRequest is the inbound OpenAI-compatible chat-completions request.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Stream      bool
	Temperature *float64
	MaxTokens   *int
	Tools       []ToolDeclaration
	User        string
}
