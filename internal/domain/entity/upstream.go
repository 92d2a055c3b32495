package entity

// UpstreamToolUse is a tool call as it appears on an assistant turn in
// upstream history.
type UpstreamToolUse struct {
	ToolUseID string                 `json:"toolUseId"`
	Name      string                 `json:"name"`
	Input     map[string]interface{} `json:"input,omitempty"`
}

// Turn is one entry in the upstream conversationState.history array.
// Content holds the turn's text for either role; ToolUses is only
// populated on assistant turns that issued tool calls.
type Turn struct {
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	ToolUses  []UpstreamToolUse `json:"toolUses,omitempty"`
}

// UpstreamTool is a tool declaration rewritten into the upstream schema.
type UpstreamTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ConversationState is the generateAssistantResponse request body: the
// last turn after merging (CurrentMessage), everything before it (History), the
// extracted system prompt, the model id, and tool declarations.
type ConversationState struct {
	ModelID        string         `json:"modelId"`
	CurrentMessage Turn           `json:"currentMessage"`
	History        []Turn         `json:"history"`
	SystemPrompt   string         `json:"systemPrompt,omitempty"`
	Tools          []UpstreamTool `json:"tools,omitempty"`
	ProfileARN     string         `json:"profileArn,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
}
