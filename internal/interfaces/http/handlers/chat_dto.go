package handlers

import (
	"encoding/json"
	"errors"

	"github.com/kirogateway/gateway/internal/domain/entity"
)

// chatCompletionRequest mirrors OpenAI's chat-completions request body.
// Content is whatever the client sent — a plain string or a structured
// array of parts — and Unmarshal below resolves which.
type chatCompletionRequest struct {
	Model       string          `json:"model" binding:"required"`
	Messages    []wireMessage   `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Tools       []wireTool      `json:"tools,omitempty"`
	User        string          `json:"user,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
}

type wireMessage struct {
	Role       string          `json:"role"`
	Content    wireContent     `json:"content,omitempty"`
	ToolCalls  []wireToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

// wireContent is either a plain string or an array of {type, text} parts.
type wireContent struct {
	text  string
	parts []entity.ContentPart
}

func (c *wireContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.text = s
		return nil
	}

	var parts []entity.ContentPart
	if err := json.Unmarshal(data, &parts); err == nil {
		c.parts = parts
		return nil
	}

	return errors.New("content must be a string or an array of content parts")
}

type wireToolCall struct {
	ID       string              `json:"id"`
	Type     string              `json:"type"`
	Function wireToolCallFunc    `json:"function"`
}

type wireToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireToolSpec `json:"function"`
}

type wireToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// toEntity converts the wire request into the domain ChatRequest the
// converter operates on.
func (r *chatCompletionRequest) toEntity() *entity.ChatRequest {
	req := &entity.ChatRequest{
		Model:       r.Model,
		Stream:      r.Stream,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
		User:        r.User,
	}

	for _, m := range r.Messages {
		msg := entity.ChatMessage{
			Role:       entity.Role(m.Role),
			Text:       m.Content.text,
			Parts:      m.Content.parts,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, entity.ToolCall{
				ID:   tc.ID,
				Type: tc.Type,
				Function: entity.ToolCallFunction{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		req.Messages = append(req.Messages, msg)
	}

	for _, t := range r.Tools {
		req.Tools = append(req.Tools, entity.ToolDeclaration{
			Type: t.Type,
			Function: entity.ToolDeclarationSpec{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}

	return req
}

// openAIError is the envelope every error response carries, matching
// OpenAI's {"error": {"message", "type"}} shape.
type openAIError struct {
	Error openAIErrorBody `json:"error"`
}

type openAIErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func errorBody(message, errType string) openAIError {
	return openAIError{Error: openAIErrorBody{Message: message, Type: errType}}
}

// modelsListResponse is the GET /v1/models response envelope.
type modelsListResponse struct {
	Object string          `json:"object"`
	Data   []wireModelInfo `json:"data"`
}

type wireModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

func toModelsResponse(descriptors []entity.ModelDescriptor, createdAt int64) modelsListResponse {
	resp := modelsListResponse{Object: "list"}
	for _, d := range descriptors {
		resp.Data = append(resp.Data, wireModelInfo{
			ID:      d.ExternalName,
			Object:  "model",
			Created: createdAt,
			OwnedBy: "kiro",
		})
	}
	return resp
}
