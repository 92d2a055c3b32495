// Package convert implements the request converter: a pure function
// from an inbound chat request to the upstream conversationState, per
// spec.md §4.3. Grounded on anthropic.Provider.buildAPIRequest's
// system-prompt extraction and per-role content construction.
package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirogateway/gateway/internal/domain/entity"
	"github.com/kirogateway/gateway/internal/domain/service"
	"go.uber.org/zap"
)

// Converter implements service.Converter. Conversion is a pure function
// of its arguments; logger exists only to surface the single diagnostic
// spec.md asks for when a structured message drops a non-text part.
type Converter struct {
	logger *zap.Logger
}

var _ service.Converter = (*Converter)(nil)

// New constructs a Converter.
func New(logger *zap.Logger) *Converter {
	return &Converter{logger: logger.With(zap.String("component", "converter"))}
}

// mergedTurn is the converter's working representation between the
// merge and tool-threading passes, wide enough to carry the multiple
// tool_call_ids a merged run of tool-result messages can answer.
type mergedTurn struct {
	role        entity.Role
	text        []string
	toolCalls   []entity.ToolCall
	toolCallIDs []string
}

// Convert implements service.Converter.
func (c *Converter) Convert(req *entity.ChatRequest, modelID string) (*entity.ConversationState, error) {
	var systemParts []string
	var rest []entity.ChatMessage
	for _, msg := range req.Messages {
		c.warnDroppedParts(msg)
		if msg.Role == entity.RoleSystem {
			if text := msg.FlatText(); text != "" {
				systemParts = append(systemParts, text)
			}
			continue
		}
		rest = append(rest, msg)
	}

	merged := mergeAdjacent(rest)
	turns := threadToolResults(merged)

	// An empty or all-system messages array yields an empty current
	// message and empty history rather than an error: resolution and
	// the upstream call still proceed, and any upstream rejection of
	// the resulting empty turn is reported through the normal upstream
	// error path.
	var current entity.Turn
	var history []entity.Turn
	if len(turns) > 0 {
		current = turns[len(turns)-1]
		history = turns[:len(turns)-1]
	}

	return &entity.ConversationState{
		ModelID:        modelID,
		CurrentMessage: current,
		History:        history,
		SystemPrompt:   strings.Join(systemParts, "\n"),
		Tools:          convertTools(req.Tools),
	}, nil
}

// warnDroppedParts logs the single spec-required diagnostic for a
// structured-array message that carries a non-text part, once per
// message rather than once per dropped part.
func (c *Converter) warnDroppedParts(msg entity.ChatMessage) {
	if msg.HasDroppedParts() {
		c.logger.Warn("dropped non-text content part", zap.String("role", string(msg.Role)))
	}
}

// mergeAdjacent implements rule 2: consecutive messages with the same
// role have their textual contents concatenated and, for assistant
// turns, their tool_calls arrays concatenated.
func mergeAdjacent(messages []entity.ChatMessage) []mergedTurn {
	var out []mergedTurn
	for _, msg := range messages {
		text := msg.FlatText()
		if n := len(out); n > 0 && out[n-1].role == msg.Role {
			last := &out[n-1]
			if text != "" {
				last.text = append(last.text, text)
			}
			last.toolCalls = append(last.toolCalls, msg.ToolCalls...)
			if msg.ToolCallID != "" {
				last.toolCallIDs = append(last.toolCallIDs, msg.ToolCallID)
			}
			continue
		}
		t := mergedTurn{role: msg.Role}
		if text != "" {
			t.text = append(t.text, text)
		}
		t.toolCalls = append(t.toolCalls, msg.ToolCalls...)
		if msg.ToolCallID != "" {
			t.toolCallIDs = append(t.toolCallIDs, msg.ToolCallID)
		}
		out = append(out, t)
	}
	return out
}

// threadToolResults implements rule 3: a run of merged tool-role
// messages becomes a single synthetic user turn whose body references
// every tool_call_id it answers, in order.
func threadToolResults(merged []mergedTurn) []entity.Turn {
	turns := make([]entity.Turn, 0, len(merged))
	for _, t := range merged {
		role := t.role
		content := strings.Join(t.text, "\n")
		if role == entity.RoleTool {
			role = entity.RoleUser
			var b strings.Builder
			for i, id := range t.toolCallIDs {
				if i > 0 {
					b.WriteString("\n")
				}
				fmt.Fprintf(&b, "Tool result for %s:", id)
			}
			if content != "" {
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				b.WriteString(content)
			}
			content = b.String()
		}

		turn := entity.Turn{Role: role, Content: content}
		for _, tc := range t.toolCalls {
			var input map[string]interface{}
			if tc.Function.Arguments != "" {
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
			}
			turn.ToolUses = append(turn.ToolUses, entity.UpstreamToolUse{
				ToolUseID: tc.ID,
				Name:      tc.Function.Name,
				Input:     input,
			})
		}
		turns = append(turns, turn)
	}
	return turns
}

// convertTools implements rule 5: each inbound tool declaration is
// rewritten into the upstream {name, description, inputSchema} shape.
func convertTools(declarations []entity.ToolDeclaration) []entity.UpstreamTool {
	if len(declarations) == 0 {
		return nil
	}
	tools := make([]entity.UpstreamTool, 0, len(declarations))
	for _, d := range declarations {
		tools = append(tools, entity.UpstreamTool{
			Name:        d.Function.Name,
			Description: d.Function.Description,
			InputSchema: d.Function.Parameters,
		})
	}
	return tools
}
