// Package synth implements the response synthesizer: the pull-consumer
// counterpart of the event-stream parser, translating entity.Event
// values into the outbound OpenAI protocol, per spec.md §4.5. Grounded
// on handlers.OpenAIHandler's ChatStreamChunk/writeSSEChunk machinery,
// generalized from splitting one string into chunks to translating one
// parser event into zero-or-one outbound chunks.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/kirogateway/gateway/internal/domain/entity"
	"github.com/kirogateway/gateway/internal/domain/service"
	"go.uber.org/zap"
)

// Synthesizer implements service.Synthesizer.
type Synthesizer struct {
	logger *zap.Logger
}

var _ service.Synthesizer = (*Synthesizer)(nil)

func New(logger *zap.Logger) *Synthesizer {
	return &Synthesizer{logger: logger.With(zap.String("component", "synthesizer"))}
}

type flusher interface {
	Flush()
}

// WriteStream implements service.Synthesizer.
func (s *Synthesizer) WriteStream(ctx context.Context, w io.Writer, p service.EventParser, model string) error {
	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	if err := writeChunk(w, entity.ChatCompletionChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []entity.ChunkChoice{{Index: 0, Delta: entity.ChunkDelta{Role: "assistant"}}},
	}); err != nil {
		return err
	}

	var (
		toolIndex         = map[string]int{}
		nextIndex         int
		anyToolCall       bool
		textAfterToolCall bool
		usage             *entity.Usage
	)

	for {
		ev, err := p.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch e := ev.(type) {
		case entity.TextDelta:
			if anyToolCall {
				textAfterToolCall = true
			}
			if err := writeChunk(w, entity.ChatCompletionChunk{
				ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
				Choices: []entity.ChunkChoice{{Index: 0, Delta: entity.ChunkDelta{Content: e.Text}}},
			}); err != nil {
				return err
			}

		case entity.ToolCallStart:
			anyToolCall = true
			idx, ok := toolIndex[e.ID]
			if !ok {
				idx = nextIndex
				toolIndex[e.ID] = idx
				nextIndex++
			}
			if err := writeChunk(w, entity.ChatCompletionChunk{
				ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
				Choices: []entity.ChunkChoice{{Index: 0, Delta: entity.ChunkDelta{
					ToolCalls: []entity.ChunkToolCall{{
						Index: idx, ID: e.ID, Type: "function",
						Function: &entity.ChunkToolCallFunction{Name: e.Name},
					}},
				}}},
			}); err != nil {
				return err
			}

		case entity.ToolCallInputDelta:
			idx := toolIndex[e.ID]
			if err := writeChunk(w, entity.ChatCompletionChunk{
				ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
				Choices: []entity.ChunkChoice{{Index: 0, Delta: entity.ChunkDelta{
					ToolCalls: []entity.ChunkToolCall{{
						Index:    idx,
						Function: &entity.ChunkToolCallFunction{Arguments: e.Fragment},
					}},
				}}},
			}); err != nil {
				return err
			}

		case entity.ToolCallStop:
			// No wire-level signal: the next chunk for this tool index,
			// if any, starts a new entry.

		case entity.Usage:
			u := e
			usage = &u

		case entity.ContextUsage:
			s.logger.Debug("context usage", zap.Float64("percent", e.Percent))

		case entity.StreamEnd:
			finishReason := "stop"
			switch {
			case e.FinishReason == "error":
				finishReason = "error"
			case anyToolCall && !textAfterToolCall:
				finishReason = "tool_calls"
			}

			chunk := entity.ChatCompletionChunk{
				ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
				Choices: []entity.ChunkChoice{{Index: 0, Delta: entity.ChunkDelta{}, FinishReason: &finishReason}},
			}
			if usage != nil {
				chunk.Usage = &entity.CompletionUsage{
					PromptTokens:     usage.PromptTokens,
					CompletionTokens: usage.CompletionTokens,
					TotalTokens:      usage.PromptTokens + usage.CompletionTokens,
				}
			}
			if err := writeChunk(w, chunk); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "data: [DONE]\n\n"); err != nil {
				return err
			}
			if f, ok := w.(flusher); ok {
				f.Flush()
			}
			return e.Err
		}
	}
}

// Aggregate implements service.Synthesizer.
func (s *Synthesizer) Aggregate(ctx context.Context, p service.EventParser, model string) (*entity.ChatCompletion, error) {
	var (
		text        string
		toolOrder   []string
		toolNames   = map[string]string{}
		toolArgs    = map[string]string{}
		anyToolCall bool
		textAfter   bool
		usage       *entity.Usage
		finishErr   error
	)

	for {
		ev, err := p.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch e := ev.(type) {
		case entity.TextDelta:
			if anyToolCall {
				textAfter = true
			}
			text += e.Text

		case entity.ToolCallStart:
			anyToolCall = true
			if _, ok := toolNames[e.ID]; !ok {
				toolOrder = append(toolOrder, e.ID)
			}
			toolNames[e.ID] = e.Name

		case entity.ToolCallInputDelta:
			toolArgs[e.ID] += e.Fragment

		case entity.ToolCallStop:
			// bookkeeping only; arguments are already accumulated.

		case entity.Usage:
			u := e
			usage = &u

		case entity.ContextUsage:
			s.logger.Debug("context usage", zap.Float64("percent", e.Percent))

		case entity.StreamEnd:
			finishErr = e.Err
		}
	}

	if finishErr != nil {
		return nil, finishErr
	}

	finishReason := "stop"
	if anyToolCall && !textAfter {
		finishReason = "tool_calls"
	}

	var toolCalls []entity.ToolCall
	for _, id := range toolOrder {
		toolCalls = append(toolCalls, entity.ToolCall{
			ID:   id,
			Type: "function",
			Function: entity.ToolCallFunction{
				Name:      toolNames[id],
				Arguments: toolArgs[id],
			},
		})
	}

	completion := &entity.ChatCompletion{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []entity.CompletionChoice{{
			Index: 0,
			Message: entity.CompletionMessage{
				Role:      "assistant",
				Content:   text,
				ToolCalls: toolCalls,
			},
			FinishReason: finishReason,
		}},
	}
	if usage != nil {
		completion.Usage = &entity.CompletionUsage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.PromptTokens + usage.CompletionTokens,
		}
	}
	return completion, nil
}

func writeChunk(w io.Writer, chunk entity.ChatCompletionChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	if f, ok := w.(flusher); ok {
		f.Flush()
	}
	return nil
}
