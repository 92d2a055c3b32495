// Package eventstream implements the event-stream parser: a pull-based
// iterator over the upstream's framed byte stream, per spec.md §4.4.
// Framing is real AWS event-stream wire format, decoded with
// aws-sdk-go-v2's protocol/eventstream package the same way any
// CodeWhisperer-family client would; the JSON-dialect classification,
// bracket tracking and dedup on top of the decoded frame payloads are
// this gateway's own.
package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/google/uuid"
	"github.com/kirogateway/gateway/internal/domain/entity"
	"github.com/kirogateway/gateway/internal/domain/service"
	kiroerrors "github.com/kirogateway/gateway/pkg/errors"
	"github.com/kirogateway/gateway/pkg/safego"
	"go.uber.org/zap"
)

const toolCallMarker = "[Called "

// toolState is the per-tool-call-id state machine spec.md §4.4
// describes: idle → started → receiving → stopped → idle, with the
// invariant that a stopped id never reappears.
type toolState int

const (
	toolIdle toolState = iota
	toolStarted
	toolReceiving
	toolStopped
)

// structuredFrame is the JSON shape of one structured-dialect frame
// payload. Exactly one of its discriminating fields is populated per
// frame.
type structuredFrame struct {
	Content      string        `json:"content"`
	ToolUseID    string        `json:"toolUseId"`
	Name         string        `json:"name"`
	Input        *string       `json:"input"`
	Stop         bool          `json:"stop"`
	Usage        *usagePayload `json:"usage"`
	ContextUsage *float64      `json:"contextUsage"`
}

type usagePayload struct {
	PromptTokens     int      `json:"promptTokens"`
	CompletionTokens int      `json:"completionTokens"`
	Credits          *float64 `json:"credits"`
}

// Parser implements service.EventParser over one upstream response body.
type Parser struct {
	body       io.ReadCloser
	dec        *eventstream.Decoder
	payloadBuf []byte
	queue      []entity.Event
	ended      bool
	logger     *zap.Logger

	toolStates   map[string]toolState
	dedup        *dedupRing

	// bracketed-dialect state, carried across content frames since a
	// tool call's arguments can span many frames.
	pending         string
	inBracket       bool
	bracketDepth    int
	bracketArgs     strings.Builder
	bracketToolID   string
	bracketToolName string
}

var _ service.EventParser = (*Parser)(nil)

// New constructs a Parser over body. body is closed by Close, and also
// force-closed if Next's context is cancelled while a frame read is in
// flight.
func New(body io.ReadCloser, logger *zap.Logger) *Parser {
	return &Parser{
		body:       body,
		dec:        eventstream.NewDecoder(),
		payloadBuf: make([]byte, 0, 4096),
		logger:     logger.With(zap.String("component", "eventstream-parser")),
		toolStates: make(map[string]toolState),
		dedup:      newDedupRing(32),
	}
}

// Next implements service.EventParser.
func (p *Parser) Next(ctx context.Context) (entity.Event, error) {
	for {
		if len(p.queue) > 0 {
			ev := p.queue[0]
			p.queue = p.queue[1:]
			return ev, nil
		}
		if p.ended {
			return nil, io.EOF
		}
		if err := p.pullFrame(ctx); err != nil {
			return nil, err
		}
	}
}

// Close implements service.EventParser.
func (p *Parser) Close() error {
	return p.body.Close()
}

type frameResult struct {
	msg eventstream.Message
	err error
}

// pullFrame decodes one wire frame and enqueues the events it produces.
// A clean or mid-frame-terminated body both end the parser, the latter
// queuing an error-tagged StreamEnd rather than returning the error
// directly, so callers observe it through the normal event sequence.
func (p *Parser) pullFrame(ctx context.Context) error {
	resultCh := make(chan frameResult, 1)
	safego.Go(p.logger, "eventstream-decode", func() {
		msg, err := p.dec.Decode(p.body, p.payloadBuf)
		resultCh <- frameResult{msg, err}
	})

	select {
	case <-ctx.Done():
		p.body.Close()
		return ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			p.ended = true
			if errors.Is(res.err, io.EOF) {
				if !p.inBracket && p.pending != "" {
					p.queue = append(p.queue, p.flushText(p.pending)...)
					p.pending = ""
				}
				p.queue = append(p.queue, entity.StreamEnd{FinishReason: "stop"})
			} else {
				p.logger.Warn("upstream stream terminated mid-frame", zap.Error(res.err))
				p.queue = append(p.queue, entity.StreamEnd{
					FinishReason: "error",
					Err:          kiroerrors.ParseError("malformed upstream frame", res.err),
				})
			}
			return nil
		}
		p.queue = append(p.queue, p.classify(res.msg.Payload)...)
		return nil
	}
}

// classify turns one decoded frame payload into zero or more events.
func (p *Parser) classify(payload []byte) []entity.Event {
	var frame structuredFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		p.logger.Debug("skipping unparseable frame payload", zap.Error(err))
		return nil
	}

	switch {
	case frame.ToolUseID != "" && frame.Name != "":
		return p.handleToolStart(frame.ToolUseID, frame.Name)
	case frame.ToolUseID != "" && frame.Input != nil:
		return p.handleToolInputDelta(frame.ToolUseID, *frame.Input)
	case frame.ToolUseID != "" && frame.Stop:
		return p.handleToolStop(frame.ToolUseID)
	case frame.Usage != nil:
		return []entity.Event{p.handleUsage(*frame.Usage)}
	case frame.ContextUsage != nil:
		return []entity.Event{entity.ContextUsage{Percent: *frame.ContextUsage}}
	case frame.Content != "":
		return p.handleContent(decodeEscapes(frame.Content))
	default:
		return nil
	}
}

func (p *Parser) handleToolStart(id, name string) []entity.Event {
	if p.toolStates[id] == toolStopped {
		p.logger.Warn("tool call id reappeared after stop", zap.String("toolUseId", id))
	}
	p.toolStates[id] = toolStarted
	return []entity.Event{entity.ToolCallStart{ID: id, Name: name}}
}

func (p *Parser) handleToolInputDelta(id, fragment string) []entity.Event {
	p.toolStates[id] = toolReceiving
	return []entity.Event{entity.ToolCallInputDelta{ID: id, Fragment: decodeEscapes(fragment)}}
}

func (p *Parser) handleToolStop(id string) []entity.Event {
	p.toolStates[id] = toolStopped
	return []entity.Event{entity.ToolCallStop{ID: id}}
}

func (p *Parser) handleUsage(u usagePayload) entity.Event {
	ev := entity.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens}
	if u.Credits != nil {
		ev.Credits = *u.Credits
		ev.HasCredits = true
	}
	return ev
}

// handleContent scans decoded assistant text for the bracketed tool-call
// dialect, maintaining bracket-depth and tool-argument-accumulation
// state across calls, and applies dedup to the plain-text spans it
// flushes.
func (p *Parser) handleContent(text string) []entity.Event {
	p.pending += text
	var events []entity.Event

	for {
		if p.inBracket {
			consumed, closed := p.scanBracket(p.pending)
			p.pending = p.pending[consumed:]
			if closed {
				events = append(events,
					entity.ToolCallInputDelta{ID: p.bracketToolID, Fragment: p.bracketArgs.String()},
					entity.ToolCallStop{ID: p.bracketToolID},
				)
				p.toolStates[p.bracketToolID] = toolStopped
				p.bracketArgs.Reset()
				p.inBracket = false
				continue
			}
			break // still inside the bracket, need more data
		}

		idx := strings.Index(p.pending, toolCallMarker)
		if idx == -1 {
			safeLen := len(p.pending) - partialMarkerSuffixLen(p.pending)
			if safeLen > 0 {
				events = append(events, p.flushText(p.pending[:safeLen])...)
				p.pending = p.pending[safeLen:]
			}
			break
		}

		if idx > 0 {
			events = append(events, p.flushText(p.pending[:idx])...)
		}
		rest := p.pending[idx+len(toolCallMarker):]
		parenIdx := strings.IndexByte(rest, '(')
		if parenIdx == -1 {
			p.pending = p.pending[idx:]
			break // name not fully arrived yet
		}

		name := rest[:parenIdx]
		p.bracketToolName = name
		p.bracketToolID = uuid.NewString()
		p.bracketDepth = 1 // the '(' just consumed
		p.inBracket = true
		p.pending = rest[parenIdx+1:]
		events = append(events, entity.ToolCallStart{ID: p.bracketToolID, Name: name})
		p.toolStates[p.bracketToolID] = toolStarted
	}

	return events
}

// scanBracket consumes s until the bracket opened by the tool call's
// '(' closes, tracking nested [ { ( / ] } ). It returns the number of
// bytes consumed and whether the bracket closed within s. Argument
// bytes (excluding the final matching ')' and the outer ']') are
// appended to p.bracketArgs as they are consumed.
func (p *Parser) scanBracket(s string) (consumed int, closed bool) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '(', '{', '[':
			p.bracketDepth++
			p.bracketArgs.WriteByte(c)
		case ')', '}', ']':
			p.bracketDepth--
			if p.bracketDepth == 0 {
				// matched the argument list's closing ')'; the
				// trailing ']' closing the outer bracket follows
				// immediately and is dropped, not accumulated.
				end := i + 1
				if end < len(s) && s[end] == ']' {
					end++
				}
				return end, true
			}
			p.bracketArgs.WriteByte(c)
		default:
			p.bracketArgs.WriteByte(c)
		}
	}
	return len(s), false
}

// flushText applies dedup to a plain-text span and returns it as a
// TextDelta event, or no event at all if it was a recent repeat.
func (p *Parser) flushText(text string) []entity.Event {
	if text == "" {
		return nil
	}
	if p.dedup.seenRecently(text) {
		return nil
	}
	p.dedup.record(text)
	return []entity.Event{entity.TextDelta{Text: text}}
}

// partialMarkerSuffixLen returns the length of the longest suffix of s
// that is also a proper prefix of toolCallMarker, so handleContent only
// withholds bytes that could still grow into the marker rather than
// buffering everything it cannot yet rule out.
func partialMarkerSuffixLen(s string) int {
	max := len(toolCallMarker) - 1
	if max > len(s) {
		max = len(s)
	}
	for k := max; k > 0; k-- {
		if strings.HasSuffix(s, toolCallMarker[:k]) {
			return k
		}
	}
	return 0
}

// decodeEscapes decodes literal backslash-escape sequences the upstream
// sometimes double-encodes inside an already-JSON-decoded text field.
func decodeEscapes(s string) string {
	replacer := strings.NewReplacer(
		`\n`, "\n",
		`\t`, "\t",
		`\"`, `"`,
		`\\`, `\`,
	)
	return replacer.Replace(s)
}
