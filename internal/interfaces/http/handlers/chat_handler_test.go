package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kirogateway/gateway/internal/domain/entity"
	"github.com/kirogateway/gateway/internal/domain/service"
	kiroerrors "github.com/kirogateway/gateway/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAuthManager struct {
	token string
	err   error
}

func (s *stubAuthManager) AccessToken(ctx context.Context) (string, error) { return s.token, s.err }
func (s *stubAuthManager) ForceRefresh(ctx context.Context) (string, error) {
	return s.token, s.err
}

type stubCatalog struct {
	resolved    map[string]string
	descriptors []entity.ModelDescriptor
}

func (s *stubCatalog) List(ctx context.Context) []entity.ModelDescriptor { return s.descriptors }
func (s *stubCatalog) Resolve(name string) (string, bool) {
	id, ok := s.resolved[name]
	return id, ok
}

type stubConverter struct {
	err error
}

func (s *stubConverter) Convert(req *entity.ChatRequest, modelID string) (*entity.ConversationState, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &entity.ConversationState{ModelID: modelID, CurrentMessage: entity.Turn{Role: entity.RoleUser, Content: "hi"}}, nil
}

type stubUpstream struct {
	body []byte
	err  error
}

func (s *stubUpstream) GenerateAssistantResponse(ctx context.Context, token string, body []byte) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(string(s.body))), nil
}
func (s *stubUpstream) ListAvailableModels(ctx context.Context, token string) ([]byte, error) {
	return nil, nil
}

// stubParser replays a fixed sequence of events, used as the product of
// a stubbed parserFactory.
type stubParser struct {
	events    []entity.Event
	pos       int
	nextCalls int
	closed    bool
}

func (p *stubParser) Next(ctx context.Context) (entity.Event, error) {
	p.nextCalls++
	if p.pos >= len(p.events) {
		return nil, io.EOF
	}
	ev := p.events[p.pos]
	p.pos++
	return ev, nil
}
func (p *stubParser) Close() error {
	p.closed = true
	return nil
}

// failAfterWriter implements http.ResponseWriter and fails every Write
// once failAt writes have already succeeded, simulating a client
// connection that closes partway through a response.
type failAfterWriter struct {
	header http.Header
	failAt int
	writes int
}

func (w *failAfterWriter) Header() http.Header {
	if w.header == nil {
		w.header = make(http.Header)
	}
	return w.header
}

func (w *failAfterWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes > w.failAt {
		return 0, io.ErrClosedPipe
	}
	return len(p), nil
}

func (w *failAfterWriter) WriteHeader(statusCode int) {}

func newTestHandler(t *testing.T, events []entity.Event) (*ChatHandler, *stubUpstream) {
	t.Helper()
	up := &stubUpstream{body: []byte("ignored-by-stub-parser")}
	factory := func(body io.ReadCloser, logger *zap.Logger) service.EventParser {
		return &stubParser{events: events}
	}
	h := NewChatHandler(
		&stubAuthManager{token: "tok"},
		&stubCatalog{resolved: map[string]string{"gpt-4o": "CLAUDE_SONNET_4_5_20250929_V1_0"}},
		&stubConverter{},
		up,
		synthStub{},
		factory,
		"",
		zap.NewNop(),
	)
	return h, up
}

// synthStub is a tiny inline service.Synthesizer standing in for the
// synth package: it writes each TextDelta as a bare "data:" line and the
// [DONE] marker at StreamEnd, with no role preamble, tool-call or usage
// handling.
type synthStub struct{}

func (synthStub) WriteStream(ctx context.Context, w io.Writer, p service.EventParser, model string) error {
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
			if _, err := io.WriteString(w, "data: "+e.Text+"\n\n"); err != nil {
				return err
			}
		case entity.StreamEnd:
			if _, err := io.WriteString(w, "data: [DONE]\n\n"); err != nil {
				return err
			}
			return e.Err
		}
	}
}

func (synthStub) Aggregate(ctx context.Context, p service.EventParser, model string) (*entity.ChatCompletion, error) {
	var text strings.Builder
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
			text.WriteString(e.Text)
		case entity.StreamEnd:
			if e.Err != nil {
				return nil, e.Err
			}
		}
	}
	return &entity.ChatCompletion{
		ID:     "chatcmpl-test",
		Object: "chat.completion",
		Model:  model,
		Choices: []entity.CompletionChoice{
			{Index: 0, Message: entity.CompletionMessage{Role: "assistant", Content: text.String()}, FinishReason: "stop"},
		},
	}, nil
}

func performChatRequest(h *ChatHandler, body string) *httptest.ResponseRecorder {
	router := gin.New()
	router.POST("/v1/chat/completions", h.ChatCompletions)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	return rec
}

func TestChatHandler_NonStreamReturnsAggregatedCompletion(t *testing.T) {
	h, _ := newTestHandler(t, []entity.Event{
		entity.TextDelta{Text: "Hello "},
		entity.TextDelta{Text: "world"},
		entity.StreamEnd{FinishReason: "stop"},
	})

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	rec := performChatRequest(h, body)

	require.Equal(t, http.StatusOK, rec.Code)
	var completion entity.ChatCompletion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completion))
	require.Equal(t, "Hello world", completion.Choices[0].Message.Content)
}

func TestChatHandler_StreamWritesSSEAndDoneMarker(t *testing.T) {
	h, _ := newTestHandler(t, []entity.Event{
		entity.TextDelta{Text: "Hi"},
		entity.StreamEnd{FinishReason: "stop"},
	})

	body := `{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	rec := performChatRequest(h, body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "data: [DONE]")
}

func TestChatHandler_UnknownModelReturns400(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	body := `{"model":"not-a-real-model","messages":[{"role":"user","content":"hi"}]}`
	rec := performChatRequest(h, body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatHandler_EmptyMessagesProceedsToUpstream(t *testing.T) {
	h, _ := newTestHandler(t, []entity.Event{
		entity.StreamEnd{FinishReason: "stop"},
	})

	body := `{"model":"gpt-4o","messages":[]}`
	rec := performChatRequest(h, body)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestChatHandler_UpstreamFailureMapsToBadGateway(t *testing.T) {
	factory := func(body io.ReadCloser, logger *zap.Logger) service.EventParser {
		return &stubParser{}
	}
	h := NewChatHandler(
		&stubAuthManager{token: "tok"},
		&stubCatalog{resolved: map[string]string{"gpt-4o": "m"}},
		&stubConverter{},
		&stubUpstream{err: kiroerrors.UpstreamUnavailable("retries exhausted", nil)},
		synthStub{},
		factory,
		"",
		zap.NewNop(),
	)

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	rec := performChatRequest(h, body)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestChatHandler_ClientDisconnectMidStreamStopsReadingAndClosesUpstream(t *testing.T) {
	parser := &stubParser{events: []entity.Event{
		entity.TextDelta{Text: "chunk one"},
		entity.TextDelta{Text: "chunk two"},
		entity.TextDelta{Text: "chunk three"},
		entity.StreamEnd{FinishReason: "stop"},
	}}
	factory := func(body io.ReadCloser, logger *zap.Logger) service.EventParser { return parser }
	h := NewChatHandler(
		&stubAuthManager{token: "tok"},
		&stubCatalog{resolved: map[string]string{"gpt-4o": "m"}},
		&stubConverter{},
		&stubUpstream{body: []byte("ignored-by-stub-parser")},
		synthStub{},
		factory,
		"",
		zap.NewNop(),
	)

	router := gin.New()
	router.POST("/v1/chat/completions", h.ChatCompletions)

	// Only the very first SSE write (synthStub's "chunk one" line)
	// succeeds, as if the client's connection dropped right after
	// delivering it.
	w := &failAfterWriter{failAt: 1}
	body := `{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.True(t, parser.closed, "expected upstream parser/connection to be closed after client disconnect")
	require.LessOrEqual(t, parser.nextCalls, 2, "expected no further upstream reads once the client write failed")
}

func TestChatHandler_ContentAsStructuredArray(t *testing.T) {
	h, _ := newTestHandler(t, []entity.Event{
		entity.TextDelta{Text: "ok"},
		entity.StreamEnd{FinishReason: "stop"},
	})

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":[{"type":"text","text":"hi there"}]}]}`
	rec := performChatRequest(h, body)
	require.Equal(t, http.StatusOK, rec.Code)
}
