package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirogateway/gateway/internal/domain/service"
	kiroerrors "github.com/kirogateway/gateway/pkg/errors"
	"go.uber.org/zap"
)

// parserFactory builds an EventParser over an upstream response body.
// It exists so tests can substitute a fake parser without a real
// eventstream.Decoder; production wiring passes eventstream.New.
type parserFactory func(body io.ReadCloser, logger *zap.Logger) service.EventParser

// ChatHandler implements POST /v1/chat/completions.
type ChatHandler struct {
	auth       service.AuthManager
	catalog    service.ModelCatalog
	converter  service.Converter
	upstream   service.UpstreamClient
	synth      service.Synthesizer
	newParser  parserFactory
	profileARN string
	logger     *zap.Logger
}

// NewChatHandler constructs a ChatHandler.
func NewChatHandler(
	auth service.AuthManager,
	catalog service.ModelCatalog,
	converter service.Converter,
	upstream service.UpstreamClient,
	synth service.Synthesizer,
	newParser parserFactory,
	profileARN string,
	logger *zap.Logger,
) *ChatHandler {
	return &ChatHandler{
		auth:       auth,
		catalog:    catalog,
		converter:  converter,
		upstream:   upstream,
		synth:      synth,
		newParser:  newParser,
		profileARN: profileARN,
		logger:     logger.With(zap.String("component", "chat-handler")),
	}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *ChatHandler) ChatCompletions(c *gin.Context) {
	var req chatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), "invalid_request_error"))
		return
	}

	modelID, ok := h.catalog.Resolve(req.Model)
	if !ok {
		err := kiroerrors.UnknownModel(req.Model)
		c.JSON(kiroerrors.HTTPStatus(err), errorBody(err.Error(), "invalid_request_error"))
		return
	}

	convState, err := h.converter.Convert(req.toEntity(), modelID)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), "invalid_request_error"))
		return
	}
	convState.ProfileARN = h.profileARN
	convState.ConversationID = uuid.NewString()

	ctx := c.Request.Context()
	token, err := h.auth.AccessToken(ctx)
	if err != nil {
		h.writeErr(c, err)
		return
	}

	body, err := json.Marshal(convState)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("failed to encode upstream request", "server_error"))
		return
	}

	upstreamBody, err := h.upstream.GenerateAssistantResponse(ctx, token, body)
	if err != nil {
		h.writeErr(c, err)
		return
	}

	parser := h.newParser(upstreamBody, h.logger)
	defer parser.Close()

	if req.Stream {
		h.handleStream(c, parser, req.Model)
		return
	}
	h.handleNonStream(c, parser, req.Model)
}

func (h *ChatHandler) handleNonStream(c *gin.Context, p service.EventParser, model string) {
	completion, err := h.synth.Aggregate(c.Request.Context(), p, model)
	if err != nil {
		h.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, completion)
}

func (h *ChatHandler) handleStream(c *gin.Context, p service.EventParser, model string) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	if err := h.synth.WriteStream(c.Request.Context(), c.Writer, p, model); err != nil {
		h.logger.Warn("stream ended with error", zap.Error(err))
	}
}

// writeErr maps a domain error to its OpenAI-shaped HTTP response.
func (h *ChatHandler) writeErr(c *gin.Context, err error) {
	status := kiroerrors.HTTPStatus(err)
	h.logger.Error("chat completion failed", zap.Error(err), zap.Int("status", status))
	c.JSON(status, errorBody(err.Error(), "upstream_error"))
}
