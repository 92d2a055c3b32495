// Package service declares the interfaces the HTTP handlers depend on,
// so the infrastructure layer (auth, models, convert, eventstream, synth,
// upstream) can be wired in without the interfaces layer knowing their
// concrete types — the same inversion the teacher applies between
// internal/domain/service and internal/infrastructure/llm.
package service

import (
	"context"
	"io"

	"github.com/kirogateway/gateway/internal/domain/entity"
)

// AuthManager supplies a currently-valid upstream access token.
type AuthManager interface {
	// AccessToken returns the cached token if fresh, otherwise performs
	// a refresh under its internal lock and returns the new token.
	AccessToken(ctx context.Context) (string, error)

	// ForceRefresh unconditionally refreshes the token; used by the
	// HTTP client on a 403.
	ForceRefresh(ctx context.Context) (string, error)
}

// ModelCatalog exposes model descriptors and the external→internal id
// mapping used by the converter.
type ModelCatalog interface {
	// List returns the current snapshot, populating it on first demand
	// and refreshing it once the TTL has elapsed. The refresh runs
	// synchronously in the calling request, which blocks on it; the
	// previous snapshot is returned only when that refresh fails. There
	// is no background refresh.
	List(ctx context.Context) []entity.ModelDescriptor

	// Resolve maps an external model name to its upstream model id.
	// Returns false if name is not in the map.
	Resolve(name string) (internalID string, ok bool)
}

// Converter translates an inbound chat request to the upstream
// conversationState. It is a pure function of its arguments.
type Converter interface {
	Convert(req *entity.ChatRequest, modelID string) (*entity.ConversationState, error)
}

// EventParser is a pull-based iterator over one upstream stream's
// events. Next blocks on upstream reads internally and returns
// io.EOF once a StreamEnd event has been returned and consumed.
type EventParser interface {
	Next(ctx context.Context) (entity.Event, error)
	Close() error
}

// Synthesizer turns parser events into the outbound OpenAI protocol.
type Synthesizer interface {
	// WriteStream pulls events from p and writes OpenAI SSE chunks to w
	// until the stream ends or ctx is cancelled.
	WriteStream(ctx context.Context, w io.Writer, p EventParser, model string) error

	// Aggregate pulls every event from p and returns one ChatCompletion.
	Aggregate(ctx context.Context, p EventParser, model string) (*entity.ChatCompletion, error)
}

// UpstreamClient performs the retried streaming POST to
// generateAssistantResponse and the GET to ListAvailableModels.
type UpstreamClient interface {
	GenerateAssistantResponse(ctx context.Context, token string, body []byte) (io.ReadCloser, error)
	ListAvailableModels(ctx context.Context, token string) ([]byte, error)
}
