// Package models implements the model catalog: the external→internal
// id map consumed by the converter, and the /v1/models snapshot, per
// spec.md §4.2.
package models

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kirogateway/gateway/internal/domain/entity"
	"github.com/kirogateway/gateway/internal/domain/service"
	"go.uber.org/zap"
)

// nameMap is the authoritative external→internal model id map.
var nameMap = map[string]string{
	"claude-opus-4-5":            "claude-opus-4.5",
	"claude-opus-4-5-20251101":   "claude-opus-4.5",
	"claude-haiku-4-5":           "claude-haiku-4.5",
	"claude-sonnet-4-5":          "CLAUDE_SONNET_4_5_20250929_V1_0",
	"claude-sonnet-4-5-20250929": "CLAUDE_SONNET_4_5_20250929_V1_0",
	"claude-sonnet-4":            "CLAUDE_SONNET_4_20250514_V1_0",
	"claude-sonnet-4-20250514":   "CLAUDE_SONNET_4_20250514_V1_0",
	"claude-3-7-sonnet-20250219": "CLAUDE_3_7_SONNET_20250219_V1_0",
}

// fallbackDescriptors seeds the catalog before any upstream fetch
// succeeds, and backstops any external name the upstream list omits.
func fallbackDescriptors() []entity.ModelDescriptor {
	descriptors := make([]entity.ModelDescriptor, 0, len(nameMap))
	for external, internal := range nameMap {
		descriptors = append(descriptors, entity.ModelDescriptor{
			ExternalName: external,
			InternalID:   internal,
			Origin:       entity.OriginFallback,
		})
	}
	return descriptors
}

// upstreamClient is the subset of service.UpstreamClient the catalog
// needs; declared locally so tests can supply a stub without pulling in
// the full upstream package.
type upstreamClient interface {
	ListAvailableModels(ctx context.Context, token string) ([]byte, error)
}

// authManager is the subset of service.AuthManager the catalog needs.
type authManager interface {
	AccessToken(ctx context.Context) (string, error)
}

// Catalog is the process-wide model catalog. Its snapshot is
// lazily populated and re-populated on a TTL. A caller that finds the
// snapshot expired blocks on the upstream fetch; the previous snapshot
// is served only when that fetch fails. The fetch itself is not
// serialized: concurrent callers that find the snapshot expired each
// fetch. The mutex guards only the snapshot read and swap.
type Catalog struct {
	mu       sync.RWMutex
	snapshot []entity.ModelDescriptor
	fetchedAt time.Time

	ttl    time.Duration
	auth   authManager
	client upstreamClient
	logger *zap.Logger
}

var _ service.ModelCatalog = (*Catalog)(nil)

// New constructs a Catalog seeded with the fallback table; the first
// call to List triggers the initial upstream fetch.
func New(auth authManager, client upstreamClient, ttl time.Duration, logger *zap.Logger) *Catalog {
	return &Catalog{
		snapshot: fallbackDescriptors(),
		ttl:      ttl,
		auth:     auth,
		client:   client,
		logger:   logger.With(zap.String("component", "model-catalog")),
	}
}

// List implements service.ModelCatalog.
func (c *Catalog) List(ctx context.Context) []entity.ModelDescriptor {
	c.mu.RLock()
	stale := time.Since(c.fetchedAt) >= c.ttl
	snapshot := c.snapshot
	c.mu.RUnlock()

	if !stale {
		return snapshot
	}

	fresh, err := c.fetch(ctx)
	if err != nil {
		c.logger.Warn("model catalog refresh failed, serving stale snapshot", zap.Error(err))
		return snapshot
	}
	return fresh
}

// Resolve implements service.ModelCatalog. It consults the static map
// directly rather than the snapshot: the mapping is always applied
// regardless of what the upstream list currently reports.
func (c *Catalog) Resolve(name string) (string, bool) {
	internal, ok := nameMap[name]
	return internal, ok
}

func (c *Catalog) fetch(ctx context.Context) ([]entity.ModelDescriptor, error) {
	token, err := c.auth.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := c.client.ListAvailableModels(ctx, token)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Models []struct {
			ModelID string `json:"modelId"`
		} `json:"models"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}

	merged := map[string]entity.ModelDescriptor{}
	for external, internal := range nameMap {
		merged[external] = entity.ModelDescriptor{
			ExternalName: external,
			InternalID:   internal,
			Origin:       entity.OriginFallback,
		}
	}
	for _, m := range payload.Models {
		for external, internal := range nameMap {
			if internal == m.ModelID {
				d := merged[external]
				d.Origin = entity.OriginUpstream
				merged[external] = d
			}
		}
	}

	snapshot := make([]entity.ModelDescriptor, 0, len(merged))
	for _, d := range merged {
		snapshot = append(snapshot, d)
	}

	c.mu.Lock()
	c.snapshot = snapshot
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return snapshot, nil
}
