package models

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type stubAuth struct {
	token string
	err   error
}

func (s *stubAuth) AccessToken(ctx context.Context) (string, error) {
	return s.token, s.err
}

type stubUpstream struct {
	body []byte
	err  error
}

func (s *stubUpstream) ListAvailableModels(ctx context.Context, token string) ([]byte, error) {
	return s.body, s.err
}

func TestCatalog_ResolveIsStaticRegardlessOfSnapshot(t *testing.T) {
	c := New(&stubAuth{}, &stubUpstream{}, time.Hour, zap.NewNop())

	internal, ok := c.Resolve("claude-sonnet-4-5")
	if !ok || internal != "CLAUDE_SONNET_4_5_20250929_V1_0" {
		t.Fatalf("Resolve(claude-sonnet-4-5) = %q, %v", internal, ok)
	}

	if _, ok := c.Resolve("nonexistent-model"); ok {
		t.Fatalf("Resolve(nonexistent-model) unexpectedly ok")
	}
}

func TestCatalog_ListUsesFallbackBeforeFirstFetch(t *testing.T) {
	c := New(&stubAuth{token: "tok"}, &stubUpstream{err: errors.New("boom")}, time.Hour, zap.NewNop())

	list := c.List(context.Background())
	if len(list) != len(nameMap) {
		t.Fatalf("expected %d descriptors, got %d", len(nameMap), len(list))
	}
	for _, d := range list {
		if d.Origin != "fallback" {
			t.Fatalf("expected fallback origin, got %v", d.Origin)
		}
	}
}

func TestCatalog_ListMergesUpstreamOriginOnSuccess(t *testing.T) {
	body, _ := json.Marshal(struct {
		Models []struct {
			ModelID string `json:"modelId"`
		} `json:"models"`
	}{
		Models: []struct {
			ModelID string `json:"modelId"`
		}{{ModelID: "claude-opus-4.5"}},
	})

	c := New(&stubAuth{token: "tok"}, &stubUpstream{body: body}, time.Hour, zap.NewNop())

	list := c.List(context.Background())
	found := false
	for _, d := range list {
		if d.ExternalName == "claude-opus-4-5" {
			found = true
			if d.Origin != "upstream" {
				t.Fatalf("expected upstream origin for claude-opus-4-5, got %v", d.Origin)
			}
		}
	}
	if !found {
		t.Fatalf("claude-opus-4-5 missing from merged snapshot")
	}
}

func TestCatalog_ListServesStaleSnapshotOnFetchFailure(t *testing.T) {
	c := New(&stubAuth{token: "tok"}, &stubUpstream{err: errors.New("boom")}, 0, zap.NewNop())

	first := c.List(context.Background())
	second := c.List(context.Background())
	if len(first) != len(second) {
		t.Fatalf("stale read returned a different-sized snapshot")
	}
}
