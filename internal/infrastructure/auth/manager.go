// Package auth owns the upstream access/refresh token pair: the
// refresh-in-advance policy, credentials-file persistence, and
// serialization of concurrent refreshes, per spec.md §4.1.
package auth

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/kirogateway/gateway/internal/domain/entity"
	kiroerrors "github.com/kirogateway/gateway/pkg/errors"
	"go.uber.org/zap"
)

// Manager is the process-wide auth manager. It owns the credentials
// record and refresh protocol. Construct one at startup, thread it
// through the request handler, do not reach for it as ambient global
// state.
type Manager struct {
	mu    sync.Mutex
	creds entity.Credentials

	region           string
	credsFile        string
	refreshThreshold time.Duration
	userAgent        string
	refreshEndpoint  string // overrides the region-templated URL; used in tests

	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithCredentialsFile sets the path the manager persists refreshed
// credentials to and, when the file exists at construction, loads the
// credentials record from (see New).
func WithCredentialsFile(path string) Option {
	return func(m *Manager) { m.credsFile = path }
}

// WithRefreshEndpoint overrides the region-templated refresh URL.
// Tests use it to point the manager at an httptest.Server.
func WithRefreshEndpoint(url string) Option {
	return func(m *Manager) { m.refreshEndpoint = url }
}

// New constructs a Manager. initial seeds the in-memory record (at
// minimum a refresh token); if credsFile is configured via
// WithCredentialsFile and contains a record, that record takes
// precedence over initial.
func New(initial entity.Credentials, region string, refreshThreshold time.Duration, logger *zap.Logger, opts ...Option) (*Manager, error) {
	m := &Manager{
		creds:            initial,
		region:           region,
		refreshThreshold: refreshThreshold,
		userAgent:        fingerprint(),
		logger:           logger.With(zap.String("component", "auth-manager")),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.credsFile != "" {
		if onDisk, err := loadCredentialsFile(m.credsFile); err == nil {
			m.creds = *onDisk
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load credentials file: %w", err)
		}
	}

	if m.creds.RefreshToken == "" {
		return nil, fmt.Errorf("auth manager: no refresh token available")
	}
	if m.creds.Region == "" {
		m.creds.Region = region
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	m.httpClient = &http.Client{
		Transport: transport,
		Timeout:   15 * time.Second,
	}

	return m, nil
}

// AccessToken implements service.AuthManager. The happy path (cache hit)
// never takes the mutex's critical section beyond a quick read of the
// cached token — refresh only runs when the token is stale.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	fresh := !m.creds.Stale(time.Now(), m.refreshThreshold) && m.creds.AccessToken != ""
	token := m.creds.AccessToken
	m.mu.Unlock()

	if fresh {
		return token, nil
	}
	return m.refresh(ctx, false)
}

// ForceRefresh unconditionally performs the refresh protocol under the
// manager's mutex; the HTTP client calls it on a 403.
func (m *Manager) ForceRefresh(ctx context.Context) (string, error) {
	return m.refresh(ctx, true)
}

// refresh performs the refresh protocol under the manager's mutex.
// Unless force is set, it first re-checks freshness, so concurrent
// AccessToken callers that arrive while a refresh is already in flight
// block on the same mutex and observe the single resulting token rather
// than triggering their own request.
func (m *Manager) refresh(ctx context.Context, force bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check freshness: another goroutine may have refreshed while we
	// waited for the lock.
	if !force && !m.creds.Stale(time.Now(), m.refreshThreshold) && m.creds.AccessToken != "" {
		return m.creds.AccessToken, nil
	}

	url := m.refreshEndpoint
	if url == "" {
		region := m.creds.Region
		if region == "" {
			region = m.region
		}
		url = fmt.Sprintf("https://prod.%s.auth.desktop.kiro.dev/refreshToken", region)
	}

	reqBody, err := json.Marshal(struct {
		RefreshToken string `json:"refreshToken"`
	}{RefreshToken: m.creds.RefreshToken})
	if err != nil {
		return "", kiroerrors.AuthUnavailable("marshal refresh request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", kiroerrors.AuthUnavailable("build refresh request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", m.userAgent)

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return "", kiroerrors.AuthUnavailable("refresh request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", kiroerrors.AuthUnavailable("read refresh response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", kiroerrors.AuthUnavailable(
			fmt.Sprintf("refresh returned status %d", resp.StatusCode), nil)
	}

	var payload struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresAt    string `json:"expiresAt"`
		ProfileARN   string `json:"profileArn"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", kiroerrors.AuthUnavailable("parse refresh response", err)
	}
	if payload.AccessToken == "" {
		return "", kiroerrors.AuthUnavailable("refresh response missing accessToken", nil)
	}

	m.creds.AccessToken = payload.AccessToken
	if payload.RefreshToken != "" {
		m.creds.RefreshToken = payload.RefreshToken
	}
	if payload.ProfileARN != "" {
		m.creds.ProfileARN = payload.ProfileARN
	}
	if payload.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, payload.ExpiresAt); err == nil {
			m.creds.ExpiresAt = &t
		} else {
			m.logger.Warn("could not parse refresh expiresAt", zap.String("expiresAt", payload.ExpiresAt), zap.Error(err))
		}
	}

	if m.credsFile != "" {
		if err := saveCredentialsFile(m.credsFile, &m.creds); err != nil {
			m.logger.Warn("failed to persist refreshed credentials", zap.Error(err))
		}
	}

	m.logger.Info("refreshed upstream access token")
	return m.creds.AccessToken, nil
}

// ProfileARN returns the profile ARN currently in the credentials record.
func (m *Manager) ProfileARN() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds.ProfileARN
}

// Region returns the region the credentials record is scoped to.
func (m *Manager) Region() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds.Region != "" {
		return m.creds.Region
	}
	return m.region
}
