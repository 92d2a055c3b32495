// Package upstream implements the HTTP client with retry: the bounded
// retry state machine over generateAssistantResponse/ListAvailableModels,
// gated by a circuit breaker, per spec.md §4.6. Grounded on
// anthropic.Provider's client construction and context-cancellation
// watchdog, generalized from a single vendor call to this gateway's own
// 403/429/5xx branching policy.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kirogateway/gateway/internal/domain/service"
	kiroerrors "github.com/kirogateway/gateway/pkg/errors"
	"go.uber.org/zap"
)

// authRefresher is the subset of service.AuthManager the client needs:
// only ForceRefresh, since GenerateAssistantResponse/ListAvailableModels
// are always handed a current token by their caller and only refresh
// internally on a 403.
type authRefresher interface {
	ForceRefresh(ctx context.Context) (string, error)
}

// Client implements service.UpstreamClient.
type Client struct {
	httpClient *http.Client
	auth       authRefresher
	maxRetries int
	breaker    *circuitBreaker
	logger     *zap.Logger

	generateURL string
	modelsURL   string
}

var _ service.UpstreamClient = (*Client)(nil)

// Option configures a Client at construction time.
type Option func(*Client)

// WithGenerateEndpoint overrides the generateAssistantResponse URL.
// Tests use it to point the client at an httptest.Server.
func WithGenerateEndpoint(url string) Option {
	return func(c *Client) { c.generateURL = url }
}

// WithModelsEndpoint overrides the ListAvailableModels URL.
func WithModelsEndpoint(url string) Option {
	return func(c *Client) { c.modelsURL = url }
}

// New constructs a Client.
func New(auth authRefresher, region string, maxRetries int, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		auth:        auth,
		maxRetries:  maxRetries,
		breaker:     newCircuitBreaker(5, 30*time.Second),
		logger:      logger.With(zap.String("component", "upstream-client")),
		generateURL: fmt.Sprintf("https://codewhisperer.%s.amazonaws.com/generateAssistantResponse", region),
		modelsURL:   fmt.Sprintf("https://q.%s.amazonaws.com/ListAvailableModels", region),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.httpClient = &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: 3 * time.Minute,
			IdleConnTimeout:       90 * time.Second,
			TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		},
		// No overall client Timeout: assistant turns stream for minutes;
		// cancellation is via ctx, not a wall-clock deadline.
	}
	return c
}

// GenerateAssistantResponse implements service.UpstreamClient. The
// returned body is handed to the caller unread — retries only cover
// establishing the connection and receiving the initial response
// status, never anything once the body has begun streaming.
func (c *Client) GenerateAssistantResponse(ctx context.Context, token string, body []byte) (io.ReadCloser, error) {
	if !c.breaker.Allow() {
		return nil, kiroerrors.UpstreamUnavailable("circuit breaker open", nil)
	}

	respBody, err := c.retryLoop(ctx, c.generateURL, token, body)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}
	c.breaker.RecordSuccess()
	return respBody, nil
}

// ListAvailableModels implements service.UpstreamClient.
func (c *Client) ListAvailableModels(ctx context.Context, token string) ([]byte, error) {
	if !c.breaker.Allow() {
		return nil, kiroerrors.UpstreamUnavailable("circuit breaker open", nil)
	}

	body, err := c.retryLoop(ctx, c.modelsURL, token, nil)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, kiroerrors.UpstreamUnavailable("read models response", err)
	}
	c.breaker.RecordSuccess()
	return raw, nil
}

// retryLoop implements the per-request retry state machine of spec.md
// §4.6: a 403 triggers exactly one forced refresh; 429/5xx retry with
// bounded exponential backoff; any other 4xx fails without retry.
func (c *Client) retryLoop(ctx context.Context, url, token string, body []byte) (io.ReadCloser, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 4 * time.Second
	bo.RandomizationFactor = 0

	attempt := 1
	for {
		method := http.MethodPost
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		} else {
			method = http.MethodGet
		}

		httpReq, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return nil, kiroerrors.UpstreamUnavailable("build upstream request", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if attempt < c.maxRetries {
				c.sleep(ctx, bo.NextBackOff())
				attempt++
				continue
			}
			return nil, kiroerrors.UpstreamUnavailable("upstream request failed", err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp.Body, nil

		case resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			if attempt == 1 {
				newToken, err := c.auth.ForceRefresh(ctx)
				if err != nil {
					return nil, err
				}
				token = newToken
				attempt++
				continue
			}
			return nil, kiroerrors.AuthUnavailable("upstream rejected refreshed credentials", nil)

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			resp.Body.Close()
			if attempt < c.maxRetries {
				c.sleep(ctx, bo.NextBackOff())
				attempt++
				continue
			}
			return nil, kiroerrors.UpstreamUnavailable(
				fmt.Sprintf("upstream returned %d after %d attempts", resp.StatusCode, attempt), nil)

		default:
			raw, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, kiroerrors.UpstreamRejected(resp.StatusCode, string(raw))
		}
	}
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func (c *Client) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
