package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirogateway/gateway/internal/interfaces/http/handlers"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestServer_HealthAndRootBypassAuthButModelsRequiresKey(t *testing.T) {
	srv := NewServer(
		Config{Host: "127.0.0.1", Port: 0, Mode: "debug"},
		"proxy-secret",
		nil,
		nil,
		handlers.NewHealthHandler(),
		zap.NewNop(),
	)
	require.NotNil(t, srv)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	srv.server.Handler.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusUnauthorized, rec2.Code)
}
