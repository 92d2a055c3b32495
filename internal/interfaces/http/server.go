// Package http wires the gateway's gin router: route mounts, the proxy
// auth gate, and the process lifecycle (Start/Stop), grounded on the
// teacher's own server.go.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirogateway/gateway/internal/interfaces/http/handlers"
	"github.com/kirogateway/gateway/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// Config is the HTTP server's bind configuration.
type Config struct {
	Host string
	Port int
	Mode string // debug, release
}

// Server owns the gin engine and the underlying http.Server.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer builds the router and mounts every route.
func NewServer(
	cfg Config,
	proxyKey string,
	chatHandler *handlers.ChatHandler,
	modelsHandler *handlers.ModelsHandler,
	healthHandler *handlers.HealthHandler,
	logger *zap.Logger,
) *Server {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	router.GET("/", healthHandler.Root)
	router.GET("/health", healthHandler.Health)

	v1 := router.Group("/v1")
	v1.Use(middleware.ProxyAuth(proxyKey))
	{
		v1.POST("/chat/completions", chatHandler.ChatCompletions)
		v1.GET("/models", modelsHandler.ListModels)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Start begins serving in the background; it does not block.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down, waiting for in-flight
// requests (notably streaming chat completions) up to ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
