// Package server wires the gin engine, middleware, and HTTP handlers
// together. This file corresponds to src/server.js in the Node.js version.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
	"github.com/antigravity-oss/dispatch-engine/internal/dispatch"
	"github.com/antigravity-oss/dispatch-engine/internal/server/handlers"
	"github.com/antigravity-oss/dispatch-engine/internal/token"
)

// Server owns the gin engine and the underlying http.Server that serves it.
type Server struct {
	cfg    *config.Config
	engine *gin.Engine
	http   *http.Server
}

// New builds the gin engine, registers middleware and routes, and wraps it
// in an http.Server with the same timeouts the proxy has always run with.
func New(cfg *config.Config, accounts *token.Manager, dispatcher *dispatch.Engine) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(CORSMiddleware())
	engine.Use(SilentHandlerMiddleware())
	engine.Use(RequestLoggingMiddleware())

	health := handlers.NewHealthHandler(accounts)
	models := handlers.NewModelsHandler(accounts)
	messages := handlers.NewMessagesHandler(dispatcher)

	engine.GET("/health", health.Health)

	v1 := engine.Group("/v1")
	v1.Use(APIKeyAuthMiddleware(cfg))
	v1.GET("/models", models.ListModels)
	v1.POST("/messages", messages.Messages)
	v1.POST("/messages/count_tokens", messages.CountTokens)

	return &Server{
		cfg:    cfg,
		engine: engine,
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      engine,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// ListenAndServe starts serving and blocks until the listener stops, same
// contract as http.Server.ListenAndServe.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests before returning.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Addr reports the address the server is configured to listen on.
func (s *Server) Addr() string {
	return s.http.Addr
}
