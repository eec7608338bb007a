// Package http exposes the generation service over REST plus two live event
// streams, WebSocket and SSE, both fed by the same per-user hub.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deckwork/internal/artifacts"
	"deckwork/internal/logging"
	"deckwork/internal/orchestrator"
	"deckwork/internal/transport"
)

// Config configures the HTTP server.
type Config struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	AllowedOrigins []string      `json:"allowed_origins"`
	Debug          bool          `json:"debug"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints hold the response open
	}
}

// Server is the HTTP front of the generation service.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	logger     logging.Logger
	startTime  time.Time
}

// NewServer builds the server with all routes registered.
func NewServer(config Config, service *orchestrator.Service, hub *transport.Hub, artifactStore artifacts.Store) *Server {
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == 0 {
		config.Port = 8080
	}
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := logging.NewComponentLogger("HTTPServer")

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(logger))

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	server := &Server{
		engine:    engine,
		logger:    logger,
		startTime: time.Now(),
	}
	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      engine,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	api := NewAPIHandler(service, artifactStore, hub, server.startTime)
	ws := NewWSHandler(hub)
	sse := NewSSEHandler(hub)
	server.setupRoutes(api, ws, sse)

	return server
}

func (s *Server) setupRoutes(api *APIHandler, ws *WSHandler, sse *SSEHandler) {
	s.engine.GET("/healthz", api.Health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	group := s.engine.Group("/api")
	{
		generations := group.Group("/generations")
		{
			generations.POST("", api.CreateGeneration)
			generations.GET("", api.ListGenerations)
			generations.GET("/:id", api.GetGeneration)
			generations.DELETE("/:id", api.CancelGeneration)
		}

		presentations := group.Group("/presentations")
		{
			presentations.GET("", api.ListPresentations)
			presentations.GET("/:id", api.GetPresentation)
		}

		events := group.Group("/events")
		{
			events.GET("/ws", ws.HandleStream)
			events.GET("/sse", sse.HandleStream)
		}
	}
}

// Handler returns the underlying handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start runs the server until it is shut down. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}
