// Package components provides lifecycle components for the resources a
// service typically owns: an HTTP listener, a Postgres pool and a Redis
// client.
package components

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-lifecycle/pkg/healthcheck"
	"github.com/unklstewy/bigskies-lifecycle/pkg/lifecycle"
)

// HTTPConfig configures HTTPServer.
type HTTPConfig struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// LifecycleInfo is what the /lifecycle route reports.
type LifecycleInfo interface {
	Label() string
	ID() string
	State() lifecycle.State
}

// HTTPServer serves the health and lifecycle routes. Start binds the
// listener before reporting, so an address already in use is a start
// failure.
type HTTPServer struct {
	config *HTTPConfig
	logger *zap.Logger
	router *gin.Engine

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	served   chan struct{}
}

var _ lifecycle.Component = (*HTTPServer)(nil)

// NewHTTPServer creates the server. health may be nil, in which case
// /healthz reports unknown.
func NewHTTPServer(config *HTTPConfig, info LifecycleInfo, health *healthcheck.Engine, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "http"))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(recoveryMiddleware(logger), loggingMiddleware(logger))

	router.GET("/healthz", func(c *gin.Context) {
		if health == nil {
			c.JSON(http.StatusOK, gin.H{"status": healthcheck.StatusUnknown})
			return
		}

		result := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if result.Status == healthcheck.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, result)
	})

	router.GET("/lifecycle", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"label": info.Label(),
			"id":    info.ID(),
			"state": info.State().String(),
		})
	})

	return &HTTPServer{
		config: config,
		logger: logger,
		router: router,
	}
}

// Handler returns the router, for tests and for mounting elsewhere.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Addr returns the bound address, or "" before Start.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Name identifies the server as a lifecycle component.
func (s *HTTPServer) Name() string {
	return "http"
}

// Start binds the listener and serves in the background.
func (s *HTTPServer) Start(done func(error)) {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		done(fmt.Errorf("failed to listen on %s: %w", s.config.Address, err))
		return
	}

	server := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	served := make(chan struct{})

	s.mu.Lock()
	s.server, s.listener, s.served = server, ln, served
	s.mu.Unlock()

	go func() {
		defer close(served)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped unexpectedly", zap.Error(err))
		}
	}()

	s.logger.Info("HTTP server listening", zap.String("address", ln.Addr().String()))
	done(nil)
}

// Shutdown stops accepting connections and waits for in-flight requests,
// bounded by the configured shutdown timeout. Connections still open at the
// deadline are closed and the timeout is reported.
func (s *HTTPServer) Shutdown(done func(error)) {
	s.mu.Lock()
	server, served := s.server, s.served
	s.mu.Unlock()

	if server == nil {
		done(nil)
		return
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP server did not drain in time, closing connections",
			zap.Duration("timeout", timeout))
		err = multierr.Append(err, server.Close())
		<-served
		done(fmt.Errorf("failed to shut down HTTP server: %w", err))
		return
	}
	<-served
	done(nil)
}

func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("Request failed", fields...)
			return
		}
		logger.Debug("Request served", fields...)
	}
}

func recoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered in request handler",
					zap.Any("error", r),
					zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
