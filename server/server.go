// Package server is irondesk-server: the remote mutation gateway over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/existflow/irondesk/internal/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
)

// Options configures the HTTP layer
type Options struct {
	APIToken string // static bearer token; empty disables auth
}

// Server is the gateway server
type Server struct {
	store Store
	token string
	echo  *echo.Echo
}

// New creates a server over store
func New(store Store, opts Options) *Server {
	s := &Server{
		store: store,
		token: opts.APIToken,
	}

	// Setup Echo
	s.setupEcho()

	return s
}

func (s *Server) setupEcho() {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Custom logging middleware
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			// Process request
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			// Log response
			res := c.Response()
			logger.Info("HTTP Request",
				logger.F("method", req.Method),
				logger.F("uri", req.RequestURI),
				logger.F("status", res.Status),
				logger.F("size", res.Size),
				logger.F("request_id", res.Header().Get(echo.HeaderXRequestID)),
				logger.F("duration", time.Since(start).String()))

			return nil
		}
	})

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())

	// Health check
	e.GET("/health", s.handleHealth)

	// API v1
	api := e.Group("/api/v1")
	api.Use(s.authMiddleware)

	records := api.Group("/records")
	records.GET("/:table", s.handleSelect)
	records.POST("/:table", s.handleInsert)
	records.PATCH("/:table/:id", s.handleUpdate)
	records.DELETE("/:table/:id", s.handleDelete)

	s.echo = e
}

// Close closes the store
func (s *Server) Close() error {
	return s.store.Close()
}

// Router returns the HTTP handler
func (s *Server) Router() http.Handler {
	return s.echo
}

// Start starts the server
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		logger.Warn("Health check failed", logger.F("error", err.Error()))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
