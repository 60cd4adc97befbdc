// Package http provides the gin based HTTP server.
package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/finrag/pkg/infra/middleware"
	mwopts "github.com/kart-io/finrag/pkg/options/middleware"
	options "github.com/kart-io/finrag/pkg/options/server/http"
	apierrors "github.com/kart-io/finrag/pkg/utils/errors"
	"github.com/kart-io/finrag/pkg/utils/response"
	"github.com/kart-io/finrag/pkg/utils/validator"
)

// Server is the HTTP server implementation.
type Server struct {
	opts   *options.Options
	mwOpts *mwopts.Options
	engine *gin.Engine

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a new HTTP server with the given options. Middlewares
// are installed before any route so that every group inherits them.
func NewServer(serverOpts *options.Options, middlewareOpts *mwopts.Options) *Server {
	if serverOpts == nil {
		serverOpts = options.NewOptions()
	}
	if middlewareOpts == nil {
		middlewareOpts = mwopts.NewOptions()
	}

	gin.SetMode(serverOpts.Mode)
	validator.InstallGinBinding(validator.Global())

	s := &Server{
		opts:   serverOpts,
		mwOpts: middlewareOpts,
		engine: gin.New(),
	}
	s.applyMiddleware()

	s.engine.NoRoute(func(c *gin.Context) {
		response.Fail(c, apierrors.ErrRouteNotFound)
	})
	return s
}

// Name returns the server name.
func (s *Server) Name() string {
	return "http[gin]"
}

// Engine returns the underlying gin.Engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// applyMiddleware 顺序：recovery、request id、tracing、logger、cors。
func (s *Server) applyMiddleware() {
	opts := s.mwOpts
	_ = opts.Complete()

	s.engine.Use(middleware.RecoveryWithConfig(middleware.RecoveryConfig{
		EnableStackTrace: opts.Recovery.EnableStackTrace,
	}))
	s.engine.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Header: opts.RequestID.Header,
	}))
	s.engine.Use(middleware.Tracing())
	s.engine.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		SkipPaths: opts.Logger.SkipPaths,
	}))
	if opts.CORS.Enabled {
		s.engine.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     opts.CORS.AllowOrigins,
			AllowMethods:     opts.CORS.AllowMethods,
			AllowHeaders:     opts.CORS.AllowHeaders,
			ExposeHeaders:    opts.CORS.ExposeHeaders,
			AllowCredentials: opts.CORS.AllowCredentials,
			MaxAge:           opts.CORS.MaxAge,
		}))
	}
}

// Start binds the listen address and serves in the background. Bind errors
// are returned directly.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("HTTP server stopped unexpectedly", "addr", ln.Addr().String(), "error", err)
		}
	}()

	logger.Infow("HTTP server listening", "addr", ln.Addr().String())
	return nil
}

// Stop stops the HTTP server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
