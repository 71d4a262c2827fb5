// Package controlplane serves the attribute provider, the validation check and
// install triggers over HTTP.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/openmined/readmesync/internal/utils"
)

type Config struct {
	Addr      string
	Token     string
	RateLimit int64
}

type Server struct {
	config *Config
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
}

func New(config *Config, svc Service) *Server {
	handler := SetupRoutes(svc, RouteConfig{
		Token:     config.Token,
		RateLimit: config.RateLimit,
	})

	return &Server{
		config: config,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           handler,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
	}
}

// Start listens and serves until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	slog.Info("control plane start", "addr", fmt.Sprintf("http://%s", ln.Addr()), "token", utils.MaskSecret(s.config.Token))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control plane serve: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("control plane stop")
	return s.server.Shutdown(ctx)
}

// Addr is the bound address once Start is listening, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}
