// Package app hosts the tracker HTTP surface: HTML pages, the JSON
// document endpoint, the audit view, and the live event feeds.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tracklight/tracklight/internal/platform/timeouts"
	"github.com/tracklight/tracklight/internal/tracker/audit"
	"github.com/tracklight/tracklight/internal/tracker/broadcast"
	"github.com/tracklight/tracklight/internal/tracker/writer"
)

// Config defines the inputs for the tracker HTTP server.
type Config struct {
	HTTPAddr          string
	AppName           string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Dependencies are the wired collaborators the handlers serve from.
type Dependencies struct {
	Serializer *writer.Serializer
	Audit      *audit.Logger
	Hub        *broadcast.Hub
	Logger     *log.Logger
}

// Server hosts the tracker HTTP process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	logger          *log.Logger
}

// NewServer builds a configured tracker server.
func NewServer(config Config, deps Dependencies) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if deps.Serializer == nil {
		return nil, errors.New("serializer is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           NewHandler(config, deps),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		logger:          deps.Logger,
	}, nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("tracker server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	s.logger.Printf("tracker server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
