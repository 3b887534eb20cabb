// Package api exposes benchmark records over a read-only HTTP API. The JSON
// store file remains the source of truth; the optional index database serves
// the per-machine queries.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/siliconmark/vastmark/pkg/config"
	"github.com/siliconmark/vastmark/pkg/indexstore"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	storePath  string
	index      indexstore.Store
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates a new API server reading records from the JSON store at
// storePath. index may be nil when indexing is disabled.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
	storePath string,
	index indexstore.Store,
) Server {
	return &server{
		log:       log.WithField("component", "api"),
		cfg:       cfg,
		storePath: storePath,
		index:     index,
	}
}

// Start binds the listener and starts serving.
func (s *server) Start(ctx context.Context) error {
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Listen).Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("API server stopped")

	return nil
}
