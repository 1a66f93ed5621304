package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/R3E-Network/petition_service/internal/config"
	"github.com/R3E-Network/petition_service/internal/logging"
)

// httpServer runs the API listener as a lifecycle-managed service.
type httpServer struct {
	srv *http.Server
	log *logging.Logger

	mu   sync.Mutex
	addr string
	errs chan error
	done chan struct{}
}

func newHTTPServer(cfg config.ServerConfig, handler http.Handler, log *logging.Logger) *httpServer {
	return &httpServer{
		srv: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		log:  log,
		errs: make(chan error, 1),
	}
}

func (s *httpServer) Name() string { return "http" }

// Start binds the listener synchronously so bind errors surface here.
func (s *httpServer) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.srv.Addr, err)
	}
	done := make(chan struct{})
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("http server stopped")
			s.errs <- err
		}
	}()
	return nil
}

func (s *httpServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

// Addr returns the bound address, or the configured one before Start.
func (s *httpServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr != "" {
		return s.addr
	}
	return s.srv.Addr
}

// Err delivers a serve failure that happened after Start.
func (s *httpServer) Err() <-chan error {
	return s.errs
}
