// Package server runs the generated backend as an HTTP service.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pretendo-dev/pretendo/core/apierror"
	"github.com/pretendo-dev/pretendo/core/logger"
)

// Server binds the backend router to a TCP port.
type Server struct {
	host     string
	port     int
	handler  http.Handler
	listener net.Listener
	srv      *http.Server
}

// New creates a server for the handler. Port 0 picks a free port.
func New(handler http.Handler, host string, port int) *Server {
	return &Server{host: host, port: port, handler: handler}
}

// Start binds the port and serves in the background. Bind failures, such
// as a port already in use, are returned synchronously.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return apierror.Wrap(apierror.KindIO, err, "cannot listen on %s", addr)
	}
	s.listener = listener
	if s.port == 0 {
		s.port = listener.Addr().(*net.TCPAddr).Port
	}
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Default().WithError(err).Error("server terminated")
		}
	}()
	logger.Default().Infof("listening on %s", s.URL())
	return nil
}

// Stop shuts the server down gracefully, in-flight requests get up to 30
// seconds to finish.
func (s *Server) Stop() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// Port returns the bound port.
func (s *Server) Port() int { return s.port }

// URL returns the base URL of the running server.
func (s *Server) URL() string {
	host := s.host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, s.port)
}
