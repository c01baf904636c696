// Package api provides the HTTP and WebSocket transport for IntakeDesk.
//
// It exposes session endpoints that drive the intake flow one message at a time. The transport
// only maps requests to flow operations and errors to status codes; all conversation state is
// owned by the flow.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/IntakeDesk/internal/flow"
)

// Default configuration values.
const (
	DefaultAddr         = ":8080"
	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	maxBodyBytes        = 64 << 10
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CheckOrigin  func(r *http.Request) bool
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTimeouts sets the HTTP read and write timeouts.
func WithTimeouts(read, write time.Duration) Option {
	return func(o *Opts) {
		o.ReadTimeout = read
		o.WriteTimeout = write
	}
}

// WithCheckOrigin overrides the WebSocket origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(o *Opts) { o.CheckOrigin = fn }
}

// Server serves the session API over a single IntakeFlow.
type Server struct {
	flow   *flow.IntakeFlow
	addr   string
	origin func(r *http.Request) bool
	mux    *http.ServeMux
	srv    *http.Server
}

// NewServer creates a Server. Routes are registered immediately.
func NewServer(f *flow.IntakeFlow, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr, ReadTimeout: DefaultReadTimeout, WriteTimeout: DefaultWriteTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{flow: f, addr: o.Addr, origin: o.CheckOrigin, mux: http.NewServeMux()}
	s.routes()
	s.srv = &http.Server{
		Addr:         o.Addr,
		Handler:      s.mux,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/sessions", s.createSessionHandler)
	s.mux.HandleFunc("/sessions/{id}", s.sessionHandler)
	s.mux.HandleFunc("/sessions/{id}/messages", s.messageHandler)
	s.mux.HandleFunc("/sessions/{id}/ws", s.wsHandler)
	s.mux.HandleFunc("/health", s.healthHandler)
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("Server.Start: IntakeDesk API listening", "addr", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Server.Shutdown: stopping API server")
	return s.srv.Shutdown(ctx)
}
