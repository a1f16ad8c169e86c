// Package server exposes the memory service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/entrhq/memoryd/pkg/logging"
	"github.com/entrhq/memoryd/pkg/memory"
	"github.com/entrhq/memoryd/pkg/types"
)

var debugLog = logging.NewLogger("server")

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes = 4 << 20

// Backend is the memory engine the handlers call. *memory.Service
// satisfies it.
type Backend interface {
	Append(ctx context.Context, sessionID, namespace string, req memory.AppendRequest) error
	Read(ctx context.Context, sessionID string) (*types.MemoryResponse, error)
	Delete(ctx context.Context, sessionID, namespace string) error
	ListSessions(ctx context.Context, namespace string, page, size int) ([]string, error)
	Search(ctx context.Context, sessionID, text string) ([]types.SearchResult, error)
}

// Options configures the listener.
type Options struct {
	// Addr is the TCP address to listen on, e.g. ":8080".
	Addr string
	// MaxConnections bounds simultaneously accepted connections. Zero means
	// unbounded.
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxBodyBytes   int64
}

// Server serves the HTTP API.
type Server struct {
	backend    Backend
	opts       Options
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	done     chan error
}

// New creates a server over backend.
func New(backend Backend, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	s := &Server{backend: backend, opts: opts}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}/memory", s.handleGetMemory)
	mux.HandleFunc("POST /sessions/{id}/memory", s.handlePostMemory)
	mux.HandleFunc("DELETE /sessions/{id}/memory", s.handleDeleteMemory)
	mux.HandleFunc("POST /sessions/{id}/retrieval", s.handleRetrieval)
	return logRequests(mux)
}

// Start listens on Options.Addr and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	if s.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConnections)
	}

	s.mu.Lock()
	s.listener = ln
	s.done = make(chan error, 1)
	s.mu.Unlock()

	debugLog.Infof("listening on %s", ln.Addr())
	go func() {
		err := s.httpServer.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			debugLog.Errorf("http server error: %v", err)
		}
		s.done <- err
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Done reports the serve loop's exit. It is nil before Start.
func (s *Server) Done() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	debugLog.Infof("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		debugLog.Debugf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
