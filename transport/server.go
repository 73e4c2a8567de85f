package transport

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/hexapod/rangemapper/logging"
)

// DefaultWebSocketPath is where the hub is mounted.
const DefaultWebSocketPath = "/"

// StatusFunc returns a JSON encodable snapshot of the controller.
type StatusFunc func() interface{}

// NewRouter mounts the hub at wsPath and a read only status endpoint at /status.
func NewRouter(hub *Hub, wsPath string, status StatusFunc, logger logging.Logger) *mux.Router {
	if wsPath == "" {
		wsPath = DefaultWebSocketPath
	}
	router := mux.NewRouter()
	if status != nil {
		router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Cache-Control", "no-cache")
			if err := json.NewEncoder(w).Encode(status()); err != nil {
				logger.Debugw("error writing status", "error", err)
			}
		}).Methods(http.MethodGet)
	}
	router.Handle(wsPath, hub)
	router.Use(loggingMiddleware(logger))
	return router
}

func loggingMiddleware(logger logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debugw("request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr,
				"duration", time.Since(start))
		})
	}
}

// Server serves the router over HTTP.
type Server struct {
	mu                      sync.Mutex
	addr                    string
	httpServer              *http.Server
	listener                net.Listener
	logger                  logging.Logger
	activeBackgroundWorkers sync.WaitGroup
}

// NewServer returns a server for handler on addr. It does not listen until Start.
func NewServer(addr string, handler http.Handler, logger logging.Logger) *Server {
	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("server already started")
	}
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "cannot listen on %s", s.addr)
	}
	s.listener = listener
	s.logger.Infow("serving", "addr", listener.Addr().String())

	s.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("server stopped", "error", err)
		}
	}, s.activeBackgroundWorkers.Done)
	return nil
}

// Addr returns the address the server listens on, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting requests and waits for the server to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.activeBackgroundWorkers.Wait()
	return err
}
