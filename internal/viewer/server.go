// Package viewer serves a read-only HTTP API over the runs directory. It
// reads manifest.json first and only serves artifacts the manifest layout
// places under a run directory.
package viewer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DefaultAddr is the loopback address `weave serve` binds by default.
const DefaultAddr = "127.0.0.1:7420"

// Server holds the router and what the handlers read from.
type Server struct {
	router      *mux.Router
	runsDir     string
	transcripts TranscriptFinder
	log         *zap.SugaredLogger
}

// TranscriptFinder locates the session log of a thread.
type TranscriptFinder interface {
	Find(threadID string) (string, error)
}

// NewServer returns a server over runsDir. transcripts may be nil, in which
// case every transcript request is a 404.
func NewServer(runsDir string, transcripts TranscriptFinder, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		router:      mux.NewRouter(),
		runsDir:     runsDir,
		transcripts: transcripts,
		log:         log,
	}
	s.setupRoutes()
	return s
}

// Router returns the configured router for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/runs", s.listRuns).Methods("GET")
	api.HandleFunc("/runs/{runId}/manifest", s.getManifest).Methods("GET")
	api.HandleFunc("/runs/{runId}/file", s.getFile).Methods("GET")
	api.HandleFunc("/transcript/{threadId}", s.getTranscript).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "no route for "+r.URL.Path)
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, r.Method+" not allowed")
	})

	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Infow("viewer listening", "addr", ln.Addr().String(), "runsDir", s.runsDir)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
