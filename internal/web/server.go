package web

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cjeanneret/boothframe/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server for addr. When opts.StaticFS is nil the
// embedded page is served.
func NewServer(addr string, opts Options) (*Server, error) {
	if opts.StaticFS == nil {
		subFS, err := fs.Sub(staticFiles, "static")
		if err != nil {
			return nil, err
		}
		opts.StaticFS = subFS
	}
	return &Server{addr: addr, handlers: NewHandlers(opts)}, nil
}

// Handlers returns the request handlers.
func (s *Server) Handlers() *Handlers { return s.handlers }

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	h := s.handlers
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", h.ServeIndex)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	r.Get("/frame", h.HandleFrame)
	r.Post("/capture", h.HandleCapture)
	r.Get("/sessions", h.HandleSessions)
	r.Get("/sessions/{id}", h.HandleSession)
	r.Get("/status/stream", h.HandleStatusStream)
	if h.output != "" {
		r.Handle("/captures/*", fileServer("/captures/", h.output))
	}
	if h.shared != "" {
		r.Handle("/shared/*", fileServer("/shared/", h.shared))
	}
	return r
}

// fileServer serves files under dir without directory listings.
func fileServer(prefix, dir string) http.Handler {
	fsrv := http.StripPrefix(prefix, http.FileServer(http.Dir(dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fsrv.ServeHTTP(w, r)
	})
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.handlers.Shutdown()
		return err
	}
}
