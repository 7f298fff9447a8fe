package web

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cjeanneret/photobooth/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server for addr. The handlers' static files default to
// the embedded page.
func NewServer(addr string, handlers *Handlers) *Server {
	if handlers.staticFS == nil {
		subFS, err := StaticFS()
		if err != nil {
			log.Fatalf("web: failed to sub static fs: %v", err)
		}
		handlers.staticFS = subFS
	}
	return &Server{
		addr:     addr,
		handlers: handlers,
	}
}

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	h := s.handlers
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if debug.IsEnabled(debug.LevelVerbose) {
		r.Use(middleware.Logger)
	}

	r.Get("/", h.ServeIndex)
	r.Get("/config", h.HandleConfig)
	r.Get("/state", h.HandleState)

	r.Route("/session", func(r chi.Router) {
		r.Post("/start", h.HandleStart)
		r.Post("/stop", h.HandleStop)
		r.Post("/facing", h.HandleFacing)
	})
	r.Put("/filter", h.HandleFilter)
	r.Post("/capture", h.HandleCapture)
	r.Get("/preview.jpg", h.HandlePreview)

	r.Route("/photos", func(r chi.Router) {
		r.Get("/", h.HandlePhotos)
		r.Get("/export", h.HandleExport)
		r.Post("/export", h.HandleSave)
		r.Get("/{id}", h.HandlePhoto)
		r.Get("/{id}/thumb", h.HandleThumb)
		r.Delete("/{id}", h.HandleDelete)
	})

	r.Get("/status/stream", h.HandleStatusStream)
	r.Get("/events", h.HandleEvents)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))

	return r
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
