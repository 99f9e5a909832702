package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes a Registry's gathered metrics over HTTP.
type Server struct {
	http *http.Server
}

// NewServer builds an http.Server exposing reg at path on port. Serve
// must be called to actually start listening.
func NewServer(reg *Registry, port int, path string) *Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{}))
	return &Server{
		http: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}
}

// Serve blocks accepting connections until ctx is canceled, then shuts
// down gracefully. It returns nil on a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.http.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
