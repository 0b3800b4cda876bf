// Package server is the HTTP harness: it owns the chi router, the
// middleware chain, and the listen/drain lifecycle. Protocol behavior
// lives in the sub-routers it mounts.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rosschurchill/zeroconfdlna/conf"
	"github.com/rosschurchill/zeroconfdlna/consts"
	"github.com/rosschurchill/zeroconfdlna/core/metrics"
	"github.com/rosschurchill/zeroconfdlna/log"
)

// shutdownGrace is how long in-flight requests get to finish after the
// stop signal before the server is torn down.
const shutdownGrace = 2 * time.Second

type Server struct {
	router chi.Router
}

func New() *Server {
	s := &Server{router: chi.NewRouter()}
	s.initRoutes()
	return s
}

// MountRouter mounts a sub-router under the given url path.
func (s *Server) MountRouter(description, urlPath string, subRouter http.Handler) {
	log.Info("Mounting routes", "description", description, "path", urlPath)
	s.router.Group(func(r chi.Router) {
		r.Mount(urlPath, subRouter)
	})
}

// Run serves HTTP on the listener until ctx is canceled, then drains
// in-flight requests for up to shutdownGrace.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	log.Info(ctx, "HTTP server listening", "addr", ln.Addr().String())

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server did not drain in time, closing", err)
		return srv.Close()
	}
	log.Info("HTTP server stopped")
	return nil
}

func (s *Server) initRoutes() {
	r := s.router
	r.Use(middleware.RealIP)
	r.Use(serverHeader)
	r.Use(instrument)
	r.Use(middleware.Recoverer)

	if conf.Server.Prometheus.Enabled {
		r.Handle(conf.Server.Prometheus.MetricsPath, metrics.Handler())
	}
}

// serverHeader stamps the DLNA server identity on every response.
func serverHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", consts.ServerAgent())
		next.ServeHTTP(w, r)
	})
}

// instrument logs each request at debug and feeds the request counter,
// labeled by the matched route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.RecordRequest(pattern, ww.Status())
		log.Debug(r.Context(), "HTTP request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "size", ww.BytesWritten(),
			"elapsed", time.Since(start), "remote", r.RemoteAddr)
	})
}
