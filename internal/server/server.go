// Package server wires the HTTP surface: webhook receiver, poll trigger,
// health and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/gitwatch/internal/config"
	"github.com/user/gitwatch/pkg/httputil"
	"github.com/user/gitwatch/pkg/logger"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Routes holds the handlers mounted on the router.
type Routes struct {
	Webhook     http.Handler
	PollTrigger http.Handler
	DB          Pinger
}

// NewRouter builds the chi router.
func NewRouter(routes Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestLogger)
	r.Use(httputil.Metrics)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(config.RequestTimeout))

	r.Get("/health", health(routes.DB))
	r.Handle("/metrics", promhttp.Handler())

	if routes.Webhook != nil {
		r.Method(http.MethodPost, "/api/webhooks/github", routes.Webhook)
		r.Method(http.MethodPost, "/webhook", routes.Webhook)
	}
	if routes.PollTrigger != nil {
		r.Method(http.MethodGet, "/api/cron/poll-repos", routes.PollTrigger)
		r.Method(http.MethodPost, "/api/cron/poll-repos", routes.PollTrigger)
	}

	return r
}

func health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				logger.Warn().Err(err).Msg("Health check: database unreachable")
				httputil.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// Server is the HTTP listener.
type Server struct {
	http *http.Server
}

// New creates a server listening on addr.
func New(addr string, handler http.Handler) *Server {
	return &Server{http: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Start serves in the background. A listener failure is fatal.
func (s *Server) Start() {
	go func() {
		logger.Info().Str("address", s.http.Addr).Msg("Starting HTTP server")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
