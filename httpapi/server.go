// Package httpapi is the read-only HTTP surface: geo-cache views, the live
// locator helper, issue listing, health and metrics, plus the WebSocket
// endpoints mounted on the same listener.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"holycluster/metrics"
	"holycluster/spot"
	"holycluster/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	geoCacheListLimit = 10000
	issueListLimit    = 500
)

// Directory is the slice of the Postgres store the API reads from.
type Directory interface {
	GeoCacheEntry(ctx context.Context, callsign string) (*store.GeoCacheRow, error)
	GeoCacheAll(ctx context.Context, limit int) ([]store.GeoCacheRow, error)
	Issues(ctx context.Context, limit int) ([]store.IssueRow, error)
}

// Resolver performs a live lookup for /locator.
type Resolver interface {
	Resolve(ctx context.Context, callsign string) (spot.GeoSide, bool, error)
}

// SnapshotReader fetches the propagation snapshot left by an external
// collector, when one exists.
type SnapshotReader interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

const propagationKey = "propagation"

type Server struct {
	dir      Directory
	resolver Resolver
	kv       SnapshotReader
	log      zerolog.Logger
	router   chi.Router
}

// Routes holds the WebSocket handlers mounted alongside the REST surface.
type Routes struct {
	Spots  http.HandlerFunc
	Radio  http.HandlerFunc
	Submit http.HandlerFunc
}

func New(dir Directory, resolver Resolver, kv SnapshotReader, wsRoutes Routes, log zerolog.Logger) *Server {
	s := &Server{
		dir:      dir,
		resolver: resolver,
		kv:       kv,
		log:      log.With().Str("component", "http").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/geocache/all", s.handleGeoCacheAll)
	r.Get("/geocache/{callsign}", s.handleGeoCacheEntry)
	r.Get("/locator/{callsign}", s.handleLocator)
	r.Get("/spots_with_issues", s.handleIssues)
	r.Get("/propagation", s.handlePropagation)

	if wsRoutes.Spots != nil {
		r.Get("/spots_ws", wsRoutes.Spots)
	}
	if wsRoutes.Radio != nil {
		r.Get("/radio", wsRoutes.Radio)
	}
	if wsRoutes.Submit != nil {
		r.Get("/submit_spot", wsRoutes.Submit)
	}

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve runs the HTTP server until the context is cancelled.
func (s *Server) Serve(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info().Str("listen", listen).Msg("http server up")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("response write failed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGeoCacheEntry(w http.ResponseWriter, r *http.Request) {
	callsign := strings.ToUpper(chi.URLParam(r, "callsign"))
	row, err := s.dir.GeoCacheEntry(r.Context(), callsign)
	if err != nil {
		s.log.Error().Err(err).Msg("geo cache entry query failed")
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if row == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{})
		return
	}
	s.writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleGeoCacheAll(w http.ResponseWriter, r *http.Request) {
	rows, err := s.dir.GeoCacheAll(r.Context(), geoCacheListLimit)
	if err != nil {
		s.log.Error().Err(err).Msg("geo cache list query failed")
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if rows == nil {
		rows = []store.GeoCacheRow{}
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleLocator(w http.ResponseWriter, r *http.Request) {
	callsign := strings.ToUpper(chi.URLParam(r, "callsign"))
	g, _, err := s.resolver.Resolve(r.Context(), callsign)
	if err != nil {
		s.writeJSON(w, http.StatusOK, map[string]string{
			"callsign": callsign,
			"error":    err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"callsign": callsign,
		"locator":  g.Locator,
		"lat":      g.Lat,
		"lon":      g.Lon,
		"source":   g.LocatorSource,
	})
}

func (s *Server) handleIssues(w http.ResponseWriter, r *http.Request) {
	rows, err := s.dir.Issues(r.Context(), issueListLimit)
	if err != nil {
		s.log.Error().Err(err).Msg("issue list query failed")
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if rows == nil {
		rows = []store.IssueRow{}
	}
	s.writeJSON(w, http.StatusOK, rows)
}

// handlePropagation returns whatever snapshot the external collector left in
// the key-value store, or an empty object.
func (s *Server) handlePropagation(w http.ResponseWriter, r *http.Request) {
	raw, ok, err := s.kv.Get(r.Context(), propagationKey)
	if err != nil || !ok {
		s.writeJSON(w, http.StatusOK, map[string]string{})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(raw))
}
