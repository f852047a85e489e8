// Package server exposes run artifacts and run history over HTTP for
// external map renderers. It serves data only; rendering happens
// elsewhere.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-analytics/georate/internal/store"
)

// Server serves a rates artifact and the run history.
type Server struct {
	store        *store.Store
	artifactPath string
}

// New creates a Server. artifactPath is the GeoJSON file written by a
// pipeline run; store may be nil, in which case /api/runs reports an
// empty history.
func New(st *store.Store, artifactPath string) *Server {
	return &Server{store: st, artifactPath: artifactPath}
}

// Router builds the chi router with CORS enabled for browser map clients.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/api/rates", s.handleRates)
	r.Get("/api/runs", s.handleRuns)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.artifactPath)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no rates artifact; run the pipeline first"})
			return
		}
		zap.L().Error("read rates artifact", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "read artifact"})
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type runResponse struct {
	ID         string     `json:"id"`
	InputPath  string     `json:"input_path"`
	Points     int        `json:"points"`
	Matched    int        `json:"matched"`
	Unassigned int        `json:"unassigned"`
	Regions    int        `json:"regions"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []runResponse{})
		return
	}

	runs, err := s.store.ListRuns(r.Context(), 50)
	if err != nil {
		zap.L().Error("list runs", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list runs"})
		return
	}

	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, runResponse{
			ID:         run.ID,
			InputPath:  run.InputPath,
			Points:     run.Points,
			Matched:    run.Matched,
			Unassigned: run.Unassigned,
			Regions:    run.Regions,
			Status:     run.Status,
			Error:      run.Error,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}
