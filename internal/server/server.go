/**
 * Status Server for the ReportScan Worker
 *
 * Small HTTP surface next to the queue consumer: liveness, readiness of the
 * recognition engine and database, job and result lookup, and statistics.
 */

package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/adverant/nexus/reportscan-worker/internal/logging"
	"github.com/adverant/nexus/reportscan-worker/internal/queue"
	"github.com/adverant/nexus/reportscan-worker/internal/storage"
)

// ResultReader looks up published job results.
type ResultReader interface {
	GetResult(ctx context.Context, jobID string) (json.RawMessage, error)
	GetStats(ctx context.Context) (map[string]int64, error)
}

// JobStore reads job rows and stored outcomes from the database.
type JobStore interface {
	GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error)
	GetLatestResultForJob(ctx context.Context, jobID string) (*storage.ResultRecord, error)
	GetResult(ctx context.Context, resultID string) (*storage.ResultRecord, error)
}

// Check is a named readiness check.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config holds status server dependencies
type Config struct {
	Port           int
	Results        ResultReader // optional
	Jobs           JobStore     // optional
	Checks         []Check
	Stats          func() map[string]interface{} // optional consumer statistics
	Database       func() sql.DBStats            // optional pool statistics
	RequestTimeout time.Duration
}

// Server serves worker status over HTTP
type Server struct {
	http   *http.Server
	logger *logging.Logger
}

// New builds the server. It does not listen until Start.
func New(cfg *Config) *Server {
	return &Server{
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logging.NewLogger("StatusServer"),
	}
}

// NewRouter creates the status routes.
func NewRouter(cfg *Config) http.Handler {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	h := &handlers{cfg: cfg}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(timeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "reportscan-worker"})
	})
	r.Get("/ready", h.ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", h.stats)
		r.Get("/jobs/{jobId}", h.job)
		r.Get("/jobs/{jobId}/result", h.result)
		r.Get("/results/{resultId}", h.storedResult)
	})

	return r
}

// Start listens in the background. Serve errors other than a clean
// shutdown are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Status server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server stopped", "error", err)
		}
	}()
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type handlers struct {
	cfg *Config
}

func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for _, check := range h.cfg.Checks {
		if err := check.Run(r.Context()); err != nil {
			failed[check.Name] = err.Error()
		}
	}

	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not ready", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{}
	if h.cfg.Stats != nil {
		body["consumer"] = h.cfg.Stats()
	}
	if h.cfg.Results != nil {
		jobs, err := h.cfg.Results.GetStats(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		body["jobs"] = jobs
	}
	if h.cfg.Database != nil {
		db := h.cfg.Database()
		body["database"] = map[string]interface{}{
			"openConnections": db.OpenConnections,
			"inUse":           db.InUse,
			"idle":            db.Idle,
			"waitCount":       db.WaitCount,
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// result serves the published payload of a finished job. Jobs whose Redis
// entry is gone fall back to the outcome stored in the database.
func (h *handlers) result(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Results == nil && h.cfg.Jobs == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("result lookup is not configured"))
		return
	}

	jobID := chi.URLParam(r, "jobId")
	err := fmt.Errorf("%w: job %s", queue.ErrResultNotFound, jobID)
	if h.cfg.Results != nil {
		var data json.RawMessage
		data, err = h.cfg.Results.GetResult(r.Context(), jobID)
		if err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		}
		if !errors.Is(err, queue.ErrResultNotFound) {
			writeError(w, http.StatusBadGateway, err)
			return
		}
	}

	if h.cfg.Jobs == nil || queue.ValidateJobID(jobID) != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	rec, err := h.cfg.Jobs.GetLatestResultForJob(r.Context(), jobID)
	writeRecord(w, rec, err)
}

func (h *handlers) job(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Jobs == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("job lookup is not configured"))
		return
	}

	jobID := chi.URLParam(r, "jobId")
	if err := queue.ValidateJobID(jobID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	job, err := h.cfg.Jobs.GetJobByID(r.Context(), jobID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
		return
	}

	rec, err := h.cfg.Jobs.GetLatestResultForJob(r.Context(), jobID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"job": job, "result": rec})
}

func (h *handlers) storedResult(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Jobs == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("result lookup is not configured"))
		return
	}

	resultID := chi.URLParam(r, "resultId")
	if _, err := uuid.Parse(resultID); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("resultId %q is not a UUID", resultID))
		return
	}

	rec, err := h.cfg.Jobs.GetResult(r.Context(), resultID)
	writeRecord(w, rec, err)
}

func writeRecord(w http.ResponseWriter, rec *storage.ResultRecord, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
