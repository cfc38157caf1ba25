// Package server exposes the digest pipeline over HTTP and keeps the run
// history.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DigestRunner is the server's view of the pipeline.
type DigestRunner interface {
	Run(ctx context.Context, emailCount int) (string, error)
}

// Config configures a Server instance.
type Config struct {
	Runner DigestRunner
	Store  RunStore

	// DefaultEmailCount is used when a digest request does not specify one.
	DefaultEmailCount int

	// CORSOrigins lists allowed origins. Empty allows any origin.
	CORSOrigins []string

	MaxBody int64
	Logger  *slog.Logger
}

// Server is the digestflow HTTP API server.
type Server struct {
	runner            DigestRunner
	store             RunStore
	defaultEmailCount int
	corsOrigins       []string
	maxBody           int64
	logger            *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, errors.New("server: digest runner is required")
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryRunStore()
	}
	defaultCount := cfg.DefaultEmailCount
	if defaultCount <= 0 {
		defaultCount = 10
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		runner:            cfg.Runner,
		store:             store,
		defaultEmailCount: defaultCount,
		corsOrigins:       cfg.CORSOrigins,
		maxBody:           maxBody,
		logger:            logger,
	}, nil
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/digest", s.handleDigest)
	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/runs/{run_id}", s.handleGetRun)
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type digestRequest struct {
	EmailCount int `json:"emailCount"`
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	var req digestRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
			return
		}
	}
	if req.EmailCount < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "emailCount must not be negative")
		return
	}
	emailCount := req.EmailCount
	if emailCount == 0 {
		emailCount = s.defaultEmailCount
	}

	rec := RunRecord{
		ID:         uuid.NewString(),
		Status:     RunStatusRunning,
		Trigger:    TriggerAPI,
		EmailCount: emailCount,
		StartedAt:  time.Now().UTC(),
	}
	if err := s.store.Create(r.Context(), rec); err != nil {
		s.logger.Error("recording run start failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "could not record run")
		return
	}

	digest, runErr := s.runner.Run(r.Context(), emailCount)

	finished := time.Now().UTC()
	rec.FinishedAt = &finished
	if runErr != nil {
		rec.Status = RunStatusFailed
		rec.Error = runErr.Error()
	} else {
		rec.Status = RunStatusCompleted
		rec.Digest = digest
	}
	if err := s.store.Update(context.WithoutCancel(r.Context()), rec); err != nil {
		s.logger.Error("recording run outcome failed", "error", err, "run_id", rec.ID)
	}

	if runErr != nil {
		s.logger.Error("digest run failed", "error", runErr, "run_id", rec.ID)
		writeError(w, http.StatusBadGateway, "run_failed", runErr.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	records, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error", "could not list runs")
		return
	}
	if records == nil {
		records = []RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": records})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("run_id")
	rec, found, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("loading run failed", "error", err, "run_id", id)
		writeError(w, http.StatusInternalServerError, "store_error", "could not load run")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.corsOrigins) > 0 {
			origin = ""
			if requested := r.Header.Get("Origin"); slices.Contains(s.corsOrigins, requested) {
				origin = requested
			}
		}
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the standard error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: apiErrorBody{Code: code, Message: message}})
}
