// Package api is the HTTP adapter over the export engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"trade-export/internal/domain"
	"trade-export/internal/middleware"
	"trade-export/internal/service/jobs"
	"trade-export/internal/service/retention"
)

// maxBodyBytes bounds a query request body.
const maxBodyBytes = 1 << 20

// ExportService is the engine surface the handlers need.
type ExportService interface {
	Submit(ctx context.Context, identity string, spec domain.QuerySpec) (*jobs.Result, error)
	Status(ctx context.Context, identity, signature string) (*domain.JobRecord, error)
}

// Artifacts resolves retained artifacts for downloads.
type Artifacts interface {
	Owns(ctx context.Context, identity, filename string) (bool, error)
	Path(filename string) string
}

var (
	_ ExportService = (*jobs.Service)(nil)
	_ Artifacts     = (*retention.Manager)(nil)
)

// Handler serves the /v1 API.
type Handler struct {
	exports   ExportService
	artifacts Artifacts
	logger    *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(exports ExportService, artifacts Artifacts, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{exports: exports, artifacts: artifacts, logger: logger.With("component", "api")}
}

// RouterConfig holds the cross-cutting HTTP settings.
type RouterConfig struct {
	Validator      middleware.TokenValidator
	AllowedOrigins []string
	RateLimit      *middleware.RateLimitConfig
	Logger         *slog.Logger
}

// NewRouter mounts the handler under /v1 behind authentication, with
// health checks outside it.
func NewRouter(ctx context.Context, h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(logger))
	r.Use(chimw.Recoverer)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.Validator))
		if cfg.RateLimit != nil {
			r.Use(middleware.RateLimiter(ctx, *cfg.RateLimit))
		}
		r.Post("/query", h.Query)
		r.Get("/jobs/{signature}", h.GetJob)
		r.Get("/download/{filename}", h.Download)
	})
	return r
}

// Query runs or reuses an export. The request blocks until the artifact is
// ready, the job fails, or the wait ceiling is reached.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	identity, ok := domain.IdentityFromContext(r.Context())
	if !ok {
		h.writeError(w, r, domain.ErrAccessDenied("not authenticated"))
		return
	}

	var req QueryRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, r, domain.ErrValidation("invalid request body: %v", err))
		return
	}

	res, err := h.exports.Submit(r.Context(), identity, req.toDomain())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{
		Status:           "success",
		Filename:         res.Filename,
		Filepath:         res.Path,
		Signature:        res.Signature,
		Cached:           res.Cached,
		DownloadURL:      res.DownloadURL,
		UnknownExchanges: res.UnknownExchanges,
	})
}

// GetJob returns the caller's job record.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	identity, _ := domain.IdentityFromContext(r.Context())
	rec, err := h.exports.Status(r.Context(), identity, chi.URLParam(r, "signature"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobToAPI(rec))
}

// Download streams the caller's retained artifact. The file stays in place;
// retention decides when it goes.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	identity, _ := domain.IdentityFromContext(r.Context())
	filename := chi.URLParam(r, "filename")
	if !retention.ValidArtifactName(filename) {
		h.writeError(w, r, domain.ErrNotFound("file not found"))
		return
	}
	owns, err := h.artifacts.Owns(r.Context(), identity, filename)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !owns {
		h.writeError(w, r, domain.ErrAccessDenied("file %q is not your current export", filename))
		return
	}

	f, err := os.Open(h.artifacts.Path(filename))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			h.writeError(w, r, domain.ErrNotFound("file not found"))
			return
		}
		h.writeError(w, r, err)
		return
	}
	defer f.Close() //nolint:errcheck

	modTime := time.Time{}
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="trades.csv"`)
	http.ServeContent(w, r, filename, modTime, f)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatusFromDomainError(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		var exec *domain.ExecutionError
		if !errors.As(err, &exec) {
			h.logger.Error("request failed", "path", r.URL.Path, "error", err,
				"request_id", middleware.RequestIDFromContext(r.Context()))
			msg = "internal error"
		}
	}
	writeJSON(w, code, ErrorResponse{Status: statusLabel(code), Message: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
