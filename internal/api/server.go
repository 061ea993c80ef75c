package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-ingest/internal/audit"
	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/metrics"
	"github.com/JakeFAU/archive-ingest/internal/record"
)

// SummaryReader returns the latest audit summary of a source.
type SummaryReader interface {
	Latest(sourceID string) (audit.Summary, error)
}

// Server wires HTTP handlers to the audit and catalog files.
type Server struct {
	router    chi.Router
	sources   []ingest.Source
	summaries SummaryReader
	outputDir string
	logger    *zap.Logger
}

type sourceDTO struct {
	ID        string   `json:"id"`
	Label     string   `json:"label,omitempty"`
	Profile   string   `json:"profile"`
	Locations []string `json:"locations"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(sources []ingest.Source, summaries SummaryReader, outputDir string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sources:   sources,
		summaries: summaries,
		outputDir: outputDir,
		logger:    logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/sources", func(r chi.Router) {
		r.Get("/", s.listSources)
		r.Route("/{source_id}", func(r chi.Router) {
			r.Get("/audit", s.latestAudit)
			r.Get("/catalog", s.catalog)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	out := make([]sourceDTO, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, sourceDTO{
			ID:        src.ID,
			Label:     src.Label,
			Profile:   src.Profile,
			Locations: src.Locations,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

func (s *Server) latestAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sourceID(w, r)
	if !ok {
		return
	}
	summary, err := s.summaries.Latest(id)
	if err != nil {
		if errors.Is(err, audit.ErrNoSummary) {
			writeError(w, http.StatusNotFound, "no audit summary")
			return
		}
		s.logger.Error("read summary failed", zap.String("source", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) catalog(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sourceID(w, r)
	if !ok {
		return
	}
	records, err := record.Load(record.CatalogPath(s.outputDir, id))
	if err != nil {
		s.logger.Error("read catalog failed", zap.String("source", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load catalog")
		return
	}
	if records == nil {
		records = []ingest.WorkRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// sourceID resolves the path parameter against configured sources.
func (s *Server) sourceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "source_id")
	for _, src := range s.sources {
		if src.ID == id {
			return id, true
		}
	}
	writeError(w, http.StatusNotFound, "unknown source")
	return "", false
}

// requestIDMiddleware tags each request with an ID, reusing a well-formed
// X-Request-ID from the caller.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("error", rec),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

// RequestID returns the ID assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
