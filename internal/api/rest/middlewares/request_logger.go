package middlewares

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/CameronXie/payment-lifecycle/internal/api/rest/response"
)

// RequestLogger logs one line per request and turns panics into 500 replies.
type RequestLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewRequestLogger creates a RequestLogger.
func NewRequestLogger(logger *slog.Logger) *RequestLogger {
	return &RequestLogger{logger: logger, now: time.Now}
}

// Handle wraps next.
func (m *RequestLogger) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := m.now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				m.logger.ErrorContext(r.Context(), "http_panic_recovered", "panic", p, "path", r.URL.Path)
				if !rec.wrote {
					response.JSONErrorResponse(rec, http.StatusInternalServerError, "internal server error", "")
				}
			}

			m.logger.InfoContext(r.Context(), "http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", m.now().Sub(start).Milliseconds(),
			)
		}()

		next.ServeHTTP(rec, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wrote {
		s.status = code
		s.wrote = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wrote {
		s.wrote = true
	}
	return s.ResponseWriter.Write(b)
}
