package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
)

type ctxKey struct{}

// maxRequestBodySize caps request bodies at 1 MB.
const maxRequestBodySize = 1 << 20

// requestID returns the ID assigned by instrument, or "".
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// instrument is the outermost middleware. It assigns a request ID
// (reusing X-Request-ID when the client sends one), turns handler panics
// into 500s, then records the request in the log and in Prometheus.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, id))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"error", p, "method", r.Method, "path", r.URL.Path, "request_id", id)
				errInternal.write(ww, "internal server error")
			}
			s.observe(r, ww.Status(), time.Since(start))
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) observe(r *http.Request, status int, took time.Duration) {
	if status == 0 {
		status = http.StatusOK
	}
	route := r.URL.Path
	// The chi pattern keeps object names out of metric labels. It is only
	// complete once routing has finished.
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		route = rc.RoutePattern()
	}
	code := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
	httpRequestDuration.WithLabelValues(route, r.Method, code).Observe(took.Seconds())

	s.logger.Debug("http request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"duration_ms", took.Milliseconds(),
		"request_id", requestID(r.Context()),
	)
}

// corsMiddleware builds the CORS handler. Empty lists fall back to any
// origin, the methods the API serves and the headers it reads.
func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	orDefault := func(v []string, def ...string) []string {
		if len(v) == 0 {
			return def
		}
		return v
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: orDefault(s.cfg.CORS.AllowedOrigins, "*"),
		AllowedMethods: orDefault(s.cfg.CORS.AllowedMethods, http.MethodGet, http.MethodPost, http.MethodOptions),
		AllowedHeaders: orDefault(s.cfg.CORS.AllowedHeaders, "Content-Type", "X-Request-ID"),
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         86400,
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// tokenAccepted reports whether an inbound "auth" value may proceed.
// Without gateway.enforce_token every value is accepted.
func (s *Server) tokenAccepted(token string) bool {
	if !s.gwCfg.EnforceToken {
		return true
	}
	want := s.identity.Auth
	return want != "" && subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1
}
