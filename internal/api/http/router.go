// internal/api/http/router.go
package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"cron-engine/internal/metrics"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// instrumentedResponseWriter captures the status code.
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RouteRegistrar is implemented by every handler.
type RouteRegistrar interface {
	RegisterRoutes(r *mux.Router)
}

// NewRouter mounts the handlers plus /metrics, wraps every route with tracing
// and request metrics and applies CORS.
func NewRouter(logger *slog.Logger, handlers ...RouteRegistrar) http.Handler {
	r := mux.NewRouter()
	r.Use(instrument(otel.Tracer("cron-engine-api")))

	for _, h := range handlers {
		h.RegisterRoutes(r)
	}
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no route for " + req.URL.Path})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method " + req.Method + " not allowed"})
	})

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	logger.Debug("http router ready")
	return c.Handler(r)
}

// instrument labels spans and metrics with the route template, not the raw
// path, so ids do not blow up label cardinality.
func instrument(tracer trace.Tracer) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					path = tpl
				}
			}

			ctx, span := tracer.Start(r.Context(), "HTTP "+r.Method+" "+path, trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			))
			defer span.End()

			iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(iw, r.WithContext(ctx))

			metrics.HttpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(iw.statusCode)).Inc()
			span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
			if iw.statusCode >= 500 {
				span.SetStatus(codes.Error, "server error")
			}
		})
	}
}
