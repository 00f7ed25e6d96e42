package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
)

// TraceHeader carries the trace id of every diagnostics response.
const TraceHeader = "X-Trace-Id"

// routes are the paths the diagnostics server knows. Anything else is
// labelled "other" to keep metric cardinality bounded.
var routes = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

func route(path string) string {
	if routes[path] {
		return path
	}
	return "other"
}

// Middleware instruments the diagnostics server. otelhttp owns the server
// span and W3C trace context; the inner handler adds the trace header, the
// route histogram and one log line per request.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		inner := &instrumented{next: next, metrics: m}
		return otelhttp.NewHandler(inner, "diagnostics",
			otelhttp.WithPropagators(propagation.TraceContext{}),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "diagnostics " + r.Method + " " + route(r.URL.Path)
			}),
		)
	}
}

type instrumented struct {
	next    http.Handler
	metrics *Metrics
}

func (h *instrumented) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	if id := TraceID(ctx); id != "" {
		w.Header().Set(TraceHeader, id)
	}

	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	h.next.ServeHTTP(sw, r)
	elapsed := time.Since(start)

	rt := route(r.URL.Path)
	h.metrics.RecordDiagnosticsRequest(ctx, r.Method, rt, sw.status, elapsed)

	// Probes and scrapes arrive every few seconds.
	level := slog.LevelDebug
	switch {
	case sw.status >= http.StatusInternalServerError:
		level = slog.LevelWarn
	case rt == "other":
		level = slog.LevelInfo
	}
	Logger(ctx).LogAttrs(ctx, level, "diagnostics request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", sw.status),
		slog.Duration("elapsed", elapsed),
	)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
