package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Middleware wraps every bridge endpoint with request telemetry: it joins the
// caller's W3C trace context (or opens a new trace), answers with an
// X-Correlation-ID header so voice clients can quote the trace in bug
// reports, times the request into [Metrics.HTTPRequestDuration], and logs
// completion. A websocket upgrade on /session holds the request open for the
// whole session, so that path's recorded duration is the session length.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &telemetryHandler{next: next, metrics: m}
	}
}

type telemetryHandler struct {
	next    http.Handler
	metrics *Metrics
	prop    propagation.TraceContext
}

func (h *telemetryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ctx := h.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
	defer span.End()

	cid := CorrelationID(ctx)
	if cid != "" {
		w.Header().Set("X-Correlation-ID", cid)
	}
	h.prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	h.next.ServeHTTP(sw, r.WithContext(ctx))

	elapsed := time.Since(start)
	h.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("path", r.URL.Path),
		),
	)
	span.SetAttributes(semconv.HTTPResponseStatusCode(sw.status))

	slog.LogAttrs(ctx, slog.LevelInfo, "observe: request served",
		slog.String("trace_id", cid),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", sw.status),
		slog.Duration("duration", elapsed),
	)
}

// statusWriter remembers the status code the wrapped handler sent.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which the
// websocket upgrade on /session needs to hijack the connection.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
