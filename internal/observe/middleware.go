package observe

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests no mux pattern matched.
const unmatchedRoute = "unmatched"

// responseRecorder remembers the status written by the handler and whether
// the connection was taken over by a websocket upgrade.
type responseRecorder struct {
	http.ResponseWriter
	status   int
	hijacked bool
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket.Accept take the connection through the middleware.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observe: response writer does not support hijacking")
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		r.hijacked = true
		r.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (r *responseRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Middleware wraps every request in a server span, continuing any W3C trace
// context in the headers, and echoes the trace ID as X-Correlation-ID.
//
// Plain requests are recorded in HTTPRequestDuration labelled by method and
// by the mux pattern that served them, so static file paths do not create a
// series each. Upgraded websocket requests are not recorded there: their
// duration is a whole session, which ActiveSessions and the turn metrics
// already describe.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method,
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
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			req := r.WithContext(ctx)
			// ServeMux stores the matched pattern on req.
			next.ServeHTTP(rec, req)

			route := req.Pattern
			if route == "" {
				route = unmatchedRoute
			}
			span.SetName("HTTP " + route)
			span.SetAttributes(
				semconv.HTTPRoute(route),
				semconv.HTTPResponseStatusCode(rec.status),
			)

			duration := time.Since(start)
			if !rec.hijacked {
				m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
					metric.WithAttributes(
						attribute.String("method", r.Method),
						attribute.String("route", route),
					),
				)
			}

			slog.LogAttrs(ctx, slog.LevelDebug, "request completed",
				slog.String("trace_id", cid),
				slog.String("route", route),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", duration),
			)
		})
	}
}
