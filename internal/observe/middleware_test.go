package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const incomingTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

// routedHandler serves a small mux behind the middleware: /files/ answers
// 200, /ws upgrades, everything else falls through to 404.
func routedHandler(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	m, reader := newTestMetrics(t)
	exp := useTestTracer(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /files/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	})
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c.Close(websocket.StatusNormalClosure, "bye")
	})
	return Middleware(m)(mux), reader, exp
}

func routeCounts(t *testing.T, reader *sdkmetric.ManualReader) map[string]uint64 {
	t.Helper()
	rm := collect(t, reader)
	out := map[string]uint64{}
	met := findMetric(rm, "talkback.http.request.duration")
	if met == nil {
		return out
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("http duration is not a histogram")
	}
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		out[route.AsString()] += dp.Count
	}
	return out
}

func TestMiddleware_RecordsByRoute(t *testing.T) {
	h, reader, _ := routedHandler(t)

	for _, path := range []string{"/files/a.css", "/files/b.js", "/nowhere"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	got := routeCounts(t, reader)
	if got["GET /files/"] != 2 {
		t.Errorf("GET /files/ count = %d, want 2 (counts %v)", got["GET /files/"], got)
	}
	if got[unmatchedRoute] != 1 {
		t.Errorf("unmatched count = %d, want 1 (counts %v)", got[unmatchedRoute], got)
	}
	if len(got) != 2 {
		t.Errorf("routes = %v, want exactly two series", got)
	}
}

func TestMiddleware_SpanAndCorrelationID(t *testing.T) {
	h, _, exp := routedHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if cid := rec.Header().Get("X-Correlation-ID"); len(cid) != 32 {
		t.Errorf("X-Correlation-ID = %q, want a trace ID", cid)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "HTTP "+unmatchedRoute {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusNotFound {
		t.Errorf("span status attribute = %d, want 404", status)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	h, _, _ := routedHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/files/x", nil)
	req.Header.Set("traceparent", "00-"+incomingTraceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != incomingTraceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, incomingTraceID)
	}
}

func TestMiddleware_WebsocketNotRecorded(t *testing.T) {
	h, reader, exp := routedHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx := context.Background()
	c, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):]+"/ws", nil)
	if err != nil {
		t.Fatalf("dial through middleware: %v", err)
	}
	_, _, _ = c.Read(ctx)
	_ = c.CloseNow()

	// The span ends once the handler returns, which may be after Dial.
	deadline := time.Now().Add(2 * time.Second)
	for !hasUpgradeSpan(exp) {
		if time.Now().After(deadline) {
			t.Fatal("no span recorded the 101 upgrade")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := routeCounts(t, reader); got["GET /ws"] != 0 {
		t.Errorf("websocket recorded in request duration: %v", got)
	}
}

func hasUpgradeSpan(exp *tracetest.InMemoryExporter) bool {
	for _, s := range exp.GetSpans() {
		for _, a := range s.Attributes {
			if a.Key == "http.response.status_code" && a.Value.AsInt64() == http.StatusSwitchingProtocols {
				return true
			}
		}
	}
	return false
}

func TestResponseRecorder_HijackUnsupported(t *testing.T) {
	rec := &responseRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	if _, _, err := rec.Hijack(); err == nil {
		t.Fatal("Hijack on a non-hijacker must fail")
	}
	if rec.hijacked || rec.status != http.StatusOK {
		t.Errorf("recorder changed after failed hijack: %+v", rec)
	}
}
