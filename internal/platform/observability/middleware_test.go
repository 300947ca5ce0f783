package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kapitalwerk/contract-api/internal/platform/auth"
	"github.com/kapitalwerk/contract-api/internal/platform/requestctx"
)

func TestInvestorFieldsAddsUser(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	handler := InvestorFields()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestctx.Logger(r.Context()).Info("inside")
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	ctx := requestctx.WithLogger(req.Context(), zap.New(core))
	ctx = auth.WithIdentity(ctx, &auth.Identity{UID: "user\x00-1"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req.WithContext(ctx))

	entries := logs.AllUntimed()
	if len(entries) != 1 || entries[0].ContextMap()["user_id"] != "user-1" {
		t.Fatalf("expected cleaned user_id on request logger, got %+v", entries)
	}
}

func TestRecoverWritesError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := Recover(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestAccessLogRecordsRouteAndStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	router := chi.NewRouter()
	router.Use(Trace("contracts-prod"), AccessLog(zap.New(core)))
	router.Get("/api/v1/me/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !requestctx.HasLogger(r.Context()) {
			t.Fatalf("expected request logger on context")
		}
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/documents/abc", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	router.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request completed").AllUntimed()
	if len(entries) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 404, got %s", entries[0].Level)
	}
	if fields["route"] != "/api/v1/me/documents/{id}" || fields["status"] != int64(http.StatusNotFound) {
		t.Fatalf("unexpected fields %v", fields)
	}
	if fields["trace_id"] != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected trace id from Cloud Trace header, got %v", fields["trace_id"])
	}
	if fields["logging.googleapis.com/trace"] != "projects/contracts-prod/traces/105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected trace resource, got %v", fields["logging.googleapis.com/trace"])
	}
}

func TestParseCloudTrace(t *testing.T) {
	sc, ok := parseCloudTrace("105445aa7843bc8bf206b12000100000/258;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if sc.SpanID() != (trace.SpanID{0, 0, 0, 0, 0, 0, 1, 2}) || !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("unexpected span context %+v", sc)
	}
	for _, header := range []string{"", "nope", "105445aa7843bc8bf206b12000100000/0", "xyz/1", "105445aa7843bc8bf206b12000100000/abc"} {
		if _, ok := parseCloudTrace(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestTracePrefersTraceparent(t *testing.T) {
	var got string
	handler := Trace("p")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = requestctx.TraceID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	handler.ServeHTTP(httptest.NewRecorder(), req.WithContext(context.Background()))

	if got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected traceparent trace id, got %q", got)
	}
}

func TestCleanStripsControlCharacters(t *testing.T) {
	if got := clean("user\x00-1\x1b\n", 64); got != "user-1" {
		t.Fatalf("expected user-1, got %q", got)
	}
	if got := clean("abcdef", 3); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
}
