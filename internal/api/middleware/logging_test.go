package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestRequestID_Generated — без входящего заголовка генерируется UUID.
func TestRequestID_Generated(t *testing.T) {
	var fromCtx string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	RequestID()(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	header := rec.Header().Get(HeaderRequestID)
	if len(header) != 36 {
		t.Errorf("ожидался UUID, получен %q", header)
	}
	if fromCtx != header {
		t.Errorf("id в контексте %q не совпадает с заголовком %q", fromCtx, header)
	}
}

// TestRequestID_Incoming — входящий идентификатор сохраняется, слишком длинный заменяется.
func TestRequestID_Incoming(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	RequestID()(okHandler()).ServeHTTP(rec, req)

	if got := rec.Header().Get(HeaderRequestID); got != "req-42" {
		t.Errorf("ожидался req-42, получен %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(HeaderRequestID, strings.Repeat("x", 200))
	rec = httptest.NewRecorder()
	RequestID()(okHandler()).ServeHTTP(rec, req)

	if got := rec.Header().Get(HeaderRequestID); len(got) != 36 {
		t.Errorf("длинный id должен быть заменён, получен %q", got)
	}
}

// TestRequestLogger_Level — уровень записи зависит от статуса.
func TestRequestLogger_Level(t *testing.T) {
	tests := []struct {
		status    int
		wantLevel string
	}{
		{http.StatusOK, "level=INFO"},
		{http.StatusNotFound, "level=WARN"},
		{http.StatusInternalServerError, "level=ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte("body"))
		})

		rec := httptest.NewRecorder()
		RequestID()(RequestLogger(logger)(next)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", http.NoBody))

		out := buf.String()
		if !strings.Contains(out, tt.wantLevel) {
			t.Errorf("статус %d: ожидался %s, лог: %s", tt.status, tt.wantLevel, out)
		}
		if !strings.Contains(out, "bytes=4") {
			t.Errorf("статус %d: не записан размер ответа: %s", tt.status, out)
		}
		if !strings.Contains(out, "request_id=") {
			t.Errorf("статус %d: не записан request_id: %s", tt.status, out)
		}
	}
}

// TestMetricsMiddleware_RoutePattern — лейбл path берётся из шаблона маршрута.
func TestMetricsMiddleware_RoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware())
	r.Get("/api/v1/records/{record_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	pattern := "/api/v1/records/{record_id}"
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, pattern, "418"))

	for _, id := range []string{"P1", "P2", "P3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/records/"+id, http.NoBody))
	}

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, pattern, "418"))
	if after-before != 3 {
		t.Errorf("ожидалось 3 запроса с одним лейблом, получено %v", after-before)
	}

	unmatchedBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, unmatchedPath, "404"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", http.NoBody))
	unmatchedAfter := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, unmatchedPath, "404"))
	if unmatchedAfter-unmatchedBefore != 1 {
		t.Errorf("ожидался 1 запрос с лейблом unmatched, получено %v", unmatchedAfter-unmatchedBefore)
	}
}
