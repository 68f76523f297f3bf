package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/record-module/internal/config"
)

type stubRoutes struct{}

func (stubRoutes) Routes(r chi.Router) {
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/api/v1/records", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

// denyAll — middleware, отклоняющий любой запрос.
func denyAll(_ http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
}

func TestJWTAuthWithExclusions(t *testing.T) {
	router := NewRouter(stubRoutes{}, JWTAuthWithExclusions(denyAll, "/health/", "/metrics"))

	tests := []struct {
		path string
		want int
	}{
		{"/health/live", http.StatusOK},
		{"/api/v1/records", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))
		if rec.Code != tt.want {
			t.Errorf("%s: ожидался %d, получен %d", tt.path, tt.want, rec.Code)
		}
	}
}

func TestNewRouter_MiddlewareOrder(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	router := NewRouter(stubRoutes{}, mark("a"), mark("b"))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", http.NoBody))

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("неожиданный порядок middleware: %v", order)
	}
}

// freePort возвращает свободный TCP-порт.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRunContext_GracefulShutdown(t *testing.T) {
	cfg := &config.Config{
		Port:             freePort(t),
		HTTPReadTimeout:  time.Second,
		HTTPWriteTimeout: time.Second,
		HTTPIdleTimeout:  time.Second,
		ShutdownTimeout:  time.Second,
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := New(cfg, logger, stubRoutes{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.RunContext(ctx) }()

	// Ожидаем, пока сервер начнёт принимать соединения
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("tcp", srv.httpServer.Addr)
		if err == nil {
			_ = conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("сервер не запустился: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunContext вернул ошибку: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("сервер не остановился")
	}
}
