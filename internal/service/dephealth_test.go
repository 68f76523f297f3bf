package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewDephealthService_NoTargets(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	_, err := NewDephealthServiceWithRegisterer(
		"test-rm-00", "record-module", DephealthTargets{},
		5*time.Second, false, logger, prometheus.NewRegistry(),
	)
	if !errors.Is(err, ErrNoDependencies) {
		t.Errorf("ожидалась ErrNoDependencies, получено: %v", err)
	}
}

func TestDephealthService_LedgerStartStop(t *testing.T) {
	// Mock health endpoint внешнего реестра
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer mockServer.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ds, err := NewDephealthServiceWithRegisterer(
		"test-rm-01",
		"record-module",
		DephealthTargets{LedgerURL: mockServer.URL},
		1*time.Second,
		true,
		logger,
		prometheus.NewRegistry(),
	)
	if err != nil {
		t.Fatalf("Ошибка создания DephealthService: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start не должен блокировать
	if err := ds.Start(ctx); err != nil {
		t.Fatalf("Ошибка запуска: %v", err)
	}
	ds.Stop()
}
