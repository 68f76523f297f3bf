package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики операций над записями.
var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rm_operations_total",
		Help: "Общее количество операций над записями по результату.",
	}, []string{"operation", "result"})

	applyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rm_apply_duration_seconds",
		Help:    "Длительность применения операции, включая ожидание блокировки и повторы.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	commitConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rm_commit_conflicts_total",
		Help: "Общее количество конфликтов версий при фиксации записи.",
	})

	ledgerSubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rm_ledger_submissions_total",
		Help: "Общее количество отправок в реестр по результату.",
	}, []string{"result"})

	ledgerQueueDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rm_ledger_queue_dropped_total",
		Help: "Записи реестра, отброшенные из-за переполнения очереди.",
	})
)
