// aggregate.go — атомарное чтение-изменение-запись одной записи.
//
// Внутри процесса операции над одной записью выполняются строго по очереди
// (блокировка по recordId). Между репликами сериализацию обеспечивает
// проверка версии в хранилище: проигравшая фиксация перечитывает запись
// и применяет операцию заново, не более maxAttempts раз.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/bigkaa/goartstore/record-module/internal/domain/access"
	"github.com/bigkaa/goartstore/record-module/internal/domain/model"
	"github.com/bigkaa/goartstore/record-module/internal/domain/provenance"
	"github.com/bigkaa/goartstore/record-module/internal/repository"
)

// Commit — результат успешной фиксации операции.
type Commit struct {
	// Record — зафиксированное состояние записи
	Record *model.Record
	// Events — события, добавленные операцией (в порядке применения)
	Events []provenance.Entry
}

// AggregateStore — единственный путь изменения записей.
type AggregateStore struct {
	repo        repository.RecordRepository
	engine      *access.Engine
	locks       *keyedLock
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

// NewAggregateStore создаёт хранилище агрегатов.
// maxAttempts — попыток фиксации при конфликте версий, backoff — базовая пауза между ними.
func NewAggregateStore(
	repo repository.RecordRepository,
	engine *access.Engine,
	maxAttempts int,
	backoff time.Duration,
	logger *slog.Logger,
) *AggregateStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &AggregateStore{
		repo:        repo,
		engine:      engine,
		locks:       newKeyedLock(),
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      logger.With(slog.String("component", "aggregate_store")),
	}
}

// Create создаёт запись. ErrConflict, если recordId уже занят.
func (s *AggregateStore) Create(ctx context.Context, cmd access.CreateRecord) (*Commit, error) {
	start := time.Now()
	rec, err := s.engine.Create(cmd)
	if err == nil {
		err = s.repo.Create(ctx, rec)
		if errors.Is(err, repository.ErrConflict) {
			err = fmt.Errorf("%w: запись %s уже существует", access.ErrConflict, cmd.RecordID)
		}
	}
	observe("create_record", start, err)
	if err != nil {
		return nil, err
	}
	return &Commit{Record: rec, Events: rec.History.Entries()}, nil
}

// Get читает запись. access.ErrNotFound, если её нет.
func (s *AggregateStore) Get(ctx context.Context, recordID string) (*model.Record, error) {
	rec, err := s.repo.Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: запись %s", access.ErrNotFound, recordID)
		}
		return nil, err
	}
	return rec, nil
}

// Apply применяет операцию к записи и фиксирует результат.
// Ошибка операции возвращается без изменения хранилища. После исчерпания
// попыток фиксации — access.ErrConflict. Отмена ctx прерывает ожидание
// блокировки и паузу между попытками, но не начатую фиксацию.
func (s *AggregateStore) Apply(ctx context.Context, recordID string, op access.Operation) (*Commit, error) {
	start := time.Now()
	commit, err := s.apply(ctx, recordID, op)
	observe(op.Name(), start, err)
	return commit, err
}

func (s *AggregateStore) apply(ctx context.Context, recordID string, op access.Operation) (*Commit, error) {
	unlock, err := s.locks.Lock(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("ожидание блокировки записи %s: %w", recordID, err)
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		current, err := s.Get(ctx, recordID)
		if err != nil {
			return nil, err
		}

		next, err := s.engine.Apply(current, op)
		if err != nil {
			return nil, err
		}

		// Фиксация выполняется всегда: операция без событий (например,
		// выдача без новых файлов) всё равно снимает ожидающий запрос
		err = s.repo.Update(ctx, next, current.Version)
		if err == nil {
			return &Commit{
				Record: next,
				Events: next.History.Since(current.History.LastSeq()),
			}, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("фиксация записи %s: %w", recordID, err)
		}

		commitConflictsTotal.Inc()
		s.logger.Debug("Конфликт версий, повтор операции",
			slog.String("record_id", recordID),
			slog.String("operation", op.Name()),
			slog.Int("attempt", attempt),
		)
		if attempt >= s.maxAttempts {
			s.logger.Warn("Попытки фиксации исчерпаны",
				slog.String("record_id", recordID),
				slog.String("operation", op.Name()),
				slog.Int("attempts", attempt),
			)
			return nil, fmt.Errorf("%w: запись %s изменена параллельно, попыток: %d",
				access.ErrConflict, recordID, attempt)
		}

		if err := s.wait(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

// wait выдерживает паузу перед повтором: backoff × attempt плюс случайная
// добавка до backoff, чтобы реплики не сталкивались снова.
func (s *AggregateStore) wait(ctx context.Context, attempt int) error {
	if s.backoff <= 0 {
		return ctx.Err()
	}
	delay := s.backoff*time.Duration(attempt) + rand.N(s.backoff)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// observe обновляет метрики операции.
func observe(operation string, start time.Time, err error) {
	applyDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	operationsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
}

// resultLabel классифицирует результат операции для метрик.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, access.ErrNotFound):
		return "not_found"
	case errors.Is(err, access.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, access.ErrConflict):
		return "conflict"
	case errors.Is(err, access.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
