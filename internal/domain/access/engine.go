// Пакет access — движок контроля доступа и происхождения записей.
//
// Все изменения записи проходят через Engine: операция проверяется и
// применяется к приватной копии. При ошибке копия отбрасывается, и
// вызывающий код не видит частичных изменений. Каждое изменение
// grants, accessRequests или content сопровождается событием журнала.
//
// Жизненный цикл запроса доступа (для пары запись × principal):
//
//	none ──request──▶ pending ──grant/share──▶ granted
//	       pending ──reject/cancel──▶ none
//	       granted ──revoke / manage(∅)──▶ none
//
// Запрос из состояния granted запрещён (Conflict), share/manage из none
// и pending сразу переводят в granted. Выдача, не добавившая ни одного
// нового файла, снимает ожидающий запрос без события о выдаче.
package access

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/record-module/internal/domain/model"
	"github.com/bigkaa/goartstore/record-module/internal/domain/provenance"
)

// Operation — изменяющая операция над записью.
// Набор операций закрыт: реализации есть только в этом пакете.
type Operation interface {
	// Name — имя операции для логов и метрик.
	Name() string
	apply(e *Engine, rec *model.Record) error
}

// Engine применяет операции к записям.
// Не хранит состояния, кроме источников времени и идентификаторов,
// и безопасен для конкурентного использования.
type Engine struct {
	now   func() time.Time
	newID func() string
}

// Option — параметр Engine.
type Option func(*Engine)

// WithClock задаёт источник времени.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator задаёт генератор идентификаторов файлов.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// NewEngine создаёт движок. По умолчанию время — time.Now (UTC),
// идентификаторы — UUID v4.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create строит новую запись. Уникальность RecordID проверяет хранилище.
func (e *Engine) Create(cmd CreateRecord) (*model.Record, error) {
	if cmd.Owner == "" {
		return nil, fmt.Errorf("создание записи: %w: не указан владелец", ErrUnauthorized)
	}
	if cmd.RecordID == "" {
		return nil, fmt.Errorf("создание записи: %w: пустой recordId", ErrInvalidArgument)
	}
	now := e.now()
	rec := &model.Record{
		RecordID:  cmd.RecordID,
		OwnerID:   cmd.Owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, f := range cmd.Files {
		if err := f.validate(); err != nil {
			return nil, fmt.Errorf("создание записи: файл %d: %w", i, err)
		}
		rec.Content = append(rec.Content, f.entry(e.newID(), now))
	}
	rec.History.Append(now, provenance.Created{By: cmd.Owner})
	return rec, nil
}

// Apply проверяет и применяет операцию к копии записи.
// Исходная запись не изменяется ни при успехе, ни при ошибке.
func (e *Engine) Apply(rec *model.Record, op Operation) (*model.Record, error) {
	next := rec.Clone()
	if err := op.apply(e, next); err != nil {
		return nil, fmt.Errorf("%s: %w", op.Name(), err)
	}
	next.UpdatedAt = e.now()
	return next, nil
}

// record добавляет событие в журнал записи.
func (e *Engine) record(rec *model.Record, ev provenance.Event) {
	rec.History.Append(e.now(), ev)
}

// requireOwner проверяет, что actor — текущий владелец.
func requireOwner(rec *model.Record, actor string) error {
	if actor == "" {
		return fmt.Errorf("%w: principal не указан", ErrUnauthorized)
	}
	if actor != rec.OwnerID {
		return fmt.Errorf("%w: %s не владелец записи %s", ErrUnauthorized, actor, rec.RecordID)
	}
	return nil
}

// removeRequest удаляет ожидающий запрос principal.
// Возвращает true, если запрос был.
func removeRequest(rec *model.Record, principal string) bool {
	for i, p := range rec.AccessRequests {
		if p == principal {
			rec.AccessRequests = append(rec.AccessRequests[:i:i], rec.AccessRequests[i+1:]...)
			return true
		}
	}
	return false
}
