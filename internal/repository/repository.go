// Пакет repository — слой доступа к данным Record Module.
// Определяет контракты хранилища записей и справочника principal;
// реализация PostgreSQL — чистый SQL через pgx, без ORM.
// Альтернативная встроенная реализация — internal/storage/badgerstore.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/record-module/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrVersionConflict — версия записи изменилась с момента чтения.
	ErrVersionConflict = errors.New("конфликт версий записи")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ListParams — параметры выборки записей.
// Указатели: nil = фильтр не применяется.
type ListParams struct {
	// OwnerID — только записи владельца
	OwnerID *string
	// GranteeID — только записи, где principal выдан доступ
	GranteeID *string
	// Query — подстрока recordId (без учёта регистра)
	Query *string
	// SortBy — поле сортировки: created_at, record_id
	SortBy string
	// SortOrder — направление: asc, desc
	SortOrder string
	// Limit — количество результатов
	Limit int
	// Offset — смещение
	Offset int
}

// RecordRepository — хранилище агрегатов записей.
// Запись меняется только целиком через Update с проверкой версии.
type RecordRepository interface {
	// Create вставляет новую запись с версией 1. ErrConflict, если recordId занят.
	Create(ctx context.Context, rec *model.Record) error
	// Get возвращает запись или ErrNotFound.
	Get(ctx context.Context, recordID string) (*model.Record, error)
	// Update сохраняет запись, если её версия в хранилище равна expectedVersion.
	// При успехе rec.Version = expectedVersion+1, иначе ErrVersionConflict.
	Update(ctx context.Context, rec *model.Record, expectedVersion int64) error
	// List возвращает страницу записей и общее количество по фильтру.
	List(ctx context.Context, params ListParams) ([]*model.Record, int, error)
	// Count возвращает общее количество записей.
	Count(ctx context.Context) (int, error)
}

// PrincipalRepository — справочник principal.
type PrincipalRepository interface {
	// Upsert создаёт или обновляет principal.
	// ErrConflict, если username или адрес заняты другим principal.
	Upsert(ctx context.Context, p *model.Principal) error
	// GetByID возвращает principal по идентификатору.
	GetByID(ctx context.Context, principalID string) (*model.Principal, error)
	// GetByUsername возвращает principal по имени пользователя.
	GetByUsername(ctx context.Context, username string) (*model.Principal, error)
	// GetByWalletAddress возвращает principal по адресу кошелька.
	GetByWalletAddress(ctx context.Context, address string) (*model.Principal, error)
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
