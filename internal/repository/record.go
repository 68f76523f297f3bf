package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/record-module/internal/domain/model"
)

// recordColumns — список столбцов таблицы records для SELECT-запросов.
const recordColumns = `record_id, owner_id, version, document, created_at, updated_at`

// recordRepo — реализация RecordRepository через pgx.
type recordRepo struct {
	db DBTX
}

// NewRecordRepository создаёт репозиторий записей.
func NewRecordRepository(db DBTX) RecordRepository {
	return &recordRepo{db: db}
}

// Create вставляет новую запись. Версия новой записи — 1.
func (r *recordRepo) Create(ctx context.Context, rec *model.Record) error {
	doc, err := json.Marshal(rec.Document())
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}

	query := `
		INSERT INTO records (record_id, owner_id, version, grantee_ids, file_count, document, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $4, $5, $6, $7)`

	_, err = r.db.Exec(ctx, query,
		rec.RecordID, rec.OwnerID, rec.GranteeIDs(), len(rec.Content), doc, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания записи: %w", err)
	}
	rec.Version = 1
	return nil
}

// Get возвращает запись по recordId или ErrNotFound.
func (r *recordRepo) Get(ctx context.Context, recordID string) (*model.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM records WHERE record_id = $1`, recordColumns)

	rec, err := scanRecord(r.db.QueryRow(ctx, query, recordID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return rec, nil
}

// Update сохраняет запись с проверкой версии (compare-and-swap).
// Работает между репликами: побеждает первая фиксация.
func (r *recordRepo) Update(ctx context.Context, rec *model.Record, expectedVersion int64) error {
	doc, err := json.Marshal(rec.Document())
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}

	query := `
		UPDATE records
		SET owner_id = $2, grantee_ids = $3, file_count = $4, document = $5,
			updated_at = $6, version = version + 1
		WHERE record_id = $1 AND version = $7
		RETURNING version`

	var version int64
	err = r.db.QueryRow(ctx, query,
		rec.RecordID, rec.OwnerID, rec.GranteeIDs(), len(rec.Content), doc, rec.UpdatedAt, expectedVersion,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrVersionConflict
		}
		return fmt.Errorf("ошибка обновления записи: %w", err)
	}
	rec.Version = version
	return nil
}

// List возвращает страницу записей с фильтрами, сортировкой и пагинацией.
func (r *recordRepo) List(ctx context.Context, params ListParams) ([]*model.Record, int, error) {
	where, args := buildListWhere(params, 1)
	argNum := len(args) + 1
	orderBy := buildOrderBy(params.SortBy, params.SortOrder)

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM records %s %s LIMIT $%d OFFSET $%d`,
		recordColumns, where, orderBy, argNum, argNum+1,
	)
	dataArgs := append(append([]any{}, args...), params.Limit, params.Offset)

	rows, err := r.db.Query(ctx, dataQuery, dataArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка выборки записей: %w", err)
	}
	defer rows.Close()

	var result []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	// Общее количество с теми же фильтрами, без LIMIT/OFFSET
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM records %s`, where)
	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}

	return result, total, nil
}

// Count возвращает общее количество записей.
func (r *recordRepo) Count(ctx context.Context) (int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM records`).Scan(&total); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}
	return total, nil
}

// scanRecord сканирует строку records в модель.
func scanRecord(row pgx.Row) (*model.Record, error) {
	rec := &model.Record{}
	var raw []byte
	if err := row.Scan(&rec.RecordID, &rec.OwnerID, &rec.Version, &raw, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	var doc model.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("документ записи %s повреждён: %w", rec.RecordID, err)
	}
	if err := rec.ApplyDocument(doc); err != nil {
		return nil, fmt.Errorf("документ записи %s повреждён: %w", rec.RecordID, err)
	}
	return rec, nil
}

// buildListWhere строит WHERE-условие и аргументы для выборки записей.
// startArg — номер первого $-параметра.
func buildListWhere(params ListParams, startArg int) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	// Фильтр по владельцу
	if params.OwnerID != nil && *params.OwnerID != "" {
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", argNum))
		args = append(args, *params.OwnerID)
		argNum++
	}

	// Фильтр по получателю доступа (GIN-индекс по grantee_ids)
	if params.GranteeID != nil && *params.GranteeID != "" {
		conditions = append(conditions, fmt.Sprintf("grantee_ids @> ARRAY[$%d]::text[]", argNum))
		args = append(args, *params.GranteeID)
		argNum++
	}

	// Подстрока recordId
	if params.Query != nil && *params.Query != "" {
		conditions = append(conditions, fmt.Sprintf("record_id ILIKE $%d", argNum))
		args = append(args, "%"+escapeLike(*params.Query)+"%")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

// escapeLike экранирует спецсимволы шаблона LIKE.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Допустимые поля сортировки (whitelist для предотвращения SQL-инъекций).
const defaultSortColumn = "created_at"

// buildOrderBy строит ORDER BY с безопасным whitelist полей.
// record_id добавляется вторым ключом для стабильной пагинации.
func buildOrderBy(sortBy, sortOrder string) string {
	column := defaultSortColumn
	if sortBy == "record_id" {
		column = "record_id"
	}

	direction := "DESC"
	if strings.EqualFold(sortOrder, "asc") {
		direction = "ASC"
	}

	if column == "record_id" {
		return fmt.Sprintf("ORDER BY record_id %s", direction)
	}
	return fmt.Sprintf("ORDER BY %s %s, record_id %s", column, direction, direction)
}
