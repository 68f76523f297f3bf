// Пакет sqliteledger — локальный реестр в файле SQLite (RM_LEDGER_MODE=sqlite).
// Таблица только на добавление: UPDATE и DELETE запрещены триггерами.
package sqliteledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/bigkaa/goartstore/record-module/internal/domain/provenance"
	"github.com/bigkaa/goartstore/record-module/internal/ledger"
)

//go:embed schema.sql
var schemaSQL string

// Store — реестр в SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ ledger.Ledger = (*Store)(nil)

// Open открывает или создаёт базу реестра по пути path.
// ":memory:" — база в памяти (тесты).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия SQLite %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка подключения к SQLite %s: %w", path, err)
	}

	// SQLite допускает одного писателя; одно соединение исключает SQLITE_BUSY
	// и сохраняет единую базу для ":memory:"
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("ошибка выполнения %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка применения схемы реестра: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close закрывает базу.
func (s *Store) Close() error {
	return s.db.Close()
}

// Submit добавляет запись. Повторная отправка того же ID возвращает
// исходную квитанцию и ничего не меняет.
func (s *Store) Submit(ctx context.Context, e ledger.Entry) (ledger.Receipt, error) {
	receipt := ledger.Receipt{
		Reference:  uuid.NewString(),
		AcceptedAt: s.now().UTC(),
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO ledger_entries
			(id, reference, record_id, seq, kind, actor, digest, occurred_at, accepted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, receipt.Reference, e.RecordID, e.Seq, string(e.Kind), e.Actor, e.Digest,
		e.OccurredAt.UTC().Format(time.RFC3339Nano), receipt.AcceptedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("ошибка записи в реестр: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return receipt, nil
	}

	var accepted string
	err = s.db.QueryRowContext(ctx,
		`SELECT reference, accepted_at FROM ledger_entries WHERE id = ?`, e.ID,
	).Scan(&receipt.Reference, &accepted)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("ошибка чтения квитанции %s: %w", e.ID, err)
	}
	receipt.AcceptedAt, _ = time.Parse(time.RFC3339Nano, accepted)
	return receipt, nil
}

// History возвращает записи реестра по записи в порядке Seq.
func (s *Store) History(ctx context.Context, recordID string) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reference, record_id, seq, kind, actor, digest, occurred_at
		FROM ledger_entries WHERE record_id = ? ORDER BY seq`, recordID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения реестра: %w", err)
	}
	defer rows.Close()

	entries := []ledger.Entry{}
	for rows.Next() {
		var (
			e          ledger.Entry
			kind       string
			occurredAt string
		)
		if err := rows.Scan(&e.ID, &e.Reference, &e.RecordID, &e.Seq, &kind, &e.Actor, &e.Digest, &occurredAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи реестра: %w", err)
		}
		e.Kind = provenance.Kind(kind)
		if e.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt); err != nil {
			return nil, fmt.Errorf("некорректное время в реестре %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации реестра: %w", err)
	}
	return entries, nil
}

// CheckReady проверяет доступность базы реестра.
func (s *Store) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return "fail", fmt.Sprintf("SQLite-реестр недоступен: %v", err)
	}
	return "ok", "SQLite-реестр доступен"
}
