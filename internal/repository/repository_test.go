package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/record-module/internal/config"
	"github.com/bigkaa/goartstore/record-module/internal/database"
	"github.com/bigkaa/goartstore/record-module/internal/domain/access"
	"github.com/bigkaa/goartstore/record-module/internal/domain/model"
	"github.com/bigkaa/goartstore/record-module/internal/domain/provenance"
)

// setupTestDB запускает PostgreSQL контейнер и применяет миграции.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("records_test"),
		postgres.WithUsername("records"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("RM_DB_HOST", host)
	t.Setenv("RM_DB_PORT", port.Port())
	t.Setenv("RM_DB_NAME", "records_test")
	t.Setenv("RM_DB_USER", "records")
	t.Setenv("RM_DB_PASSWORD", "test-password")
	t.Setenv("RM_JWT_JWKS_URL", "http://localhost:8080/certs")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// newRecord строит запись через движок, как это делает сервис.
func newRecord(t *testing.T, e *access.Engine, id, owner string) *model.Record {
	t.Helper()
	rec, err := e.Create(access.CreateRecord{
		RecordID: id,
		Owner:    owner,
		Files:    []access.NewFile{{Name: "scan.pdf", DataType: "application/pdf", PayloadRef: "blob-1"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return rec
}

// --- Тесты RecordRepository ---

func TestRecordCRUD(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewRecordRepository(pool)
	engine := access.NewEngine()

	rec := newRecord(t, engine, "P1", "alice")
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if rec.Version != 1 {
		t.Errorf("Version = %d, ожидалась 1", rec.Version)
	}

	// Повторное создание — конфликт
	if err := repo.Create(ctx, newRecord(t, engine, "P1", "bob")); !errors.Is(err, ErrConflict) {
		t.Errorf("повторный Create() = %v, ожидался ErrConflict", err)
	}

	got, err := repo.Get(ctx, "P1")
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if got.OwnerID != "alice" || len(got.Content) != 1 || got.History.Len() != 1 {
		t.Errorf("Get() = %+v: данные не совпадают", got)
	}
	if head, _ := got.History.Head(); head.Kind() != provenance.KindCreated {
		t.Errorf("голова журнала = %s, ожидалось CREATED", head.Kind())
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, ожидался ErrNotFound", err)
	}
}

func TestRecordUpdate_VersionCAS(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewRecordRepository(pool)
	engine := access.NewEngine()

	rec := newRecord(t, engine, "P2", "alice")
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	next, err := engine.Apply(rec, &access.ShareFiles{Actor: "alice", Target: "bob", FileIDs: []string{rec.Content[0].ID}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := repo.Update(ctx, next, 1); err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}
	if next.Version != 2 {
		t.Errorf("Version = %d, ожидалась 2", next.Version)
	}

	// Устаревшая версия — конфликт
	stale, _ := engine.Apply(rec, &access.RequestAccess{Requester: "carol"})
	if err := repo.Update(ctx, stale, 1); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("Update() устаревшей версии = %v, ожидался ErrVersionConflict", err)
	}

	got, _ := repo.Get(ctx, "P2")
	if !got.Grants.Has("bob") || got.HasPendingRequest("carol") {
		t.Error("в хранилище должна остаться только первая фиксация")
	}
}

func TestRecordList(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewRecordRepository(pool)
	engine := access.NewEngine()

	for _, id := range []string{"A-1", "A-2", "B-1"} {
		owner := "alice"
		if id == "B-1" {
			owner = "bob"
		}
		rec := newRecord(t, engine, id, owner)
		if owner == "alice" && id == "A-2" {
			rec, _ = engine.Apply(rec, &access.ShareFiles{Actor: "alice", Target: "bob", FileIDs: []string{rec.Content[0].ID}})
		}
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create(%s): %v", id, err)
		}
	}

	alice := "alice"
	mine, total, err := repo.List(ctx, ListParams{OwnerID: &alice, SortBy: "record_id", SortOrder: "asc", Limit: 10})
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if total != 2 || len(mine) != 2 || mine[0].RecordID != "A-1" {
		t.Errorf("List(owner=alice) = %d записей (total %d)", len(mine), total)
	}

	bob := "bob"
	shared, total, err := repo.List(ctx, ListParams{GranteeID: &bob, Limit: 10})
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if total != 1 || shared[0].RecordID != "A-2" {
		t.Errorf("List(grantee=bob) вернул %d записей, ожидалась A-2", total)
	}

	q := "a-"
	page, total, err := repo.List(ctx, ListParams{Query: &q, Limit: 1, Offset: 1, SortBy: "record_id", SortOrder: "asc"})
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if total != 2 || len(page) != 1 || page[0].RecordID != "A-2" {
		t.Errorf("List(query=a-, offset=1) = %d записей (total %d)", len(page), total)
	}

	count, err := repo.Count(ctx)
	if err != nil || count != 3 {
		t.Errorf("Count() = %d, %v; ожидалось 3", count, err)
	}
}

// --- Тесты PrincipalRepository ---

func TestPrincipalUpsert(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewPrincipalRepository(pool)

	p := &model.Principal{PrincipalID: "sub-1", Username: "alice", WalletAddress: "0xabc", DisplayName: "Alice"}
	if err := repo.Upsert(ctx, p); err != nil {
		t.Fatalf("Upsert() ошибка: %v", err)
	}
	if p.CreatedAt.IsZero() {
		t.Error("CreatedAt не установлен")
	}

	// Обновление без адреса не затирает адрес
	if err := repo.Upsert(ctx, &model.Principal{PrincipalID: "sub-1", Username: "alice"}); err != nil {
		t.Fatalf("повторный Upsert() ошибка: %v", err)
	}
	got, err := repo.GetByWalletAddress(ctx, "0xabc")
	if err != nil {
		t.Fatalf("GetByWalletAddress() ошибка: %v", err)
	}
	if got.PrincipalID != "sub-1" || got.DisplayName != "Alice" {
		t.Errorf("principal = %+v", got)
	}

	byName, err := repo.GetByUsername(ctx, "alice")
	if err != nil || byName.PrincipalID != "sub-1" {
		t.Errorf("GetByUsername() = %+v, %v", byName, err)
	}

	// Чужой username — конфликт
	err = repo.Upsert(ctx, &model.Principal{PrincipalID: "sub-2", Username: "alice"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Upsert() с занятым username = %v, ожидался ErrConflict", err)
	}

	if _, err := repo.GetByID(ctx, "sub-404"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(missing) = %v, ожидался ErrNotFound", err)
	}
}
