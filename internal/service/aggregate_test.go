package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/record-module/internal/domain/access"
	"github.com/bigkaa/goartstore/record-module/internal/domain/model"
	"github.com/bigkaa/goartstore/record-module/internal/domain/provenance"
	"github.com/bigkaa/goartstore/record-module/internal/repository"
	"github.com/bigkaa/goartstore/record-module/internal/storage/badgerstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memRepo — хранилище записей в памяти с проверкой версии.
// conflicts — сколько следующих Update завершатся конфликтом версий.
type memRepo struct {
	mu        sync.Mutex
	records   map[string]*model.Record
	conflicts int
	updates   int
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[string]*model.Record)}
}

func (m *memRepo) Create(_ context.Context, rec *model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.RecordID]; ok {
		return repository.ErrConflict
	}
	rec.Version = 1
	m.records[rec.RecordID] = rec.Clone()
	return nil
}

func (m *memRepo) Get(_ context.Context, recordID string) (*model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *memRepo) Update(_ context.Context, rec *model.Record, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.conflicts > 0 {
		m.conflicts--
		return repository.ErrVersionConflict
	}
	cur, ok := m.records[rec.RecordID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	rec.Version = expectedVersion + 1
	m.records[rec.RecordID] = rec.Clone()
	return nil
}

func (m *memRepo) List(_ context.Context, p repository.ListParams) ([]*model.Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Record
	for _, rec := range m.records {
		if p.OwnerID != nil && rec.OwnerID != *p.OwnerID {
			continue
		}
		if p.GranteeID != nil && !rec.Grants.Has(*p.GranteeID) {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	total := len(out)
	start := min(p.Offset, total)
	end := total
	if p.Limit > 0 {
		end = min(start+p.Limit, total)
	}
	return out[start:end], total, nil
}

func (m *memRepo) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

func newTestAggregateStore(repo repository.RecordRepository, maxAttempts int) *AggregateStore {
	return NewAggregateStore(repo, access.NewEngine(), maxAttempts, time.Millisecond, testLogger())
}

func mustCreateRecord(t *testing.T, s *AggregateStore, id string) *model.Record {
	t.Helper()
	c, err := s.Create(context.Background(), access.CreateRecord{
		RecordID: id,
		Owner:    "alice",
		Files: []access.NewFile{
			{Name: "scan.pdf", DataType: "application/pdf", PayloadRef: "blob-1"},
			{Name: "xray.png", DataType: "image/png", PayloadRef: "blob-2"},
		},
	})
	if err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	return c.Record
}

func TestAggregateCreate(t *testing.T) {
	s := newTestAggregateStore(newMemRepo(), 3)
	rec := mustCreateRecord(t, s, "P1")

	if rec.Version != 1 {
		t.Errorf("Version = %d, ожидалось 1", rec.Version)
	}

	_, err := s.Create(context.Background(), access.CreateRecord{RecordID: "P1", Owner: "bob"})
	if !errors.Is(err, access.ErrConflict) {
		t.Errorf("повторный Create() = %v, ожидался access.ErrConflict", err)
	}
}

func TestAggregateGet_NotFound(t *testing.T) {
	s := newTestAggregateStore(newMemRepo(), 3)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, access.ErrNotFound) {
		t.Errorf("Get() = %v, ожидался access.ErrNotFound", err)
	}
	_, err := s.Apply(context.Background(), "missing", &access.RequestAccess{Requester: "bob"})
	if !errors.Is(err, access.ErrNotFound) {
		t.Errorf("Apply() = %v, ожидался access.ErrNotFound", err)
	}
}

func TestAggregateApply_ReturnsNewEvents(t *testing.T) {
	s := newTestAggregateStore(newMemRepo(), 3)
	rec := mustCreateRecord(t, s, "P1")

	c, err := s.Apply(context.Background(), "P1", &access.ShareFiles{
		Actor: "alice", Target: "bob", FileIDs: []string{rec.Content[0].ID},
	})
	if err != nil {
		t.Fatalf("Apply() ошибка: %v", err)
	}
	if len(c.Events) != 1 || c.Events[0].Kind() != provenance.KindSharedWith {
		t.Fatalf("Events = %v, ожидалось одно SHARED_WITH", c.Events)
	}
	if c.Record.Version != 2 {
		t.Errorf("Version = %d, ожидалось 2", c.Record.Version)
	}
}

func TestAggregateApply_OperationErrorDoesNotCommit(t *testing.T) {
	repo := newMemRepo()
	s := newTestAggregateStore(repo, 3)
	mustCreateRecord(t, s, "P1")

	_, err := s.Apply(context.Background(), "P1", &access.TransferOwnership{Actor: "mallory", NewOwner: "mallory"})
	if !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("Apply() = %v, ожидался access.ErrUnauthorized", err)
	}
	if repo.updates != 0 {
		t.Errorf("updates = %d, ожидалось 0", repo.updates)
	}
	rec, _ := s.Get(context.Background(), "P1")
	if rec.Version != 1 || rec.OwnerID != "alice" {
		t.Errorf("запись изменена: version=%d owner=%s", rec.Version, rec.OwnerID)
	}
}

func TestAggregateApply_RetriesOnVersionConflict(t *testing.T) {
	repo := newMemRepo()
	s := newTestAggregateStore(repo, 3)
	mustCreateRecord(t, s, "P1")
	repo.conflicts = 2

	c, err := s.Apply(context.Background(), "P1", &access.RequestAccess{Requester: "bob"})
	if err != nil {
		t.Fatalf("Apply() ошибка: %v", err)
	}
	if repo.updates != 3 {
		t.Errorf("updates = %d, ожидалось 3", repo.updates)
	}
	if !c.Record.HasPendingRequest("bob") {
		t.Error("запрос bob не зафиксирован")
	}
	if n := countEvents(c.Record, provenance.KindAccessRequested); n != 1 {
		t.Errorf("ACCESS_REQUESTED = %d, ожидалось 1 (повтор не дублирует событие)", n)
	}
}

func TestAggregateApply_ConflictAfterMaxAttempts(t *testing.T) {
	repo := newMemRepo()
	s := newTestAggregateStore(repo, 3)
	mustCreateRecord(t, s, "P1")
	repo.conflicts = 10

	_, err := s.Apply(context.Background(), "P1", &access.RequestAccess{Requester: "bob"})
	if !errors.Is(err, access.ErrConflict) {
		t.Fatalf("Apply() = %v, ожидался access.ErrConflict", err)
	}
	if repo.updates != 3 {
		t.Errorf("updates = %d, ожидалось 3", repo.updates)
	}
}

func TestAggregateApply_ContextCancelledWhileWaitingLock(t *testing.T) {
	s := newTestAggregateStore(newMemRepo(), 3)
	mustCreateRecord(t, s, "P1")

	unlock, err := s.locks.Lock(context.Background(), "P1")
	if err != nil {
		t.Fatalf("Lock() ошибка: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Apply(ctx, "P1", &access.RequestAccess{Requester: "bob"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Apply() = %v, ожидался DeadlineExceeded", err)
	}
}

// Параллельные выдачи доступа с двух «реплик» над одним хранилищем:
// ни одно изменение не теряется.
func TestAggregateApply_ConcurrentSharesAcrossReplicas(t *testing.T) {
	db, err := badgerstore.Open("", testLogger())
	if err != nil {
		t.Fatalf("badgerstore.Open() ошибка: %v", err)
	}
	defer db.Close()

	replicas := []*AggregateStore{
		newTestAggregateStore(db, 100),
		newTestAggregateStore(db, 100),
	}
	rec := mustCreateRecord(t, replicas[0], "P1")
	fileID := rec.Content[0].ID

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := replicas[i%2].Apply(context.Background(), "P1", &access.ShareFiles{
				Actor: "alice", Target: fmt.Sprintf("p%02d", i), FileIDs: []string{fileID},
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Apply() ошибка: %v", err)
		}
	}

	got, err := replicas[1].Get(context.Background(), "P1")
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if got.Grants.Len() != n {
		t.Errorf("grantees = %d, ожидалось %d", got.Grants.Len(), n)
	}
	if c := countEvents(got, provenance.KindSharedWith); c != n {
		t.Errorf("SHARED_WITH = %d, ожидалось %d", c, n)
	}
	if got.Version != n+1 {
		t.Errorf("Version = %d, ожидалось %d", got.Version, n+1)
	}
}

func TestResultLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("x: %w", access.ErrNotFound), "not_found"},
		{fmt.Errorf("x: %w", access.ErrUnauthorized), "unauthorized"},
		{fmt.Errorf("x: %w", access.ErrConflict), "conflict"},
		{fmt.Errorf("x: %w", access.ErrInvalidArgument), "invalid_argument"},
		{context.Canceled, "cancelled"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := resultLabel(tt.err); got != tt.want {
			t.Errorf("resultLabel(%v) = %q, ожидалось %q", tt.err, got, tt.want)
		}
	}
}

func countEvents(rec *model.Record, kind provenance.Kind) int {
	n := 0
	for _, e := range rec.History.Entries() {
		if e.Kind() == kind {
			n++
		}
	}
	return n
}
