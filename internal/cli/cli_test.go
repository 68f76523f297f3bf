package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/record-module/internal/domain/model"
	"github.com/bigkaa/goartstore/record-module/internal/domain/provenance"
	"github.com/bigkaa/goartstore/record-module/internal/ledger"
	"github.com/bigkaa/goartstore/record-module/internal/ledger/sqliteledger"
	"github.com/bigkaa/goartstore/record-module/internal/repository"
	"github.com/bigkaa/goartstore/record-module/internal/storage/badgerstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testRecord — запись с двумя публикуемыми и одним внутренним событием.
func testRecord() *model.Record {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &model.Record{RecordID: "P-100", OwnerID: "bob", CreatedAt: at, UpdatedAt: at}
	rec.History.Append(at, provenance.Created{By: "alice"})
	rec.History.Append(at.Add(time.Second), provenance.SharedWith{With: "carol"})
	rec.History.Append(at.Add(2*time.Second), provenance.OwnershipTransferred{By: "alice", To: "bob"})
	return rec
}

type fixture struct {
	store  *badgerstore.Store
	ledger *sqliteledger.Store
	rec    *model.Record
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := badgerstore.Open("", testLogger())
	if err != nil {
		t.Fatalf("badgerstore.Open() ошибка: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	l, err := sqliteledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("sqliteledger.Open() ошибка: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	rec := testRecord()
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	return &fixture{store: store, ledger: l, rec: rec}
}

// publish отправляет в реестр все публикуемые события записи.
func (f *fixture) publish(t *testing.T) {
	t.Helper()
	for _, e := range f.rec.History.Since(0) {
		if !ledger.Publishable(e.Kind()) {
			continue
		}
		if _, err := f.ledger.Submit(context.Background(), ledger.NewEntry(f.rec.RecordID, e)); err != nil {
			t.Fatalf("Submit() ошибка: %v", err)
		}
	}
}

func (f *fixture) backends() *Backends {
	return &Backends{
		OpenRecords: func(context.Context, *slog.Logger) (repository.RecordRepository, func(), error) {
			return f.store, func() {}, nil
		},
		OpenLedger: func(context.Context, *slog.Logger) (ledger.Ledger, func(), error) {
			return f.ledger, func() {}, nil
		},
		Migrate: func(context.Context, *slog.Logger) error {
			return errors.New("postgres недоступен")
		},
	}
}

func execute(b *Backends, args ...string) (string, error) {
	cmd := NewRootCommand(b)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRoot_InvalidFormat(t *testing.T) {
	f := newFixture(t)
	_, err := execute(f.backends(), "--format", "xml", "history", "P-100")
	if err == nil || !strings.Contains(err.Error(), "недопустимый формат") {
		t.Errorf("ожидалась ошибка формата, получено: %v", err)
	}
}

func TestMigrate_ErrorExitCode(t *testing.T) {
	f := newFixture(t)
	_, err := execute(f.backends(), "migrate")
	if GetExitCode(err) != ExitCommandError {
		t.Errorf("код завершения = %d, ожидался %d (err=%v)", GetExitCode(err), ExitCommandError, err)
	}
}

func TestHistory_Text(t *testing.T) {
	f := newFixture(t)
	out, err := execute(f.backends(), "history", "P-100")
	if err != nil {
		t.Fatalf("history ошибка: %v", err)
	}
	for _, want := range []string{"владелец bob", "событий: 3", "OWNERSHIP_TRANSFERRED", "alice → bob", "SHARED_WITH"} {
		if !strings.Contains(out, want) {
			t.Errorf("вывод не содержит %q:\n%s", want, out)
		}
	}
	// Самое свежее событие выводится первым
	if strings.Index(out, "OWNERSHIP_TRANSFERRED") > strings.Index(out, "CREATED") {
		t.Errorf("порядок событий не от свежего к старому:\n%s", out)
	}
}

func TestHistory_JSONLimit(t *testing.T) {
	f := newFixture(t)
	out, err := execute(f.backends(), "--format", "json", "history", "P-100", "--limit", "2")
	if err != nil {
		t.Fatalf("history ошибка: %v", err)
	}

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			RecordID string                `json:"recordId"`
			History  []provenance.Envelope `json:"history"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("невалидный json: %v\n%s", err, out)
	}
	if resp.Status != "ok" || resp.Data.RecordID != "P-100" {
		t.Errorf("status/recordId = %q/%q", resp.Status, resp.Data.RecordID)
	}
	if len(resp.Data.History) != 2 {
		t.Fatalf("событий = %d, ожидалось 2", len(resp.Data.History))
	}
	if resp.Data.History[0].Seq != 3 || resp.Data.History[1].Seq != 2 {
		t.Errorf("seq = %d, %d, ожидалось 3, 2", resp.Data.History[0].Seq, resp.Data.History[1].Seq)
	}
}

func TestHistory_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := execute(f.backends(), "history", "P-404")
	if GetExitCode(err) != ExitCommandError || !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound с кодом 2, получено: %v", err)
	}
}

func TestVerify_Consistent(t *testing.T) {
	f := newFixture(t)
	f.publish(t)

	out, err := execute(f.backends(), "verify", "P-100", "--strict")
	if err != nil {
		t.Fatalf("verify ошибка: %v\n%s", err, out)
	}
	if !strings.Contains(out, "совпадает 2") {
		t.Errorf("неожиданный вывод:\n%s", out)
	}
}

func TestVerify_MissingOnlyInStrict(t *testing.T) {
	f := newFixture(t)

	if _, err := execute(f.backends(), "verify", "P-100"); err != nil {
		t.Errorf("без --strict недоставленные события не ошибка: %v", err)
	}
	_, err := execute(f.backends(), "verify", "P-100", "--strict")
	if GetExitCode(err) != ExitFailure {
		t.Errorf("код завершения = %d, ожидался %d", GetExitCode(err), ExitFailure)
	}
}

func TestVerify_TamperedDigest(t *testing.T) {
	f := newFixture(t)
	head, _ := f.rec.History.Head()
	tampered := ledger.NewEntry(f.rec.RecordID, head)
	tampered.Digest = strings.Repeat("0", 64)
	if _, err := f.ledger.Submit(context.Background(), tampered); err != nil {
		t.Fatalf("Submit() ошибка: %v", err)
	}

	out, err := execute(f.backends(), "--format", "json", "verify", "P-100")
	if GetExitCode(err) != ExitFailure {
		t.Fatalf("код завершения = %d, ожидался %d (err=%v)", GetExitCode(err), ExitFailure, err)
	}

	var resp struct {
		Status string       `json:"status"`
		Data   VerifyResult `json:"data"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("невалидный json: %v\n%s", err, out)
	}
	if resp.Status != VerifyMismatch || resp.Data.Mismatch != 1 || resp.Data.Missing != 1 {
		t.Errorf("неожиданный результат: %+v", resp)
	}
}

func TestVerify_LedgerDisabled(t *testing.T) {
	f := newFixture(t)
	b := f.backends()
	b.OpenLedger = func(context.Context, *slog.Logger) (ledger.Ledger, func(), error) {
		return nil, nil, ErrLedgerDisabled
	}

	_, err := execute(b, "verify", "P-100")
	if GetExitCode(err) != ExitCommandError || !errors.Is(err, ErrLedgerDisabled) {
		t.Errorf("ожидалась ErrLedgerDisabled с кодом 2, получено: %v", err)
	}
}

func TestVerify_UnknownEntry(t *testing.T) {
	rec := testRecord()
	stray := ledger.Entry{RecordID: rec.RecordID, Seq: 42, Kind: provenance.KindFileAdded, Digest: "ff"}

	result := Verify(rec, []ledger.Entry{stray})
	if result.Unknown != 1 || result.Missing != 2 || result.Consistent(false) {
		t.Errorf("неожиданный результат: %+v", result)
	}
	// Элементы упорядочены по Seq
	last := result.Items[len(result.Items)-1]
	if last.Seq != 42 || last.Status != VerifyUnknown {
		t.Errorf("последний элемент = %+v", last)
	}
}
