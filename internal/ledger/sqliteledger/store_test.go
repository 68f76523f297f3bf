package sqliteledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/record-module/internal/domain/provenance"
	"github.com/bigkaa/goartstore/record-module/internal/ledger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open() ошибка: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func entries() []ledger.Entry {
	var log provenance.Log
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := log.Append(at, provenance.Created{By: "alice"})
	second := log.Append(at.Add(time.Second), provenance.OwnershipTransferred{By: "alice", To: "bob"})
	return []ledger.Entry{ledger.NewEntry("P1", first), ledger.NewEntry("P1", second)}
}

func TestSubmitAndHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	es := entries()
	// Обратный порядок отправки: история всё равно упорядочена по Seq
	for i := len(es) - 1; i >= 0; i-- {
		receipt, err := s.Submit(ctx, es[i])
		if err != nil {
			t.Fatalf("Submit() ошибка: %v", err)
		}
		if receipt.Reference == "" || receipt.AcceptedAt.IsZero() {
			t.Errorf("пустая квитанция: %+v", receipt)
		}
	}

	got, err := s.History(ctx, "P1")
	if err != nil {
		t.Fatalf("History() ошибка: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("History() = %d записей, ожидалось 2", len(got))
	}
	if got[0].Kind != provenance.KindCreated || got[1].Kind != provenance.KindOwnershipTransferred {
		t.Errorf("порядок: %s, %s", got[0].Kind, got[1].Kind)
	}
	if got[0].Digest != es[0].Digest || !got[0].OccurredAt.Equal(es[0].OccurredAt) {
		t.Errorf("запись искажена: %+v", got[0])
	}

	other, err := s.History(ctx, "P2")
	if err != nil || len(other) != 0 {
		t.Errorf("History(P2) = %v, %v", other, err)
	}
}

func TestSubmit_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := entries()[0]

	first, err := s.Submit(ctx, e)
	if err != nil {
		t.Fatalf("Submit() ошибка: %v", err)
	}
	second, err := s.Submit(ctx, e)
	if err != nil {
		t.Fatalf("повторный Submit() ошибка: %v", err)
	}
	if first.Reference != second.Reference {
		t.Errorf("повторная отправка выдала новую квитанцию: %s != %s", first.Reference, second.Reference)
	}

	got, _ := s.History(ctx, "P1")
	if len(got) != 1 {
		t.Errorf("History() = %d записей, ожидалась 1", len(got))
	}
}

func TestAppendOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Submit(ctx, entries()[0]); err != nil {
		t.Fatalf("Submit() ошибка: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE ledger_entries SET actor = 'mallory'`); err == nil {
		t.Error("UPDATE должен быть запрещён")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ledger_entries`); err == nil {
		t.Error("DELETE должен быть запрещён")
	}
	if status, _ := s.CheckReady(); status != "ok" {
		t.Errorf("CheckReady() = %s", status)
	}
}
