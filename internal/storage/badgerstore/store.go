// Пакет badgerstore — встроенное хранилище записей и справочника principal
// на BadgerDB. Используется при RM_STORE_BACKEND=badger: один экземпляр
// сервиса без PostgreSQL. Конфликты транзакций Badger (SSI) дают ту же
// семантику compare-and-swap, что и проверка версии в PostgreSQL.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/bigkaa/goartstore/record-module/internal/domain/model"
	"github.com/bigkaa/goartstore/record-module/internal/repository"
)

// Префиксы ключей.
const (
	prefixRecord            = "record/"
	prefixPrincipalID       = "principal/id/"
	prefixPrincipalUsername = "principal/username/"
	prefixPrincipalAddress  = "principal/address/"
)

// Store — хранилище на BadgerDB. Реализует RecordRepository и PrincipalRepository.
type Store struct {
	db     *badger.DB
	now    func() time.Time
	logger *slog.Logger
}

var (
	_ repository.RecordRepository    = (*Store)(nil)
	_ repository.PrincipalRepository = (*Store)(nil)
)

// Open открывает базу в каталоге dir. Пустой dir — база в памяти (тесты).
func Open(dir string, logger *slog.Logger) (*Store, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия Badger %q: %w", dir, err)
	}

	logger.Info("Хранилище Badger открыто",
		slog.String("dir", dir),
		slog.Bool("in_memory", dir == ""),
	)

	return &Store{
		db:     db,
		now:    time.Now,
		logger: logger.With(slog.String("component", "badgerstore")),
	}, nil
}

// Close закрывает базу.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckReady проверяет, что база открыта и читается.
func (s *Store) CheckReady() (string, string) {
	if s.db.IsClosed() {
		return "fail", "Badger закрыт"
	}
	if err := s.db.View(func(*badger.Txn) error { return nil }); err != nil {
		return "fail", fmt.Sprintf("Badger недоступен: %v", err)
	}
	return "ok", "Badger доступен"
}

// --- RecordRepository ---

// Create вставляет новую запись с версией 1.
func (s *Store) Create(_ context.Context, rec *model.Record) error {
	val, err := encodeRecord(rec, 1)
	if err != nil {
		return err
	}
	key := []byte(prefixRecord + rec.RecordID)

	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return repository.ErrConflict
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, val)
	})
	if err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return repository.ErrConflict
		}
		if errors.Is(err, repository.ErrConflict) {
			return err
		}
		return fmt.Errorf("ошибка создания записи: %w", err)
	}
	rec.Version = 1
	return nil
}

// Get возвращает запись или ErrNotFound.
func (s *Store) Get(_ context.Context, recordID string) (*model.Record, error) {
	var rec *model.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixRecord + recordID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = decodeRecord(val)
			return err
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return rec, nil
}

// Update сохраняет запись, если версия в базе равна expectedVersion.
// Параллельная фиксация той же записи завершает транзакцию с
// badger.ErrConflict, что тоже считается конфликтом версий.
func (s *Store) Update(_ context.Context, rec *model.Record, expectedVersion int64) error {
	next := expectedVersion + 1
	val, err := encodeRecord(rec, next)
	if err != nil {
		return err
	}
	key := []byte(prefixRecord + rec.RecordID)

	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return repository.ErrVersionConflict
			}
			return err
		}
		var current int64
		if err := item.Value(func(v []byte) error {
			current, err = decodeVersion(v)
			return err
		}); err != nil {
			return err
		}
		if current != expectedVersion {
			return repository.ErrVersionConflict
		}
		return txn.Set(key, val)
	})
	if err != nil {
		if errors.Is(err, badger.ErrConflict) || errors.Is(err, repository.ErrVersionConflict) {
			return repository.ErrVersionConflict
		}
		return fmt.Errorf("ошибка обновления записи: %w", err)
	}
	rec.Version = next
	return nil
}

// List выбирает записи по фильтру. Фильтрация и сортировка выполняются
// в памяти: встроенный режим рассчитан на один узел и умеренный объём.
func (s *Store) List(_ context.Context, params repository.ListParams) ([]*model.Record, int, error) {
	var matched []*model.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixRecord)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec *model.Record
			err := it.Item().Value(func(val []byte) error {
				var err error
				rec, err = decodeRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			if matches(rec, params) {
				matched = append(matched, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка выборки записей: %w", err)
	}

	sortRecords(matched, params.SortBy, params.SortOrder)

	total := len(matched)
	start := min(max(params.Offset, 0), total)
	end := total
	if params.Limit > 0 {
		end = min(start+params.Limit, total)
	}
	return matched[start:end], total, nil
}

// Count возвращает количество записей (без чтения значений).
func (s *Store) Count(_ context.Context) (int, error) {
	total := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixRecord)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			total++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}
	return total, nil
}

// matches применяет фильтры ListParams к записи.
func matches(rec *model.Record, p repository.ListParams) bool {
	if p.OwnerID != nil && *p.OwnerID != "" && rec.OwnerID != *p.OwnerID {
		return false
	}
	if p.GranteeID != nil && *p.GranteeID != "" && !rec.Grants.Has(*p.GranteeID) {
		return false
	}
	if p.Query != nil && *p.Query != "" &&
		!strings.Contains(strings.ToLower(rec.RecordID), strings.ToLower(*p.Query)) {
		return false
	}
	return true
}

// sortRecords сортирует как buildOrderBy в PostgreSQL-реализации:
// по created_at (по умолчанию) или record_id, по умолчанию DESC.
func sortRecords(recs []*model.Record, sortBy, sortOrder string) {
	asc := strings.EqualFold(sortOrder, "asc")
	byID := sortBy == "record_id"

	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !byID && !a.CreatedAt.Equal(b.CreatedAt) {
			if asc {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if asc {
			return a.RecordID < b.RecordID
		}
		return a.RecordID > b.RecordID
	})
}

// --- PrincipalRepository ---

// Upsert создаёт или обновляет principal. Пустые поля не затирают
// ранее известные значения; вторичные индексы переписываются в той же транзакции.
func (s *Store) Upsert(_ context.Context, p *model.Principal) error {
	now := s.now().UTC()
	var saved *model.Principal

	err := s.db.Update(func(txn *badger.Txn) error {
		merged := *p
		merged.CreatedAt, merged.UpdatedAt = now, now

		existing, err := getPrincipal(txn, p.PrincipalID)
		switch {
		case err == nil:
			merged.CreatedAt = existing.CreatedAt
			if merged.Username == "" {
				merged.Username = existing.Username
			}
			if merged.WalletAddress == "" {
				merged.WalletAddress = existing.WalletAddress
			}
			if merged.DisplayName == "" {
				merged.DisplayName = existing.DisplayName
			}
		case errors.Is(err, repository.ErrNotFound):
			existing = nil
		default:
			return err
		}

		if err := claimIndex(txn, prefixPrincipalUsername, merged.Username, merged.PrincipalID); err != nil {
			return err
		}
		if err := claimIndex(txn, prefixPrincipalAddress, merged.WalletAddress, merged.PrincipalID); err != nil {
			return err
		}
		if existing != nil {
			if existing.Username != "" && existing.Username != merged.Username {
				if err := txn.Delete([]byte(prefixPrincipalUsername + existing.Username)); err != nil {
					return err
				}
			}
			if existing.WalletAddress != "" && existing.WalletAddress != merged.WalletAddress {
				if err := txn.Delete([]byte(prefixPrincipalAddress + existing.WalletAddress)); err != nil {
					return err
				}
			}
		}

		val, err := encodePrincipal(&merged)
		if err != nil {
			return err
		}
		saved = &merged
		return txn.Set([]byte(prefixPrincipalID+merged.PrincipalID), val)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) || errors.Is(err, badger.ErrConflict) {
			return repository.ErrConflict
		}
		return fmt.Errorf("ошибка сохранения principal: %w", err)
	}

	p.CreatedAt, p.UpdatedAt = saved.CreatedAt, saved.UpdatedAt
	return nil
}

// GetByID возвращает principal по идентификатору.
func (s *Store) GetByID(_ context.Context, principalID string) (*model.Principal, error) {
	var p *model.Principal
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		p, err = getPrincipal(txn, principalID)
		return err
	})
	return p, err
}

// GetByUsername возвращает principal по имени пользователя.
func (s *Store) GetByUsername(_ context.Context, username string) (*model.Principal, error) {
	return s.getByIndex(prefixPrincipalUsername, username)
}

// GetByWalletAddress возвращает principal по адресу кошелька.
func (s *Store) GetByWalletAddress(_ context.Context, address string) (*model.Principal, error) {
	return s.getByIndex(prefixPrincipalAddress, address)
}

func (s *Store) getByIndex(prefix, value string) (*model.Principal, error) {
	if value == "" {
		return nil, repository.ErrNotFound
	}
	var p *model.Principal
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefix + value))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return repository.ErrNotFound
			}
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		p, err = getPrincipal(txn, string(id))
		return err
	})
	return p, err
}

// getPrincipal читает principal внутри транзакции.
func getPrincipal(txn *badger.Txn, principalID string) (*model.Principal, error) {
	item, err := txn.Get([]byte(prefixPrincipalID + principalID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	var p *model.Principal
	err = item.Value(func(val []byte) error {
		p, err = decodePrincipal(val)
		return err
	})
	return p, err
}

// claimIndex закрепляет значение вторичного индекса за principal.
// ErrConflict, если значение уже принадлежит другому principal.
func claimIndex(txn *badger.Txn, prefix, value, principalID string) error {
	if value == "" {
		return nil
	}
	key := []byte(prefix + value)
	item, err := txn.Get(key)
	switch {
	case err == nil:
		owner, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(owner) != principalID {
			return repository.ErrConflict
		}
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return txn.Set(key, []byte(principalID))
	default:
		return err
	}
}
