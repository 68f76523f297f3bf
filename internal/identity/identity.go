// Пакет identity — разрешение ссылок на principal.
// Ссылка — адрес кошелька (0x...), идентификатор principal или username.
// Справочник пополняется из claims JWT при обращении principal к API.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/bigkaa/goartstore/record-module/internal/domain/model"
	"github.com/bigkaa/goartstore/record-module/internal/repository"
)

// ErrNotFound — ссылка не соответствует ни одному principal.
var ErrNotFound = errors.New("principal не найден")

// lookupTimeout ограничивает общий поиск в справочнике, не зависящий
// от отмены контекста отдельного вызывающего.
const lookupTimeout = 10 * time.Second

// walletAddressRe — адрес кошелька EVM.
var walletAddressRe = regexp.MustCompile(`^0[xX][0-9a-fA-F]{40}$`)

// Resolver разрешает ссылки на principal через справочник с кэшем.
// Параллельные разрешения одной ссылки объединяются (singleflight).
type Resolver struct {
	repo   repository.PrincipalRepository
	cache  *refCache
	seen   *expirable.LRU[string, struct{}]
	group  singleflight.Group
	logger *slog.Logger
}

// NewResolver создаёт Resolver.
// cacheSize и ttl — параметры кэша ссылок и кэша зарегистрированных principal.
func NewResolver(repo repository.PrincipalRepository, cacheSize int, ttl time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{
		repo:   repo,
		cache:  newRefCache(cacheSize, ttl),
		seen:   expirable.NewLRU[string, struct{}](cacheSize, nil, ttl),
		logger: logger.With(slog.String("component", "identity")),
	}
}

// IsWalletAddress проверяет, похожа ли ссылка на адрес кошелька.
func IsWalletAddress(ref string) bool {
	return walletAddressRe.MatchString(ref)
}

// NormalizeAddress приводит адрес кошелька к нижнему регистру.
func NormalizeAddress(addr string) string {
	return strings.ToLower(addr)
}

// Resolve возвращает principalId по ссылке.
// Адрес кошелька ищется только по адресу; иная ссылка — сначала
// как principalId, затем как username. Неудачные разрешения не кэшируются.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: пустая ссылка", ErrNotFound)
	}
	key := ref
	if IsWalletAddress(ref) {
		key = NormalizeAddress(ref)
	}

	if id, ok := r.cache.Get(key); ok {
		return id, nil
	}

	// Отмена контекста первого вызывающего не должна обрывать поиск
	// для остальных, присоединившихся к нему
	ch := r.group.DoChan(key, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return r.lookup(lookupCtx, key)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		id := res.Val.(string)
		r.cache.Set(key, id)
		return id, nil
	}
}

// lookup ищет principal в справочнике.
func (r *Resolver) lookup(ctx context.Context, key string) (string, error) {
	if IsWalletAddress(key) {
		p, err := r.repo.GetByWalletAddress(ctx, key)
		if err != nil {
			return "", r.notFound(key, err)
		}
		return p.PrincipalID, nil
	}

	p, err := r.repo.GetByID(ctx, key)
	if err == nil {
		return p.PrincipalID, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("ошибка разрешения principal %q: %w", key, err)
	}

	p, err = r.repo.GetByUsername(ctx, key)
	if err != nil {
		return "", r.notFound(key, err)
	}
	return p.PrincipalID, nil
}

func (r *Resolver) notFound(key string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Errorf("ошибка разрешения principal %q: %w", key, err)
}

// Register сохраняет principal в справочнике. Повторная регистрация
// с теми же данными в пределах TTL не обращается к хранилищу.
func (r *Resolver) Register(ctx context.Context, p model.Principal) error {
	if p.PrincipalID == "" {
		return fmt.Errorf("%w: пустой principalId", ErrNotFound)
	}
	if p.WalletAddress != "" {
		if !IsWalletAddress(p.WalletAddress) {
			r.logger.Warn("Некорректный адрес кошелька в claims, пропущен",
				slog.String("principal_id", p.PrincipalID),
				slog.String("wallet_address", p.WalletAddress),
			)
			p.WalletAddress = ""
		} else {
			p.WalletAddress = NormalizeAddress(p.WalletAddress)
		}
	}

	fingerprint := p.PrincipalID + "\x00" + p.Username + "\x00" + p.WalletAddress + "\x00" + p.DisplayName
	if _, ok := r.seen.Get(fingerprint); ok {
		return nil
	}

	if err := r.evictStale(ctx, p); err != nil {
		return err
	}

	if err := r.repo.Upsert(ctx, &p); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Username или адрес закреплены за другим principal: регистрируем только id
			r.logger.Warn("Username или адрес кошелька заняты другим principal",
				slog.String("principal_id", p.PrincipalID),
				slog.String("username", p.Username),
			)
			if err := r.repo.Upsert(ctx, &model.Principal{PrincipalID: p.PrincipalID, DisplayName: p.DisplayName}); err != nil {
				return fmt.Errorf("ошибка регистрации principal: %w", err)
			}
			r.seen.Add(fingerprint, struct{}{})
			return nil
		}
		return fmt.Errorf("ошибка регистрации principal: %w", err)
	}

	r.seen.Add(fingerprint, struct{}{})
	r.cache.Set(p.PrincipalID, p.PrincipalID)
	if p.Username != "" {
		r.cache.Set(p.Username, p.PrincipalID)
	}
	if p.WalletAddress != "" {
		r.cache.Set(p.WalletAddress, p.PrincipalID)
	}

	r.logger.Debug("Principal зарегистрирован",
		slog.String("principal_id", p.PrincipalID),
		slog.String("username", p.Username),
	)
	return nil
}

// evictStale удаляет из кэша прежние username и адрес principal,
// если регистрация заменяет их новыми. Пустые поля хранилище не затирает.
func (r *Resolver) evictStale(ctx context.Context, p model.Principal) error {
	prev, err := r.repo.GetByID(ctx, p.PrincipalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("ошибка регистрации principal: %w", err)
	}
	if prev.Username != "" && p.Username != "" && prev.Username != p.Username {
		r.cache.Delete(prev.Username)
	}
	if prev.WalletAddress != "" && p.WalletAddress != "" && prev.WalletAddress != p.WalletAddress {
		r.cache.Delete(prev.WalletAddress)
	}
	return nil
}

// Forget удаляет ссылку из кэша разрешения.
func (r *Resolver) Forget(ref string) {
	if IsWalletAddress(ref) {
		ref = NormalizeAddress(ref)
	}
	r.cache.Delete(ref)
}
