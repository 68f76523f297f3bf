package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/record-module/internal/domain/model"
)

const principalColumns = `principal_id, username, wallet_address, display_name, created_at, updated_at`

// principalRepo — реализация PrincipalRepository через pgx.
type principalRepo struct {
	db DBTX
}

// NewPrincipalRepository создаёт репозиторий principal.
func NewPrincipalRepository(db DBTX) PrincipalRepository {
	return &principalRepo{db: db}
}

// Upsert создаёт или обновляет principal (INSERT ... ON CONFLICT DO UPDATE).
// Пустые username и адрес не затирают ранее известные значения.
func (r *principalRepo) Upsert(ctx context.Context, p *model.Principal) error {
	query := `
		INSERT INTO principals (principal_id, username, wallet_address, display_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (principal_id) DO UPDATE SET
			username = COALESCE(EXCLUDED.username, principals.username),
			wallet_address = COALESCE(EXCLUDED.wallet_address, principals.wallet_address),
			display_name = CASE WHEN EXCLUDED.display_name = '' THEN principals.display_name
				ELSE EXCLUDED.display_name END,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		p.PrincipalID, nullable(p.Username), nullable(p.WalletAddress), p.DisplayName,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка сохранения principal: %w", err)
	}
	return nil
}

// GetByID возвращает principal по идентификатору или ErrNotFound.
func (r *principalRepo) GetByID(ctx context.Context, principalID string) (*model.Principal, error) {
	return r.getBy(ctx, "principal_id", principalID)
}

// GetByUsername возвращает principal по имени пользователя или ErrNotFound.
func (r *principalRepo) GetByUsername(ctx context.Context, username string) (*model.Principal, error) {
	return r.getBy(ctx, "username", username)
}

// GetByWalletAddress возвращает principal по адресу кошелька или ErrNotFound.
// Адреса хранятся в нижнем регистре.
func (r *principalRepo) GetByWalletAddress(ctx context.Context, address string) (*model.Principal, error) {
	return r.getBy(ctx, "wallet_address", address)
}

// getBy выбирает principal по одной из уникальных колонок.
// column — только из фиксированного набора выше.
func (r *principalRepo) getBy(ctx context.Context, column, value string) (*model.Principal, error) {
	query := fmt.Sprintf(`SELECT %s FROM principals WHERE %s = $1`, principalColumns, column)

	p := &model.Principal{}
	var username, address *string
	err := r.db.QueryRow(ctx, query, value).Scan(
		&p.PrincipalID, &username, &address, &p.DisplayName, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения principal: %w", err)
	}
	if username != nil {
		p.Username = *username
	}
	if address != nil {
		p.WalletAddress = *address
	}
	return p, nil
}

// nullable преобразует пустую строку в NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
