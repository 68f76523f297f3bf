package access

import (
	"time"

	"github.com/bigkaa/goartstore/record-module/internal/domain/model"
)

// Role — отношение principal к записи.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleGrantee Role = "grantee"
	RoleNone    Role = "none"
)

// Share — выданный доступ в представлении владельца.
type Share struct {
	Principal string
	Files     []model.FileEntry
}

// View — проекция записи, видимая конкретному principal.
type View struct {
	RecordID string
	OwnerID  string
	Role     Role
	// Content — видимые файлы: всё для владельца, пересечение
	// выданного доступа с содержимым для получателя, пусто для прочих
	Content []model.FileEntry
	// Shares и AccessRequests заполняются только для владельца
	Shares         []Share
	AccessRequests []string
	// PendingRequest — у principal есть ожидающий запрос
	PendingRequest bool
	FileCount      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RoleOf определяет отношение principal к записи.
func RoleOf(rec *model.Record, principal string) Role {
	switch {
	case principal == "":
		return RoleNone
	case principal == rec.OwnerID:
		return RoleOwner
	case rec.Grants.Has(principal):
		return RoleGrantee
	default:
		return RoleNone
	}
}

// Visible строит проекцию записи для principal.
// Пустой principal (анонимный вызов) видит только метаданные.
func Visible(rec *model.Record, principal string) View {
	v := View{
		RecordID:       rec.RecordID,
		OwnerID:        rec.OwnerID,
		Role:           RoleOf(rec, principal),
		Content:        []model.FileEntry{},
		PendingRequest: principal != "" && rec.HasPendingRequest(principal),
		FileCount:      len(rec.Content),
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}

	switch v.Role {
	case RoleOwner:
		v.Content = append(v.Content, rec.Content...)
		v.Shares = make([]Share, 0, rec.Grants.Len())
		for _, p := range rec.Grants.Principals() {
			v.Shares = append(v.Shares, Share{Principal: p, Files: filesIn(rec, p)})
		}
		v.AccessRequests = append([]string{}, rec.AccessRequests...)
	case RoleGrantee:
		v.Content = filesIn(rec, principal)
	}
	return v
}

// CanReadFile проверяет, видит ли principal файл.
func CanReadFile(rec *model.Record, principal, fileID string) bool {
	switch RoleOf(rec, principal) {
	case RoleOwner:
		_, ok := rec.File(fileID)
		return ok
	case RoleGrantee:
		if !rec.Grants.FilesFor(principal).Has(fileID) {
			return false
		}
		_, ok := rec.File(fileID)
		return ok
	}
	return false
}

// filesIn возвращает файлы содержимого, выданные principal, в порядке содержимого.
func filesIn(rec *model.Record, principal string) []model.FileEntry {
	granted := rec.Grants.FilesFor(principal)
	out := make([]model.FileEntry, 0, granted.Len())
	for _, f := range rec.Content {
		if granted.Has(f.ID) {
			out = append(out, f)
		}
	}
	return out
}
