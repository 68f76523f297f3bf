package access

import (
	"fmt"
	"time"

	"github.com/bigkaa/goartstore/record-module/internal/domain/grants"
	"github.com/bigkaa/goartstore/record-module/internal/domain/model"
	"github.com/bigkaa/goartstore/record-module/internal/domain/provenance"
)

// NewFile — файл, уже загруженный в файловое хранилище и
// добавляемый в содержимое записи.
type NewFile struct {
	Name       string
	DataType   string
	PayloadRef string
	Size       int64
	Checksum   string
}

func (f NewFile) validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: пустое имя файла", ErrInvalidArgument)
	}
	if f.PayloadRef == "" {
		return fmt.Errorf("%w: файл %q без ссылки на содержимое", ErrInvalidArgument, f.Name)
	}
	return nil
}

func (f NewFile) entry(id string, now time.Time) model.FileEntry {
	return model.FileEntry{
		ID:         id,
		Name:       f.Name,
		DataType:   f.DataType,
		PayloadRef: f.PayloadRef,
		Size:       f.Size,
		Checksum:   f.Checksum,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// CreateRecord — создание записи (через Engine.Create).
type CreateRecord struct {
	RecordID string
	Owner    string
	Files    []NewFile
}

// TransferOwnership — передача записи другому principal.
// Собственный доступ и запрос нового владельца снимаются,
// доступ остальных principal сохраняется.
type TransferOwnership struct {
	Actor    string
	NewOwner string
}

func (*TransferOwnership) Name() string { return "transfer_ownership" }

func (op *TransferOwnership) apply(e *Engine, rec *model.Record) error {
	if err := requireOwner(rec, op.Actor); err != nil {
		return err
	}
	if op.NewOwner == "" {
		return fmt.Errorf("%w: не указан получатель", ErrInvalidArgument)
	}
	if op.NewOwner == op.Actor {
		return fmt.Errorf("%w: передача самому себе", ErrInvalidArgument)
	}
	rec.OwnerID = op.NewOwner
	rec.Grants.RevokeAll(op.NewOwner)
	removeRequest(rec, op.NewOwner)
	e.record(rec, provenance.OwnershipTransferred{By: op.Actor, To: op.NewOwner})
	return nil
}

// RequestAccess — запрос доступа к записи.
type RequestAccess struct {
	Requester string
}

func (*RequestAccess) Name() string { return "request_access" }

func (op *RequestAccess) apply(e *Engine, rec *model.Record) error {
	if op.Requester == "" {
		return fmt.Errorf("%w: principal не указан", ErrUnauthorized)
	}
	if op.Requester == rec.OwnerID {
		return fmt.Errorf("%w: владелец не может запрашивать доступ", ErrInvalidArgument)
	}
	if rec.Grants.Has(op.Requester) {
		return fmt.Errorf("%w: у %s уже есть доступ", ErrConflict, op.Requester)
	}
	if rec.HasPendingRequest(op.Requester) {
		return fmt.Errorf("%w: запрос от %s уже ожидает", ErrConflict, op.Requester)
	}
	rec.AccessRequests = append(rec.AccessRequests, op.Requester)
	e.record(rec, provenance.AccessRequested{By: op.Requester})
	return nil
}

// CancelRequest — отмена собственного запроса.
type CancelRequest struct {
	Requester string
}

func (*CancelRequest) Name() string { return "cancel_request" }

func (op *CancelRequest) apply(e *Engine, rec *model.Record) error {
	if op.Requester == "" {
		return fmt.Errorf("%w: principal не указан", ErrUnauthorized)
	}
	if !removeRequest(rec, op.Requester) {
		return fmt.Errorf("%w: нет ожидающего запроса от %s", ErrNotFound, op.Requester)
	}
	e.record(rec, provenance.AccessRequestCancelled{By: op.Requester})
	return nil
}

// RejectRequest — отклонение запроса владельцем.
type RejectRequest struct {
	Actor  string
	Target string
}

func (*RejectRequest) Name() string { return "reject_request" }

func (op *RejectRequest) apply(e *Engine, rec *model.Record) error {
	if err := requireOwner(rec, op.Actor); err != nil {
		return err
	}
	if op.Target == "" {
		return fmt.Errorf("%w: не указан principal", ErrInvalidArgument)
	}
	if !removeRequest(rec, op.Target) {
		return fmt.Errorf("%w: нет ожидающего запроса от %s", ErrNotFound, op.Target)
	}
	e.record(rec, provenance.AccessRejected{For: op.Target})
	return nil
}

// GrantAccess — удовлетворение ожидающего запроса.
type GrantAccess struct {
	Actor   string
	Target  string
	FileIDs []string
}

func (*GrantAccess) Name() string { return "grant_access" }

func (op *GrantAccess) apply(e *Engine, rec *model.Record) error {
	if err := requireOwner(rec, op.Actor); err != nil {
		return err
	}
	if op.Target == "" {
		return fmt.Errorf("%w: не указан principal", ErrInvalidArgument)
	}
	if !rec.HasPendingRequest(op.Target) {
		return fmt.Errorf("%w: нет ожидающего запроса от %s", ErrNotFound, op.Target)
	}
	ids, err := existingFiles(rec, op.FileIDs, true)
	if err != nil {
		return err
	}
	removeRequest(rec, op.Target)
	if rec.Grants.Grant(op.Target, ids) {
		e.record(rec, provenance.AccessGranted{With: op.Target})
	}
	return nil
}

// ShareFiles — выдача доступа без предварительного запроса.
// Ожидающий запрос получателя снимается.
type ShareFiles struct {
	Actor   string
	Target  string
	FileIDs []string
}

func (*ShareFiles) Name() string { return "share_files" }

func (op *ShareFiles) apply(e *Engine, rec *model.Record) error {
	if err := requireOwner(rec, op.Actor); err != nil {
		return err
	}
	if err := validTarget(rec, op.Target); err != nil {
		return err
	}
	ids, err := existingFiles(rec, op.FileIDs, true)
	if err != nil {
		return err
	}
	removeRequest(rec, op.Target)
	if rec.Grants.Grant(op.Target, ids) {
		e.record(rec, provenance.SharedWith{With: op.Target})
	}
	return nil
}

// ManageAccess — замена множества файлов получателя.
// Пустое множество отзывает доступ полностью и снимает ожидающий запрос.
type ManageAccess struct {
	Actor   string
	Target  string
	FileIDs []string
}

func (*ManageAccess) Name() string { return "manage_access" }

func (op *ManageAccess) apply(e *Engine, rec *model.Record) error {
	if err := requireOwner(rec, op.Actor); err != nil {
		return err
	}
	if err := validTarget(rec, op.Target); err != nil {
		return err
	}
	ids, err := existingFiles(rec, op.FileIDs, false)
	if err != nil {
		return err
	}
	existed := rec.Grants.Has(op.Target)
	old := rec.Grants.FilesFor(op.Target)
	requested := removeRequest(rec, op.Target)
	rec.Grants.NarrowTo(op.Target, ids)

	switch {
	case ids.Len() == 0:
		// Снятый ожидающий запрос тоже изменение состояния
		if existed || requested {
			e.record(rec, provenance.AccessRevoked{With: op.Target})
		}
	case old.Grows(ids):
		e.record(rec, provenance.SharedWith{With: op.Target})
	case !old.Equal(ids):
		e.record(rec, provenance.UnsharedWith{With: op.Target})
	}
	return nil
}

// RevokeAccess — полный отзыв доступа (unshare).
type RevokeAccess struct {
	Actor  string
	Target string
}

func (*RevokeAccess) Name() string { return "revoke_access" }

func (op *RevokeAccess) apply(e *Engine, rec *model.Record) error {
	if err := requireOwner(rec, op.Actor); err != nil {
		return err
	}
	if op.Target == "" {
		return fmt.Errorf("%w: не указан principal", ErrInvalidArgument)
	}
	if !rec.Grants.RevokeAll(op.Target) {
		return fmt.Errorf("%w: у %s нет доступа", ErrNotFound, op.Target)
	}
	e.record(rec, provenance.AccessRevoked{With: op.Target})
	return nil
}

// UnshareFiles — отзыв доступа к части файлов.
// Если множество опустело — доступ отзывается полностью.
type UnshareFiles struct {
	Actor   string
	Target  string
	FileIDs []string
}

func (*UnshareFiles) Name() string { return "unshare_files" }

func (op *UnshareFiles) apply(e *Engine, rec *model.Record) error {
	if err := requireOwner(rec, op.Actor); err != nil {
		return err
	}
	if op.Target == "" {
		return fmt.Errorf("%w: не указан principal", ErrInvalidArgument)
	}
	if len(op.FileIDs) == 0 {
		return fmt.Errorf("%w: пустой список файлов", ErrInvalidArgument)
	}
	if !rec.Grants.Has(op.Target) {
		return fmt.Errorf("%w: у %s нет доступа", ErrNotFound, op.Target)
	}
	old := rec.Grants.FilesFor(op.Target)
	remaining := old.Minus(grants.NewSet(op.FileIDs...))
	switch {
	case remaining.Len() == old.Len():
		// Ни один из файлов не был выдан
	case remaining.Len() == 0:
		rec.Grants.RevokeAll(op.Target)
		e.record(rec, provenance.AccessRevoked{With: op.Target})
	default:
		rec.Grants.NarrowTo(op.Target, remaining)
		e.record(rec, provenance.UnsharedWith{With: op.Target})
	}
	return nil
}

// AddFiles — добавление файлов в содержимое.
type AddFiles struct {
	Actor string
	Files []NewFile

	added []model.FileEntry
}

func (*AddFiles) Name() string { return "add_files" }

// Added возвращает файлы, добавленные последним успешным применением.
func (op *AddFiles) Added() []model.FileEntry { return op.added }

func (op *AddFiles) apply(e *Engine, rec *model.Record) error {
	op.added = nil
	if err := requireOwner(rec, op.Actor); err != nil {
		return err
	}
	if len(op.Files) == 0 {
		return fmt.Errorf("%w: пустой список файлов", ErrInvalidArgument)
	}
	for i, f := range op.Files {
		if err := f.validate(); err != nil {
			return fmt.Errorf("файл %d: %w", i, err)
		}
	}
	now := e.now()
	added := make([]model.FileEntry, 0, len(op.Files))
	for _, f := range op.Files {
		entry := f.entry(e.newID(), now)
		rec.Content = append(rec.Content, entry)
		added = append(added, entry)
		e.record(rec, provenance.FileAdded{FileID: entry.ID, FileName: entry.Name})
	}
	op.added = added
	return nil
}

// EditFile — изменение метаданных файла.
// Пустой DataType сохраняет прежний тип.
type EditFile struct {
	Actor    string
	FileID   string
	NewName  string
	DataType string
}

func (*EditFile) Name() string { return "edit_file" }

func (op *EditFile) apply(e *Engine, rec *model.Record) error {
	if err := requireOwner(rec, op.Actor); err != nil {
		return err
	}
	if op.NewName == "" {
		return fmt.Errorf("%w: пустое имя файла", ErrInvalidArgument)
	}
	for i := range rec.Content {
		f := &rec.Content[i]
		if f.ID != op.FileID {
			continue
		}
		f.Name = op.NewName
		if op.DataType != "" {
			f.DataType = op.DataType
		}
		f.UpdatedAt = e.now()
		e.record(rec, provenance.FileUpdated{FileID: f.ID, FileName: f.Name})
		return nil
	}
	return fmt.Errorf("%w: файл %s", ErrNotFound, op.FileID)
}

// RemoveFiles — удаление файлов из содержимого.
// Выданный доступ не чистится: видимость вычисляется пересечением
// с текущим содержимым, поэтому удалённый файл просто перестаёт быть виден.
type RemoveFiles struct {
	Actor   string
	FileIDs []string

	removed []model.FileEntry
}

func (*RemoveFiles) Name() string { return "remove_files" }

// Removed возвращает файлы, удалённые последним успешным применением.
func (op *RemoveFiles) Removed() []model.FileEntry { return op.removed }

func (op *RemoveFiles) apply(e *Engine, rec *model.Record) error {
	op.removed = nil
	if err := requireOwner(rec, op.Actor); err != nil {
		return err
	}
	if len(op.FileIDs) == 0 {
		return fmt.Errorf("%w: пустой список файлов", ErrInvalidArgument)
	}
	drop := grants.NewSet(op.FileIDs...)
	kept := make([]model.FileEntry, 0, len(rec.Content))
	var removed []model.FileEntry
	for _, f := range rec.Content {
		if drop.Has(f.ID) {
			removed = append(removed, f)
			continue
		}
		kept = append(kept, f)
	}
	if len(removed) == 0 {
		return fmt.Errorf("%w: ни один из файлов не найден", ErrNotFound)
	}
	rec.Content = kept
	for _, f := range removed {
		e.record(rec, provenance.FileRemoved{FileID: f.ID, FileName: f.Name})
	}
	op.removed = removed
	return nil
}

// validTarget проверяет получателя доступа.
func validTarget(rec *model.Record, target string) error {
	if target == "" {
		return fmt.Errorf("%w: не указан получатель", ErrInvalidArgument)
	}
	if target == rec.OwnerID {
		return fmt.Errorf("%w: владелец не может быть получателем", ErrInvalidArgument)
	}
	return nil
}

// existingFiles строит множество идентификаторов, проверяя, что каждый
// файл есть в текущем содержимом.
func existingFiles(rec *model.Record, ids []string, nonEmpty bool) (grants.Set, error) {
	set := grants.NewSet(ids...)
	if nonEmpty && set.Len() == 0 {
		return nil, fmt.Errorf("%w: пустой список файлов", ErrInvalidArgument)
	}
	current := rec.FileIDs()
	for _, id := range set.Sorted() {
		if !current.Has(id) {
			return nil, fmt.Errorf("%w: файл %s", ErrNotFound, id)
		}
	}
	return set, nil
}
