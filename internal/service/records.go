// records.go — сервис записей: разрешение principal, файловое хранилище,
// применение операций через AggregateStore и публикация в реестр.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bigkaa/goartstore/record-module/internal/domain/access"
	"github.com/bigkaa/goartstore/record-module/internal/domain/model"
	"github.com/bigkaa/goartstore/record-module/internal/domain/provenance"
	"github.com/bigkaa/goartstore/record-module/internal/identity"
	"github.com/bigkaa/goartstore/record-module/internal/ledger"
	"github.com/bigkaa/goartstore/record-module/internal/repository"
	"github.com/bigkaa/goartstore/record-module/internal/storage"
)

// PrincipalResolver разрешает ссылку на principal (адрес, id, username).
type PrincipalResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// FileUpload — файл, переданный клиентом.
type FileUpload struct {
	Name     string
	DataType string
	Content  []byte
}

// ListScope — область выборки записей.
type ListScope int

const (
	// ScopeAll — все записи (содержимое видно по правам)
	ScopeAll ListScope = iota
	// ScopeOwned — записи, которыми владеет principal
	ScopeOwned
	// ScopeShared — записи, к которым principal выдан доступ
	ScopeShared
)

// ListQuery — параметры выборки записей.
type ListQuery struct {
	Scope     ListScope
	Filter    string
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

// ListResult — страница записей в проекции principal.
type ListResult struct {
	Items   []access.View
	Total   int
	Limit   int
	Offset  int
	HasMore bool
}

// RecordService — фасад операций над записями.
type RecordService struct {
	store       *AggregateStore
	repo        repository.RecordRepository
	files       storage.FileStore
	resolver    PrincipalResolver
	publisher   *LedgerPublisher
	ledger      ledger.Ledger
	maxFileSize int64
	logger      *slog.Logger
}

// NewRecordService создаёт сервис записей.
func NewRecordService(
	store *AggregateStore,
	repo repository.RecordRepository,
	files storage.FileStore,
	resolver PrincipalResolver,
	publisher *LedgerPublisher,
	l ledger.Ledger,
	maxFileSize int64,
	logger *slog.Logger,
) *RecordService {
	return &RecordService{
		store:       store,
		repo:        repo,
		files:       files,
		resolver:    resolver,
		publisher:   publisher,
		ledger:      l,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "record_service")),
	}
}

// --- Чтение ---

// Get возвращает запись в проекции principal.
func (s *RecordService) Get(ctx context.Context, actor, recordID string) (access.View, error) {
	rec, err := s.store.Get(ctx, recordID)
	if err != nil {
		return access.View{}, err
	}
	return access.Visible(rec, actor), nil
}

// History возвращает журнал происхождения (самое свежее событие первым).
// Доступен владельцу и principal с выданным доступом.
func (s *RecordService) History(ctx context.Context, actor, recordID string) ([]provenance.Entry, error) {
	rec, err := s.store.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if access.RoleOf(rec, actor) == access.RoleNone {
		return nil, fmt.Errorf("%w: нет доступа к журналу записи %s", access.ErrUnauthorized, recordID)
	}
	return rec.History.Entries(), nil
}

// LedgerHistory возвращает записи внешнего реестра. Только для владельца.
func (s *RecordService) LedgerHistory(ctx context.Context, actor, recordID string) ([]ledger.Entry, error) {
	rec, err := s.store.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if access.RoleOf(rec, actor) != access.RoleOwner {
		return nil, fmt.Errorf("%w: реестр записи %s доступен только владельцу", access.ErrUnauthorized, recordID)
	}
	return s.ledger.History(ctx, recordID)
}

// List возвращает страницу записей.
func (s *RecordService) List(ctx context.Context, actor string, q ListQuery) (*ListResult, error) {
	params := repository.ListParams{
		SortBy:    q.SortBy,
		SortOrder: q.SortOrder,
		Limit:     q.Limit,
		Offset:    q.Offset,
	}
	if q.Filter != "" {
		params.Query = &q.Filter
	}
	switch q.Scope {
	case ScopeOwned:
		params.OwnerID = &actor
	case ScopeShared:
		params.GranteeID = &actor
	}

	recs, total, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("выборка записей: %w", err)
	}

	items := make([]access.View, 0, len(recs))
	for _, rec := range recs {
		items = append(items, access.Visible(rec, actor))
	}
	return &ListResult{
		Items:   items,
		Total:   total,
		Limit:   q.Limit,
		Offset:  q.Offset,
		HasMore: q.Offset+len(items) < total,
	}, nil
}

// Recent возвращает последние созданные записи.
func (s *RecordService) Recent(ctx context.Context, actor string, limit int) (*ListResult, error) {
	return s.List(ctx, actor, ListQuery{Scope: ScopeAll, SortBy: "created_at", SortOrder: "desc", Limit: limit})
}

// Count возвращает общее количество записей.
func (s *RecordService) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// OpenFile открывает содержимое файла, если principal его видит.
// Вызывающий код обязан закрыть ReadCloser.
func (s *RecordService) OpenFile(ctx context.Context, actor, recordID, fileID string) (io.ReadCloser, model.FileEntry, error) {
	rec, err := s.store.Get(ctx, recordID)
	if err != nil {
		return nil, model.FileEntry{}, err
	}
	if access.RoleOf(rec, actor) == access.RoleNone {
		return nil, model.FileEntry{}, fmt.Errorf("%w: нет доступа к записи %s", access.ErrUnauthorized, recordID)
	}
	file, ok := rec.File(fileID)
	if !ok {
		return nil, model.FileEntry{}, fmt.Errorf("%w: файл %s", access.ErrNotFound, fileID)
	}
	if !access.CanReadFile(rec, actor, fileID) {
		return nil, model.FileEntry{}, fmt.Errorf("%w: нет доступа к файлу %s", access.ErrUnauthorized, fileID)
	}

	rc, err := s.files.Open(ctx, file.PayloadRef)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("Содержимое файла отсутствует в хранилище",
				slog.String("record_id", recordID),
				slog.String("file_id", fileID),
				slog.String("payload_ref", file.PayloadRef),
			)
			return nil, model.FileEntry{}, fmt.Errorf("%w: содержимое файла %s", access.ErrNotFound, fileID)
		}
		return nil, model.FileEntry{}, err
	}
	return rc, file, nil
}

// --- Создание и содержимое ---

// Create создаёт запись с начальными файлами. Файлы загружаются в
// хранилище до фиксации и удаляются, если запись не создана.
func (s *RecordService) Create(ctx context.Context, actor, recordID string, uploads []FileUpload) (access.View, error) {
	if actor == "" {
		return access.View{}, fmt.Errorf("%w: principal не указан", access.ErrUnauthorized)
	}
	files, err := s.putFiles(ctx, actor, uploads)
	if err != nil {
		return access.View{}, err
	}

	commit, err := s.store.Create(ctx, access.CreateRecord{RecordID: recordID, Owner: actor, Files: files})
	if err != nil {
		s.removePayloads(ctx, payloadRefs(files))
		return access.View{}, err
	}

	s.logger.Info("Запись создана",
		slog.String("record_id", recordID),
		slog.String("owner_id", actor),
		slog.Int("files", len(files)),
	)
	return s.committed(commit, actor), nil
}

// AddFiles добавляет файлы в запись. Владелец проверяется до загрузки,
// чтобы не загружать файлы от постороннего; окончательно — движком.
func (s *RecordService) AddFiles(ctx context.Context, actor, recordID string, uploads []FileUpload) (access.View, []model.FileEntry, error) {
	if len(uploads) == 0 {
		return access.View{}, nil, fmt.Errorf("%w: нет файлов для добавления", access.ErrInvalidArgument)
	}
	rec, err := s.store.Get(ctx, recordID)
	if err != nil {
		return access.View{}, nil, err
	}
	if access.RoleOf(rec, actor) != access.RoleOwner {
		return access.View{}, nil, fmt.Errorf("%w: %s не владелец записи %s", access.ErrUnauthorized, actor, recordID)
	}

	files, err := s.putFiles(ctx, actor, uploads)
	if err != nil {
		return access.View{}, nil, err
	}

	op := &access.AddFiles{Actor: actor, Files: files}
	commit, err := s.store.Apply(ctx, recordID, op)
	if err != nil {
		s.removePayloads(ctx, payloadRefs(files))
		return access.View{}, nil, err
	}
	return s.committed(commit, actor), op.Added(), nil
}

// EditFile меняет имя и тип файла.
func (s *RecordService) EditFile(ctx context.Context, actor, recordID, fileID, name, dataType string) (access.View, error) {
	return s.apply(ctx, actor, recordID, &access.EditFile{Actor: actor, FileID: fileID, NewName: name, DataType: dataType})
}

// RemoveFiles удаляет файлы из записи. Содержимое удаляется из
// хранилища после фиксации; ошибки удаления только логируются.
func (s *RecordService) RemoveFiles(ctx context.Context, actor, recordID string, fileIDs []string) (access.View, error) {
	op := &access.RemoveFiles{Actor: actor, FileIDs: fileIDs}
	view, err := s.apply(ctx, actor, recordID, op)
	if err != nil {
		return access.View{}, err
	}

	refs := make([]string, 0, len(op.Removed()))
	for _, f := range op.Removed() {
		refs = append(refs, f.PayloadRef)
	}
	s.removePayloads(context.WithoutCancel(ctx), refs)
	return view, nil
}

// --- Владение и доступ ---

// TransferOwnership передаёт запись principal по ссылке.
func (s *RecordService) TransferOwnership(ctx context.Context, actor, recordID, recipientRef string) (access.View, error) {
	recipient, err := s.resolve(ctx, recipientRef)
	if err != nil {
		return access.View{}, err
	}
	return s.apply(ctx, actor, recordID, &access.TransferOwnership{Actor: actor, NewOwner: recipient})
}

// RequestAccess создаёт запрос доступа от имени actor.
func (s *RecordService) RequestAccess(ctx context.Context, actor, recordID string) (access.View, error) {
	return s.apply(ctx, actor, recordID, &access.RequestAccess{Requester: actor})
}

// CancelRequest отзывает собственный запрос доступа.
func (s *RecordService) CancelRequest(ctx context.Context, actor, recordID string) (access.View, error) {
	return s.apply(ctx, actor, recordID, &access.CancelRequest{Requester: actor})
}

// RejectRequest отклоняет запрос principal.
func (s *RecordService) RejectRequest(ctx context.Context, actor, recordID, principalRef string) (access.View, error) {
	target, err := s.resolve(ctx, principalRef)
	if err != nil {
		return access.View{}, err
	}
	return s.apply(ctx, actor, recordID, &access.RejectRequest{Actor: actor, Target: target})
}

// GrantAccess удовлетворяет запрос principal, выдавая доступ к файлам.
func (s *RecordService) GrantAccess(ctx context.Context, actor, recordID, principalRef string, fileIDs []string) (access.View, error) {
	target, err := s.resolve(ctx, principalRef)
	if err != nil {
		return access.View{}, err
	}
	return s.apply(ctx, actor, recordID, &access.GrantAccess{Actor: actor, Target: target, FileIDs: fileIDs})
}

// ShareFiles добавляет файлы к доступу principal без запроса.
func (s *RecordService) ShareFiles(ctx context.Context, actor, recordID, recipientRef string, fileIDs []string) (access.View, error) {
	target, err := s.resolve(ctx, recipientRef)
	if err != nil {
		return access.View{}, err
	}
	return s.apply(ctx, actor, recordID, &access.ShareFiles{Actor: actor, Target: target, FileIDs: fileIDs})
}

// ManageAccess заменяет набор файлов principal. Пустой набор снимает доступ.
func (s *RecordService) ManageAccess(ctx context.Context, actor, recordID, recipientRef string, fileIDs []string) (access.View, error) {
	target, err := s.resolve(ctx, recipientRef)
	if err != nil {
		return access.View{}, err
	}
	return s.apply(ctx, actor, recordID, &access.ManageAccess{Actor: actor, Target: target, FileIDs: fileIDs})
}

// UnshareFiles убирает файлы из доступа principal.
func (s *RecordService) UnshareFiles(ctx context.Context, actor, recordID, recipientRef string, fileIDs []string) (access.View, error) {
	target, err := s.resolve(ctx, recipientRef)
	if err != nil {
		return access.View{}, err
	}
	return s.apply(ctx, actor, recordID, &access.UnshareFiles{Actor: actor, Target: target, FileIDs: fileIDs})
}

// RevokeAccess снимает весь доступ principal.
func (s *RecordService) RevokeAccess(ctx context.Context, actor, recordID, recipientRef string) (access.View, error) {
	target, err := s.resolve(ctx, recipientRef)
	if err != nil {
		return access.View{}, err
	}
	return s.apply(ctx, actor, recordID, &access.RevokeAccess{Actor: actor, Target: target})
}

// --- Вспомогательные ---

// apply применяет операцию и возвращает проекцию для actor.
func (s *RecordService) apply(ctx context.Context, actor, recordID string, op access.Operation) (access.View, error) {
	commit, err := s.store.Apply(ctx, recordID, op)
	if err != nil {
		return access.View{}, err
	}
	s.logger.Debug("Операция зафиксирована",
		slog.String("record_id", recordID),
		slog.String("operation", op.Name()),
		slog.String("actor", actor),
		slog.Int("events", len(commit.Events)),
	)
	return s.committed(commit, actor), nil
}

// committed публикует события фиксации в реестр и строит проекцию.
func (s *RecordService) committed(c *Commit, actor string) access.View {
	if s.publisher != nil {
		s.publisher.PublishCommit(c)
	}
	return access.Visible(c.Record, actor)
}

// resolve разрешает ссылку на principal до входа в критическую секцию.
func (s *RecordService) resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: principal не указан", access.ErrInvalidArgument)
	}
	id, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return "", fmt.Errorf("%w: principal %q", access.ErrNotFound, ref)
		}
		return "", fmt.Errorf("разрешение principal %q: %w", ref, err)
	}
	return id, nil
}

// putFiles загружает файлы в хранилище. При ошибке уже загруженные удаляются.
func (s *RecordService) putFiles(ctx context.Context, owner string, uploads []FileUpload) ([]access.NewFile, error) {
	files := make([]access.NewFile, 0, len(uploads))
	for i, u := range uploads {
		if u.Name == "" {
			s.removePayloads(ctx, payloadRefs(files))
			return nil, fmt.Errorf("%w: файл %d без имени", access.ErrInvalidArgument, i)
		}
		if int64(len(u.Content)) > s.maxFileSize {
			s.removePayloads(ctx, payloadRefs(files))
			return nil, fmt.Errorf("%w: файл %q больше %d байт", access.ErrInvalidArgument, u.Name, s.maxFileSize)
		}

		res, err := s.files.Put(ctx, bytes.NewReader(u.Content), u.Name, owner)
		if err != nil {
			s.removePayloads(ctx, payloadRefs(files))
			return nil, fmt.Errorf("загрузка файла %q: %w", u.Name, err)
		}
		files = append(files, access.NewFile{
			Name:       u.Name,
			DataType:   u.DataType,
			PayloadRef: res.ID,
			Size:       res.Size,
			Checksum:   res.Checksum,
		})
	}
	return files, nil
}

// removePayloads удаляет содержимое из хранилища (best effort).
func (s *RecordService) removePayloads(ctx context.Context, refs []string) {
	for _, ref := range refs {
		if err := s.files.Remove(ctx, ref); err != nil {
			s.logger.Warn("Не удалось удалить содержимое файла",
				slog.String("payload_ref", ref),
				slog.String("error", err.Error()),
			)
		}
	}
}

func payloadRefs(files []access.NewFile) []string {
	refs := make([]string, 0, len(files))
	for _, f := range files {
		refs = append(refs, f.PayloadRef)
	}
	return refs
}
