// Пакет storage — файловое хранилище содержимого записей.
// Запись хранит только ссылку (PayloadRef), байты файла живут здесь.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound — объект с указанным идентификатором отсутствует.
var ErrNotFound = errors.New("объект не найден в файловом хранилище")

// PutResult — результат сохранения объекта.
type PutResult struct {
	// ID — идентификатор объекта (становится PayloadRef файла записи)
	ID string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого (hex)
	Checksum string
}

// FileStore — хранилище байтов файлов.
// Реализации: filestore (локальный диск), s3store (S3-совместимое хранилище).
type FileStore interface {
	// Put сохраняет содержимое reader. name — исходное имя файла,
	// используется только для формирования идентификатора.
	Put(ctx context.Context, r io.Reader, name, owner string) (*PutResult, error)
	// Open открывает объект для чтения. Вызывающий код обязан закрыть ReadCloser.
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	// Remove удаляет объект. Отсутствие объекта ошибкой не считается.
	Remove(ctx context.Context, id string) error
}
