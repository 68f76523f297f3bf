// Пакет filestore — хранение файлов записей на локальном диске.
// Streaming-запись с подсчётом SHA-256 на лету, атомарная публикация через rename.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/record-module/internal/storage"
)

// FileStore — управление файлами в каталоге dataDir.
type FileStore struct {
	// dataDir — корневая директория хранения файлов (RM_FILESTORE_DIR)
	dataDir string
}

var _ storage.FileStore = (*FileStore)(nil)

// New создаёт FileStore. Создаёт директорию, если она не существует.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// Put записывает данные из reader на диск.
// Формат идентификатора: {name}_{owner}_{timestamp}_{uuid}.{ext}
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (s *FileStore) Put(ctx context.Context, r io.Reader, name, owner string) (*storage.PutResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := generateStorageName(name, owner)
	fullPath := filepath.Join(s.dataDir, id)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(r, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &storage.PutResult{
		ID:       id,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает файл для чтения.
func (s *FileStore) Open(_ context.Context, id string) (io.ReadCloser, error) {
	path, ok := s.path(id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", id, err)
	}
	return f, nil
}

// Remove удаляет файл с диска. Возвращает nil, если файла уже нет.
func (s *FileStore) Remove(_ context.Context, id string) error {
	path, ok := s.path(id)
	if !ok {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла %s: %w", id, err)
	}
	return nil
}

// DataDir возвращает путь к директории данных.
func (s *FileStore) DataDir() string {
	return s.dataDir
}

// CheckReady проверяет доступность каталога данных.
func (s *FileStore) CheckReady() (string, string) {
	info, err := os.Stat(s.dataDir)
	if err != nil {
		return "fail", fmt.Sprintf("каталог файлов недоступен: %v", err)
	}
	if !info.IsDir() {
		return "fail", "путь файлового хранилища не является каталогом"
	}
	return "ok", "файловое хранилище доступно"
}

// path возвращает полный путь объекта. Идентификаторы с разделителями
// пути и временные файлы не принимаются.
func (s *FileStore) path(id string) (string, bool) {
	if id == "" || id != filepath.Base(id) || id == "." || id == ".." || strings.HasSuffix(id, ".tmp") {
		return "", false
	}
	return filepath.Join(s.dataDir, id), true
}

// generateStorageName генерирует имя файла для хранения на диске.
// Пример: scan_alice_20260221150405_a1b2c3d4.pdf
func generateStorageName(originalFilename, owner string) string {
	ext := sanitizeExt(filepath.Ext(originalFilename))
	name := strings.TrimSuffix(originalFilename, filepath.Ext(originalFilename))

	name = sanitize(name)
	user := sanitize(owner)

	// Ограничиваем длину имени для предотвращения проблем с FS
	if len(name) > 50 {
		name = name[:50]
	}
	if len(user) > 20 {
		user = user[:20]
	}

	ts := time.Now().UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]

	return fmt.Sprintf("%s_%s_%s_%s%s", name, user, ts, uid, ext)
}

// sanitizeExt оставляет расширение, только если оно безопасно.
func sanitizeExt(ext string) string {
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	clean := sanitize(ext[1:])
	if clean != ext[1:] {
		return ""
	}
	return ext
}

// sanitize убирает небезопасные символы из строки для использования в имени файла.
// Оставляет только буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' ||
			(r >= 0x0400 && r <= 0x04FF) { // Кириллица
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}
