// Пакет model — доменные модели Record Module.
// Record — агрегат записи пациента: владелец, файлы, выданный доступ,
// ожидающие запросы и журнал происхождения.
package model

import (
	"time"

	"github.com/bigkaa/goartstore/record-module/internal/domain/grants"
	"github.com/bigkaa/goartstore/record-module/internal/domain/provenance"
)

// FileEntry — файл в содержимом записи.
// Байты файла хранятся в файловом хранилище, запись держит только ссылку.
type FileEntry struct {
	// ID — UUID, присваивается при добавлении и никогда не переиспользуется
	ID string `json:"id"`
	// Name — отображаемое имя файла
	Name string `json:"name"`
	// DataType — MIME-тип или иной тип данных
	DataType string `json:"dataType"`
	// PayloadRef — идентификатор объекта в файловом хранилище
	PayloadRef string `json:"payloadRef"`
	// Size — размер в байтах
	Size int64 `json:"size"`
	// Checksum — SHA-256 контрольная сумма (hex)
	Checksum string `json:"checksum,omitempty"`
	// CreatedAt — время добавления
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt — время последнего изменения метаданных
	UpdatedAt time.Time `json:"updatedAt"`
}

// Record — агрегат записи.
type Record struct {
	// RecordID — внешний идентификатор, уникален и неизменяем
	RecordID string
	// OwnerID — текущий владелец, никогда не пуст
	OwnerID string
	// Content — файлы записи в порядке добавления
	Content []FileEntry
	// Grants — выданный доступ principal → файлы
	Grants grants.Table
	// AccessRequests — ожидающие запросы доступа в порядке поступления
	AccessRequests []string
	// History — журнал происхождения
	History provenance.Log
	// Version — токен оптимистичной блокировки
	Version int64
	// CreatedAt — время создания
	CreatedAt time.Time
	// UpdatedAt — время последнего изменения
	UpdatedAt time.Time
}

// Clone возвращает глубокую копию записи.
func (r *Record) Clone() *Record {
	out := *r
	out.Content = append([]FileEntry(nil), r.Content...)
	out.AccessRequests = append([]string(nil), r.AccessRequests...)
	out.Grants = r.Grants.Clone()
	out.History = r.History.Clone()
	return &out
}

// File ищет файл по идентификатору.
func (r *Record) File(id string) (FileEntry, bool) {
	for _, f := range r.Content {
		if f.ID == id {
			return f, true
		}
	}
	return FileEntry{}, false
}

// FileIDs возвращает множество идентификаторов текущего содержимого.
func (r *Record) FileIDs() grants.Set {
	ids := make(grants.Set, len(r.Content))
	for _, f := range r.Content {
		ids[f.ID] = struct{}{}
	}
	return ids
}

// HasPendingRequest проверяет наличие ожидающего запроса от principal.
func (r *Record) HasPendingRequest(principal string) bool {
	for _, p := range r.AccessRequests {
		if p == principal {
			return true
		}
	}
	return false
}

// Document — сериализуемое тело записи, хранимое в record store.
// Владелец, версия и время хранятся в отдельных колонках/полях.
type Document struct {
	Content        []FileEntry           `json:"content"`
	Grants         map[string][]string   `json:"grants"`
	AccessRequests []string              `json:"accessRequests"`
	History        []provenance.Envelope `json:"history"`
}

// Document возвращает сериализуемое тело записи.
func (r *Record) Document() Document {
	content := r.Content
	if content == nil {
		content = []FileEntry{}
	}
	requests := r.AccessRequests
	if requests == nil {
		requests = []string{}
	}
	return Document{
		Content:        content,
		Grants:         r.Grants.ToMap(),
		AccessRequests: requests,
		History:        r.History.Envelopes(),
	}
}

// ApplyDocument заполняет запись из сериализованного тела.
func (r *Record) ApplyDocument(doc Document) error {
	history, err := provenance.FromEnvelopes(doc.History)
	if err != nil {
		return err
	}
	r.Content = doc.Content
	r.Grants = grants.FromMap(doc.Grants)
	r.AccessRequests = doc.AccessRequests
	r.History = history
	return nil
}

// GranteeIDs возвращает principal с выданным доступом (для индексации).
func (r *Record) GranteeIDs() []string {
	return r.Grants.Principals()
}
