// Пакет ledger — внешний реестр значимых событий записей
// (создание, передача владения, изменение содержимого).
// Реестр — независимое подтверждение журнала происхождения: запись
// в реестр асинхронна, и его недоступность не влияет на операции.
package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bigkaa/goartstore/record-module/internal/domain/provenance"
)

// ErrUnavailable — реестр не настроен или недоступен.
var ErrUnavailable = errors.New("реестр недоступен")

// Entry — запись реестра об одном событии журнала.
type Entry struct {
	// ID — идентификатор записи реестра: {recordId}:{seq}
	ID string `json:"id"`
	// RecordID — запись, к которой относится событие
	RecordID string `json:"recordId"`
	// Seq — порядковый номер события в журнале записи
	Seq int64 `json:"seq"`
	// Kind — вид события
	Kind provenance.Kind `json:"kind"`
	// Actor — principal, инициировавший событие
	Actor string `json:"actor"`
	// Digest — BLAKE3-хэш события (hex)
	Digest string `json:"digest"`
	// OccurredAt — время события
	OccurredAt time.Time `json:"occurredAt"`
	// Reference — идентификатор, присвоенный реестром (после отправки)
	Reference string `json:"reference,omitempty"`
}

// Receipt — подтверждение приёма записи реестром.
type Receipt struct {
	Reference  string    `json:"reference"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

// Ledger — внешний реестр.
type Ledger interface {
	// Submit отправляет запись. Повторная отправка записи с тем же ID идемпотентна.
	Submit(ctx context.Context, e Entry) (Receipt, error)
	// History возвращает записи реестра по записи в порядке Seq.
	History(ctx context.Context, recordID string) ([]Entry, error)
}

// Публикуемые виды событий: смена владельца и состава содержимого.
// Доступ и запросы остаются только в журнале записи.
var published = map[provenance.Kind]bool{
	provenance.KindCreated:              true,
	provenance.KindOwnershipTransferred: true,
	provenance.KindFileAdded:            true,
	provenance.KindFileRemoved:          true,
}

// Publishable сообщает, отправляется ли событие этого вида в реестр.
func Publishable(kind provenance.Kind) bool {
	return published[kind]
}

// NewEntry строит запись реестра из события журнала.
func NewEntry(recordID string, e provenance.Entry) Entry {
	return Entry{
		ID:         recordID + ":" + strconv.FormatInt(e.Seq, 10),
		RecordID:   recordID,
		Seq:        e.Seq,
		Kind:       e.Kind(),
		Actor:      provenance.Actor(e.Event),
		Digest:     Digest(recordID, provenance.ToEnvelope(e)),
		OccurredAt: e.Timestamp,
	}
}

// Digest вычисляет BLAKE3-хэш события: recordId, нулевой байт, JSON конверта.
// Конверт сериализуется с фиксированным порядком полей, поэтому хэш
// воспроизводим по сохранённому журналу.
func Digest(recordID string, env provenance.Envelope) string {
	body, err := json.Marshal(env)
	if err != nil {
		panic("ledger: сериализация конверта: " + err.Error())
	}
	h := blake3.New()
	h.Write([]byte(recordID))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Noop — реестр, который ничего не хранит (RM_LEDGER_MODE=none).
type Noop struct{}

// Submit ничего не делает.
func (Noop) Submit(context.Context, Entry) (Receipt, error) {
	return Receipt{}, nil
}

// History возвращает ErrUnavailable.
func (Noop) History(context.Context, string) ([]Entry, error) {
	return nil, ErrUnavailable
}
