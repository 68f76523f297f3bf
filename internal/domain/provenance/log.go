package provenance

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed — сериализованное событие не соответствует своему виду.
var ErrMalformed = errors.New("некорректное событие журнала")

// Entry — событие журнала с порядковым номером и временем.
// Seq строго возрастает в порядке применения, поэтому порядок
// событий с одинаковым временем однозначен.
type Entry struct {
	Seq       int64
	Timestamp time.Time
	Event     Event
}

// Kind возвращает вид события.
func (e Entry) Kind() Kind { return e.Event.Kind() }

// Envelope — плоская сериализуемая форма события.
// Поля, не относящиеся к виду события, опускаются.
type Envelope struct {
	Type      Kind      `json:"type"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	By        string    `json:"by,omitempty"`
	To        string    `json:"to,omitempty"`
	For       string    `json:"for,omitempty"`
	With      string    `json:"with,omitempty"`
	FileID    string    `json:"fileId,omitempty"`
	FileName  string    `json:"fileName,omitempty"`
}

// ToEnvelope переводит событие журнала в сериализуемую форму.
func ToEnvelope(e Entry) Envelope {
	env := e.Event.envelope()
	env.Seq = e.Seq
	env.Timestamp = e.Timestamp
	return env
}

// Entry восстанавливает событие из сериализованной формы,
// проверяя вид и обязательные поля.
func (env Envelope) Entry() (Entry, error) {
	var ev Event
	missing := ""
	switch env.Type {
	case KindCreated:
		ev, missing = Created{By: env.By}, emptyName("by", env.By)
	case KindOwnershipTransferred:
		ev, missing = OwnershipTransferred{By: env.By, To: env.To}, emptyName("to", env.To)
	case KindAccessRequested:
		ev, missing = AccessRequested{By: env.By}, emptyName("by", env.By)
	case KindAccessRequestCancelled:
		ev, missing = AccessRequestCancelled{By: env.By}, emptyName("by", env.By)
	case KindAccessGranted:
		ev, missing = AccessGranted{With: env.With}, emptyName("with", env.With)
	case KindAccessRejected:
		ev, missing = AccessRejected{For: env.For}, emptyName("for", env.For)
	case KindAccessRevoked:
		ev, missing = AccessRevoked{With: env.With}, emptyName("with", env.With)
	case KindSharedWith:
		ev, missing = SharedWith{With: env.With}, emptyName("with", env.With)
	case KindUnsharedWith:
		ev, missing = UnsharedWith{With: env.With}, emptyName("with", env.With)
	case KindFileAdded:
		ev, missing = FileAdded{FileID: env.FileID, FileName: env.FileName}, emptyName("fileId", env.FileID)
	case KindFileRemoved:
		ev, missing = FileRemoved{FileID: env.FileID, FileName: env.FileName}, emptyName("fileId", env.FileID)
	case KindFileUpdated:
		ev, missing = FileUpdated{FileID: env.FileID, FileName: env.FileName}, emptyName("fileId", env.FileID)
	default:
		return Entry{}, fmt.Errorf("%w: неизвестный вид %q", ErrMalformed, env.Type)
	}
	if missing != "" {
		return Entry{}, fmt.Errorf("%w: %s без поля %s", ErrMalformed, env.Type, missing)
	}
	return Entry{Seq: env.Seq, Timestamp: env.Timestamp, Event: ev}, nil
}

func emptyName(name, value string) string {
	if value == "" {
		return name
	}
	return ""
}

// MarshalJSON кодирует событие в плоскую форму.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToEnvelope(e))
}

// UnmarshalJSON декодирует событие, отклоняя неизвестные виды.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	decoded, err := env.Entry()
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

// Log — append-only журнал событий записи.
// Внутри события хранятся в порядке добавления; наружу
// отдаются начиная с самого свежего.
type Log struct {
	entries []Entry
}

// Append добавляет событие в голову журнала и возвращает его с номером.
func (l *Log) Append(at time.Time, ev Event) Entry {
	var seq int64 = 1
	if n := len(l.entries); n > 0 {
		seq = l.entries[n-1].Seq + 1
	}
	entry := Entry{Seq: seq, Timestamp: at, Event: ev}
	l.entries = append(l.entries, entry)
	return entry
}

// Entries возвращает события начиная с самого свежего.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[len(l.entries)-1-i] = e
	}
	return out
}

// Since возвращает события с Seq > seq в порядке добавления.
func (l *Log) Since(seq int64) []Entry {
	for i, e := range l.entries {
		if e.Seq > seq {
			out := make([]Entry, len(l.entries)-i)
			copy(out, l.entries[i:])
			return out
		}
	}
	return nil
}

// Head возвращает самое свежее событие.
func (l *Log) Head() (Entry, bool) {
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// LastSeq возвращает номер самого свежего события (0 для пустого журнала).
func (l *Log) LastSeq() int64 {
	if head, ok := l.Head(); ok {
		return head.Seq
	}
	return 0
}

// Len возвращает количество событий.
func (l *Log) Len() int { return len(l.entries) }

// Clone возвращает копию журнала. События неизменяемы, поэтому
// копируется только срез.
func (l *Log) Clone() Log {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return Log{entries: out}
}

// Envelopes возвращает сериализуемую форму журнала, начиная с самого свежего.
func (l *Log) Envelopes() []Envelope {
	out := make([]Envelope, len(l.entries))
	for i, e := range l.entries {
		out[len(l.entries)-1-i] = ToEnvelope(e)
	}
	return out
}

// FromEnvelopes восстанавливает журнал из сериализованной формы
// (самое свежее событие первым). Номера должны строго убывать.
func FromEnvelopes(envs []Envelope) (Log, error) {
	entries := make([]Entry, len(envs))
	for i, env := range envs {
		e, err := env.Entry()
		if err != nil {
			return Log{}, err
		}
		entries[len(envs)-1-i] = e
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Seq <= entries[i-1].Seq {
			return Log{}, fmt.Errorf("%w: нарушен порядок номеров (%d после %d)",
				ErrMalformed, entries[i].Seq, entries[i-1].Seq)
		}
	}
	return Log{entries: entries}, nil
}

// MarshalJSON кодирует журнал массивом, начиная с самого свежего события.
func (l Log) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Envelopes())
}

// UnmarshalJSON декодирует журнал из массива событий.
func (l *Log) UnmarshalJSON(data []byte) error {
	var envs []Envelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return err
	}
	decoded, err := FromEnvelopes(envs)
	if err != nil {
		return err
	}
	*l = decoded
	return nil
}
