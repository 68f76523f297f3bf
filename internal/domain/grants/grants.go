// Пакет grants — таблица выдачи доступа к файлам записи.
//
// Таблица хранит отображение principal → множество идентификаторов файлов.
// Пустые множества никогда не хранятся: сужение до пустого множества
// эквивалентно полному отзыву доступа.
package grants

import (
	"encoding/json"
	"sort"
)

// Set — множество идентификаторов файлов.
type Set map[string]struct{}

// NewSet создаёт множество из перечисленных идентификаторов.
// Пустые строки игнорируются, дубликаты схлопываются.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

// Has проверяет принадлежность идентификатора множеству.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Len возвращает размер множества.
func (s Set) Len() int { return len(s) }

// Sorted возвращает элементы множества в лексикографическом порядке.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clone возвращает независимую копию множества.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Equal сравнивает два множества.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

// Minus возвращает элементы s, отсутствующие в other.
func (s Set) Minus(other Set) Set {
	out := make(Set, len(s))
	for id := range s {
		if !other.Has(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Grows проверяет, содержит ли next хотя бы один элемент, отсутствующий в s.
func (s Set) Grows(next Set) bool {
	for id := range next {
		if !s.Has(id) {
			return true
		}
	}
	return false
}

// MarshalJSON кодирует множество отсортированным массивом.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON декодирует множество из массива строк.
func (s *Set) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewSet(ids...)
	return nil
}

// Table — таблица выдачи доступа.
// Нулевое значение готово к использованию.
type Table struct {
	entries map[string]Set
}

// FromMap восстанавливает таблицу из сериализованного представления.
// Пустые записи отбрасываются.
func FromMap(m map[string][]string) Table {
	t := Table{}
	for principal, ids := range m {
		set := NewSet(ids...)
		if principal == "" || set.Len() == 0 {
			continue
		}
		t.ensure()
		t.entries[principal] = set
	}
	return t
}

// ToMap возвращает сериализуемое представление таблицы
// с отсортированными идентификаторами файлов.
func (t *Table) ToMap() map[string][]string {
	out := make(map[string][]string, len(t.entries))
	for principal, set := range t.entries {
		out[principal] = set.Sorted()
	}
	return out
}

func (t *Table) ensure() {
	if t.entries == nil {
		t.entries = make(map[string]Set)
	}
}

// Grant объединяет выданное principal множество с ids.
// Возвращает true, если множество выросло (появился хотя бы один новый файл).
func (t *Table) Grant(principal string, ids Set) bool {
	if principal == "" || ids.Len() == 0 {
		return false
	}
	t.ensure()
	current, ok := t.entries[principal]
	if !ok {
		t.entries[principal] = ids.Clone()
		return true
	}
	grew := false
	for id := range ids {
		if !current.Has(id) {
			current[id] = struct{}{}
			grew = true
		}
	}
	return grew
}

// NarrowTo заменяет множество principal на ids.
// Пустое ids удаляет запись целиком.
func (t *Table) NarrowTo(principal string, ids Set) {
	if ids.Len() == 0 {
		t.RevokeAll(principal)
		return
	}
	t.ensure()
	t.entries[principal] = ids.Clone()
}

// RevokeAll удаляет запись principal.
// Возвращает true, если запись существовала.
func (t *Table) RevokeAll(principal string) bool {
	if _, ok := t.entries[principal]; !ok {
		return false
	}
	delete(t.entries, principal)
	return true
}

// Has проверяет, есть ли у principal хоть какой-то доступ.
func (t *Table) Has(principal string) bool {
	_, ok := t.entries[principal]
	return ok
}

// FilesFor возвращает копию множества файлов principal (пустое, если записи нет).
func (t *Table) FilesFor(principal string) Set {
	set, ok := t.entries[principal]
	if !ok {
		return Set{}
	}
	return set.Clone()
}

// Principals возвращает отсортированный список principal с доступом.
func (t *Table) Principals() []string {
	out := make([]string, 0, len(t.entries))
	for principal := range t.entries {
		out = append(out, principal)
	}
	sort.Strings(out)
	return out
}

// Len возвращает количество записей.
func (t *Table) Len() int { return len(t.entries) }

// Clone возвращает глубокую копию таблицы.
func (t *Table) Clone() Table {
	out := Table{}
	if len(t.entries) == 0 {
		return out
	}
	out.entries = make(map[string]Set, len(t.entries))
	for principal, set := range t.entries {
		out.entries[principal] = set.Clone()
	}
	return out
}

// MarshalJSON кодирует таблицу как объект principal → [fileId...].
func (t Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.ToMap())
}

// UnmarshalJSON декодирует таблицу из объекта principal → [fileId...].
func (t *Table) UnmarshalJSON(data []byte) error {
	var m map[string][]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*t = FromMap(m)
	return nil
}
