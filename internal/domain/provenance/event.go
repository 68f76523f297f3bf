// Пакет provenance — журнал происхождения записи.
//
// Журнал append-only: события добавляются в голову, ранее записанные
// события никогда не изменяются и не удаляются. Каждое событие — отдельный
// тип с ровно теми полями, которые нужны его виду.
package provenance

// Kind — вид события журнала.
type Kind string

const (
	KindCreated                Kind = "CREATED"
	KindOwnershipTransferred   Kind = "OWNERSHIP_TRANSFERRED"
	KindAccessRequested        Kind = "ACCESS_REQUESTED"
	KindAccessRequestCancelled Kind = "ACCESS_REQUEST_CANCELLED"
	KindAccessGranted          Kind = "ACCESS_GRANTED"
	KindAccessRejected         Kind = "ACCESS_REJECTED"
	KindAccessRevoked          Kind = "ACCESS_REVOKED"
	KindSharedWith             Kind = "SHARED_WITH"
	KindUnsharedWith           Kind = "UNSHARED_WITH"
	KindFileAdded              Kind = "FILE_ADDED"
	KindFileRemoved            Kind = "FILE_REMOVED"
	KindFileUpdated            Kind = "FILE_UPDATED"
)

// Event — полезная нагрузка события. Набор реализаций закрыт.
type Event interface {
	Kind() Kind
	envelope() Envelope
}

// Created — запись создана владельцем By.
type Created struct{ By string }

// OwnershipTransferred — владелец By передал запись principal To.
type OwnershipTransferred struct{ By, To string }

// AccessRequested — By запросил доступ.
type AccessRequested struct{ By string }

// AccessRequestCancelled — By отменил свой запрос.
type AccessRequestCancelled struct{ By string }

// AccessGranted — владелец удовлетворил запрос With.
type AccessGranted struct{ With string }

// AccessRejected — владелец отклонил запрос For.
type AccessRejected struct{ For string }

// AccessRevoked — у With отозван весь доступ.
type AccessRevoked struct{ With string }

// SharedWith — множество файлов With расширено.
type SharedWith struct{ With string }

// UnsharedWith — множество файлов With сужено, но не опустело.
type UnsharedWith struct{ With string }

// FileAdded — файл добавлен в содержимое.
type FileAdded struct{ FileID, FileName string }

// FileRemoved — файл удалён из содержимого.
type FileRemoved struct{ FileID, FileName string }

// FileUpdated — метаданные файла изменены.
type FileUpdated struct{ FileID, FileName string }

func (Created) Kind() Kind                { return KindCreated }
func (OwnershipTransferred) Kind() Kind   { return KindOwnershipTransferred }
func (AccessRequested) Kind() Kind        { return KindAccessRequested }
func (AccessRequestCancelled) Kind() Kind { return KindAccessRequestCancelled }
func (AccessGranted) Kind() Kind          { return KindAccessGranted }
func (AccessRejected) Kind() Kind         { return KindAccessRejected }
func (AccessRevoked) Kind() Kind          { return KindAccessRevoked }
func (SharedWith) Kind() Kind             { return KindSharedWith }
func (UnsharedWith) Kind() Kind           { return KindUnsharedWith }
func (FileAdded) Kind() Kind              { return KindFileAdded }
func (FileRemoved) Kind() Kind            { return KindFileRemoved }
func (FileUpdated) Kind() Kind            { return KindFileUpdated }

func (e Created) envelope() Envelope { return Envelope{Type: KindCreated, By: e.By} }
func (e OwnershipTransferred) envelope() Envelope {
	return Envelope{Type: KindOwnershipTransferred, By: e.By, To: e.To}
}
func (e AccessRequested) envelope() Envelope { return Envelope{Type: KindAccessRequested, By: e.By} }
func (e AccessRequestCancelled) envelope() Envelope {
	return Envelope{Type: KindAccessRequestCancelled, By: e.By}
}
func (e AccessGranted) envelope() Envelope  { return Envelope{Type: KindAccessGranted, With: e.With} }
func (e AccessRejected) envelope() Envelope { return Envelope{Type: KindAccessRejected, For: e.For} }
func (e AccessRevoked) envelope() Envelope  { return Envelope{Type: KindAccessRevoked, With: e.With} }
func (e SharedWith) envelope() Envelope     { return Envelope{Type: KindSharedWith, With: e.With} }
func (e UnsharedWith) envelope() Envelope   { return Envelope{Type: KindUnsharedWith, With: e.With} }
func (e FileAdded) envelope() Envelope {
	return Envelope{Type: KindFileAdded, FileID: e.FileID, FileName: e.FileName}
}
func (e FileRemoved) envelope() Envelope {
	return Envelope{Type: KindFileRemoved, FileID: e.FileID, FileName: e.FileName}
}
func (e FileUpdated) envelope() Envelope {
	return Envelope{Type: KindFileUpdated, FileID: e.FileID, FileName: e.FileName}
}

// Actor возвращает principal, от имени которого совершено событие,
// либо principal, которого оно касается (для событий владельца).
func Actor(e Event) string {
	env := e.envelope()
	switch {
	case env.By != "":
		return env.By
	case env.With != "":
		return env.With
	case env.For != "":
		return env.For
	}
	return ""
}
