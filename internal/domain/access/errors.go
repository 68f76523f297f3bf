package access

import "errors"

// Ошибки движка доступа. Возвращаются обёрнутыми через %w с контекстом.
var (
	// ErrNotFound — запись, файл, principal или ожидающий запрос не найдены.
	ErrNotFound = errors.New("не найдено")
	// ErrUnauthorized — действующий principal отсутствует или не имеет права на операцию.
	ErrUnauthorized = errors.New("нет прав на операцию")
	// ErrConflict — операция противоречит текущему состоянию записи.
	ErrConflict = errors.New("конфликт состояния")
	// ErrInvalidArgument — некорректные входные данные.
	ErrInvalidArgument = errors.New("некорректный аргумент")
)
