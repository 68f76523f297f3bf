package service

import (
	"context"
	"sync"
)

// keyedLock — взаимное исключение по ключу (recordId).
// Записи освобождаются, когда ключ никто не держит и не ждёт.
// Ожидание прерывается отменой контекста.
type keyedLock struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

// lockSlot — семафор ёмкостью 1 и счётчик ссылок.
type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{slots: make(map[string]*lockSlot)}
}

// Lock захватывает ключ. Возвращает функцию освобождения или ошибку контекста.
func (l *keyedLock) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.ch
				l.release(key, slot)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, slot)
		return nil, ctx.Err()
	}
}

// release уменьшает счётчик ссылок и удаляет пустой слот.
func (l *keyedLock) release(key string, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

// size возвращает количество активных ключей.
func (l *keyedLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
