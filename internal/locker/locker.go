package locker

import (
	"context"
	"sync"
)

// Locker выдаёт взаимное исключение по ключу (идентификатору заказа).
// Возвращённая функция освобождает блокировку; повторный вызов безопасен.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex - блокировки по ключу внутри одного процесса.
// Записи удаляются, когда ключ больше никто не ждёт.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

// NewKeyedMutex создаёт пустой набор блокировок.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

// Lock ждёт освобождения ключа или отмены контекста.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		m.entries[key] = entry
	}
	entry.refs++
	m.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			m.release(key, entry)
		})
	}, nil
}

func (m *KeyedMutex) release(key string, entry *keyedEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(m.entries, key)
	}
}

// size возвращает число активных ключей (для тестов).
func (m *KeyedMutex) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
