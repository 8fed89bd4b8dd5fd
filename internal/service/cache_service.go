package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CacheService - кэш в памяти с TTL. Используется для токенов доступа к API платформ.
// Документы заказов здесь не кэшируются: каждая синхронизация читает хранилище.
type CacheService struct {
	mu    sync.RWMutex
	cache map[string]*cacheEntry
	loads singleflight.Group
	stop  chan struct{}
	once  sync.Once
}

type cacheEntry struct {
	data      interface{}
	expiresAt time.Time
}

// NewCacheService создаёт кэш и запускает фоновую очистку.
func NewCacheService() *CacheService {
	cs := &CacheService{
		cache: make(map[string]*cacheEntry),
		stop:  make(chan struct{}),
	}

	go cs.cleanup(5 * time.Minute)

	return cs
}

// Get возвращает значение, если оно есть и не истекло.
func (cs *CacheService) Get(key string) (interface{}, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.lookup(key, time.Now())
}

func (cs *CacheService) lookup(key string, now time.Time) (interface{}, bool) {
	entry, exists := cs.cache[key]
	if !exists || now.After(entry.expiresAt) {
		return nil, false
	}
	return entry.data, true
}

// Set сохраняет значение на ttl.
func (cs *CacheService) Set(key string, value interface{}, ttl time.Duration) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.cache[key] = &cacheEntry{
		data:      value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Delete удаляет ключ. Клиент платформы вызывает его, когда API отверг токен.
func (cs *CacheService) Delete(key string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	delete(cs.cache, key)
}

// Close останавливает фоновую очистку.
func (cs *CacheService) Close() {
	cs.once.Do(func() { close(cs.stop) })
}

func (cs *CacheService) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.stop:
			return
		case <-ticker.C:
			cs.mu.Lock()
			now := time.Now()
			for key, entry := range cs.cache {
				if now.After(entry.expiresAt) {
					delete(cs.cache, key)
				}
			}
			cs.mu.Unlock()
		}
	}
}

// GetOrSet возвращает значение из кэша или загружает его через fn.
// fn возвращает значение вместе с TTL; ошибки и TTL <= 0 не кэшируются.
// Параллельные вызовы с одним ключом дожидаются одной загрузки,
// поэтому воркеры отправки статусов не запрашивают токен одновременно.
func (cs *CacheService) GetOrSet(
	ctx context.Context,
	key string,
	fn func(ctx context.Context) (interface{}, time.Duration, error),
) (interface{}, error) {
	if value, found := cs.Get(key); found {
		return value, nil
	}

	value, err, _ := cs.loads.Do(key, func() (interface{}, error) {
		if value, found := cs.Get(key); found {
			return value, nil
		}
		value, ttl, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if ttl > 0 {
			cs.Set(key, value, ttl)
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}
