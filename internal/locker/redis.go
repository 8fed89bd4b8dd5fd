package locker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/order-sync-gateway/internal/logger"
)

// ErrLockNotAcquired возвращается, если ключ не удалось захватить до отмены контекста.
var ErrLockNotAcquired = errors.New("redis locker: lock not acquired")

// releaseScript удаляет ключ, только если он всё ещё принадлежит нашему токену.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig описывает подключение к Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisLocker - распределённая блокировка для нескольких экземпляров шлюза с общим хранилищем.
type RedisLocker struct {
	client        *redis.Client
	keyPrefix     string
	ttl           time.Duration
	retryInterval time.Duration
}

// NewRedisClient создаёт клиента и проверяет соединение.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis locker: не удалось подключиться к Redis: %w", err)
	}
	return client, nil
}

// NewRedisLocker создаёт блокировку поверх готового клиента.
// ttl ограничивает время жизни ключа, если процесс упал, не освободив его.
func NewRedisLocker(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisLocker {
	if keyPrefix == "" {
		keyPrefix = "order-sync:lock:"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		client:        client,
		keyPrefix:     keyPrefix,
		ttl:           ttl,
		retryInterval: 25 * time.Millisecond,
	}
}

// Lock захватывает ключ через SET NX PX, повторяя попытки до отмены контекста.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := l.keyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrLockNotAcquired, ctxErr)
			}
			return nil, fmt.Errorf("redis locker: setnx %s: %w", fullKey, err)
		}
		if ok {
			return l.unlockFunc(fullKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLockNotAcquired, ctx.Err())
		case <-time.After(l.retryInterval):
		}
	}
}

func (l *RedisLocker) unlockFunc(fullKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// Освобождаем даже если контекст запроса уже отменён.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err(); err != nil && logger.Log != nil {
				logger.Log.WithFields(logrus.Fields{
					"key":   fullKey,
					"error": err.Error(),
				}).Warn("redis locker: не удалось освободить блокировку")
			}
		})
	}
}

// Ping проверяет доступность Redis (для health check).
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
