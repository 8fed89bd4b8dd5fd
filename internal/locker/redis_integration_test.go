package locker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLocker(t *testing.T) *RedisLocker {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR не задан, пропускаем интеграционный тест")
	}
	client, err := NewRedisClient(context.Background(), RedisConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisLocker(client, "test:"+uuid.NewString()+":", 5*time.Second)
}

func TestRedisLocker_ExclusiveAndReleased(t *testing.T) {
	l := newTestRedisLocker(t)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "555")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "555")
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	unlock()

	unlockAgain, err := l.Lock(ctx, "555")
	require.NoError(t, err)
	unlockAgain()
}

func TestRedisLocker_ExpiredTokenIsNotReleasedByStaleOwner(t *testing.T) {
	l := newTestRedisLocker(t)
	l.ttl = 50 * time.Millisecond
	ctx := context.Background()

	staleUnlock, err := l.Lock(ctx, "777")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	unlock, err := l.Lock(ctx, "777")
	require.NoError(t, err)
	defer unlock()

	// Старый владелец не должен снять чужую блокировку.
	staleUnlock()
	exists, err := l.client.Exists(ctx, l.keyPrefix+"777").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}
