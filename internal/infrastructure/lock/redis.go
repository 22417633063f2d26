package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/verifactu-hub/internal/application/pipeline"
)

var _ pipeline.Locker = (*RedisLocker)(nil)

// RedisLocker implementa la exclusión por instalación sobre Redis. Es la
// opción correcta cuando hay más de un proceso del hub contra la misma base.
type RedisLocker struct {
	client *redislock.Client
}

// NewRedisLocker construye el locker sobre un cliente Redis ya conectado.
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb)}
}

// TryAcquire intenta tomar el lock sin reintentos. Si otro proceso lo tiene,
// devuelve pipeline.ErrLockHeld.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (pipeline.Lock, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, pipeline.ErrLockHeld
		}
		return nil, fmt.Errorf("obtain redis lock %q: %w", key, err)
	}
	return &redisLock{lock: lock}, nil
}

type redisLock struct {
	lock *redislock.Lock
}

func (l *redisLock) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		// ErrLockNotHeld tras expirar el TTL no es un fallo: el lock ya no era nuestro.
		return fmt.Errorf("release redis lock: %w", err)
	}
	return nil
}
