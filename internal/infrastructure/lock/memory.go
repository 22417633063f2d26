package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/verifactu-hub/internal/application/pipeline"
)

var _ pipeline.Locker = (*MemoryLocker)(nil)

// MemoryLocker es un registro de locks en memoria con TTL, para despliegues de
// un solo proceso (o tests). El TTL cumple el mismo papel que en Redis: un
// builder que muera con el lock tomado no bloquea la instalación para siempre.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	clock func() time.Time
}

// memoryEntry es una adquisición vigente: el token evita que un titular cuyo
// TTL venció libere el lock que otro titular adquirió legítimamente (misma
// semántica que el token de redislock).
type memoryEntry struct {
	token  string
	expiry time.Time
}

// NewMemoryLocker construye el registro vacío.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]memoryEntry),
		clock: time.Now,
	}
}

// TryAcquire toma el lock si está libre o su TTL venció; en otro caso devuelve
// pipeline.ErrLockHeld.
func (l *MemoryLocker) TryAcquire(_ context.Context, key string, ttl time.Duration) (pipeline.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if entry, ok := l.held[key]; ok && now.Before(entry.expiry) {
		return nil, pipeline.ErrLockHeld
	}
	token := uuid.New().String()
	l.held[key] = memoryEntry{token: token, expiry: now.Add(ttl)}
	return &memoryLock{locker: l, key: key, token: token}, nil
}

type memoryLock struct {
	locker *MemoryLocker
	key    string
	token  string
}

// Release libera el lock solo si el token sigue siendo el propio: si el TTL
// venció y otro titular lo adquirió, soltarlo aquí rompería su exclusión.
func (l *memoryLock) Release(_ context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if entry, ok := l.locker.held[l.key]; ok && entry.token == l.token {
		delete(l.locker.held, l.key)
	}
	return nil
}
