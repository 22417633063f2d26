package repository

import (
	"context"
	"time"

	"github.com/jhoicas/verifactu-hub/internal/domain/entity"
)

// DispatchTriggerRepository persiste los eventos de outbox que disparan el
// envío de lotes.
type DispatchTriggerRepository interface {
	// Create inserta el disparador. Debe invocarse en la misma transacción
	// que la creación de su Batch: el par se crea junto o no se crea.
	Create(ctx context.Context, trigger *entity.DispatchTrigger) error

	// GetByID devuelve (nil, nil) si no existe.
	GetByID(ctx context.Context, id int64) (*entity.DispatchTrigger, error)

	// SelectDispatchable devuelve, en orden estricto (created_at, id), los
	// disparadores PENDIENTE cuyo backoff ya venció y los ENCOLADO huérfanos
	// (encolados hace más de staleAfter sin resolverse, p.ej. por un crash).
	SelectDispatchable(ctx context.Context, now time.Time, staleAfter time.Duration, limit int) ([]*entity.DispatchTrigger, error)

	// MarkQueued transiciona PENDIENTE → ENCOLADO. No toca filas que ya
	// salieron de PENDIENTE (el worker puede haber resuelto antes).
	MarkQueued(ctx context.Context, id int64, now time.Time) error

	// MarkProcessed transiciona a PROCESADO (terminal).
	MarkProcessed(ctx context.Context, id int64, now time.Time) error

	// MarkError transiciona a ERROR (terminal, requiere intervención manual).
	MarkError(ctx context.Context, id int64, lastError string, now time.Time) error

	// ScheduleRetry devuelve el disparador a PENDIENTE con el contador de
	// intentos y el instante del próximo intento.
	ScheduleRetry(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, lastError string, now time.Time) error

	// ListErrored devuelve la cola de intervención manual (estado ERROR).
	ListErrored(ctx context.Context) ([]*entity.DispatchTrigger, error)
}
