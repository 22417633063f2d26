package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/verifactu-hub/internal/domain/entity"
	"github.com/jhoicas/verifactu-hub/internal/domain/repository"
)

var _ repository.DispatchTriggerRepository = (*DispatchTriggerRepo)(nil)

// DispatchTriggerRepo implementación de DispatchTriggerRepository (usable con pool o tx).
type DispatchTriggerRepo struct {
	q Querier
}

// NewDispatchTriggerRepository construye el adaptador. Pasar pool o tx (Querier).
func NewDispatchTriggerRepository(q Querier) *DispatchTriggerRepo {
	return &DispatchTriggerRepo{q: q}
}

const triggerColumns = `
	id, batch_id, installation_id, estado, attempts, max_attempts,
	next_attempt_at, last_attempt_at, queued_at, last_error, created_at`

// Create inserta el disparador en la misma transacción que su lote. El ID lo
// asigna la secuencia (clave FIFO junto con created_at).
func (r *DispatchTriggerRepo) Create(ctx context.Context, trigger *entity.DispatchTrigger) error {
	query := `
		INSERT INTO dispatch_triggers (batch_id, installation_id, estado, attempts, max_attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	err := r.q.QueryRow(ctx, query,
		trigger.BatchID, trigger.InstallationID, trigger.Estado,
		trigger.Attempts, trigger.MaxAttempts, trigger.CreatedAt,
	).Scan(&trigger.ID)
	if err != nil {
		return fmt.Errorf("insert dispatch trigger: %w", err)
	}
	return nil
}

// GetByID obtiene un disparador por ID, o (nil, nil) si no existe.
func (r *DispatchTriggerRepo) GetByID(ctx context.Context, id int64) (*entity.DispatchTrigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM dispatch_triggers WHERE id = $1`
	trigger, err := scanTrigger(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dispatch trigger: %w", err)
	}
	return trigger, nil
}

// SelectDispatchable devuelve en orden FIFO estricto los PENDIENTE con el
// backoff vencido y los ENCOLADO huérfanos (más viejos que staleAfter).
func (r *DispatchTriggerRepo) SelectDispatchable(ctx context.Context, now time.Time, staleAfter time.Duration, limit int) ([]*entity.DispatchTrigger, error) {
	staleBefore := now.Add(-staleAfter)
	query := `SELECT ` + triggerColumns + `
		FROM dispatch_triggers
		WHERE (estado = $1 AND (next_attempt_at IS NULL OR next_attempt_at <= $2))
		   OR (estado = $3 AND queued_at IS NOT NULL AND queued_at <= $4)
		ORDER BY created_at, id
		LIMIT $5`
	rows, err := r.q.Query(ctx, query,
		entity.TriggerStatePending, now, entity.TriggerStateQueued, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("select dispatchable triggers: %w", err)
	}
	defer rows.Close()

	var list []*entity.DispatchTrigger
	for rows.Next() {
		trigger, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dispatch trigger: %w", err)
		}
		list = append(list, trigger)
	}
	return list, rows.Err()
}

// MarkQueued transiciona PENDIENTE → ENCOLADO y refresca queued_at en la
// recuperación de un ENCOLADO huérfano (sin el refresco, cada barrido lo vería
// huérfano otra vez y lo re-entregaría). La guardia de estado impide pisar una
// resolución que el worker ya haya persistido.
func (r *DispatchTriggerRepo) MarkQueued(ctx context.Context, id int64, now time.Time) error {
	query := `
		UPDATE dispatch_triggers
		SET estado = $2, queued_at = $3
		WHERE id = $1 AND estado IN ($4, $2)`
	_, err := r.q.Exec(ctx, query, id, entity.TriggerStateQueued, now, entity.TriggerStatePending)
	if err != nil {
		return fmt.Errorf("mark trigger queued: %w", err)
	}
	return nil
}

// MarkProcessed transiciona a PROCESADO (terminal).
func (r *DispatchTriggerRepo) MarkProcessed(ctx context.Context, id int64, now time.Time) error {
	query := `
		UPDATE dispatch_triggers
		SET estado = $2, last_attempt_at = $3, queued_at = NULL, next_attempt_at = NULL, last_error = NULL
		WHERE id = $1`
	_, err := r.q.Exec(ctx, query, id, entity.TriggerStateProcessed, now)
	if err != nil {
		return fmt.Errorf("mark trigger processed: %w", err)
	}
	return nil
}

// MarkError transiciona a ERROR (terminal, cola de intervención manual).
func (r *DispatchTriggerRepo) MarkError(ctx context.Context, id int64, lastError string, now time.Time) error {
	query := `
		UPDATE dispatch_triggers
		SET estado = $2, last_attempt_at = $3, queued_at = NULL, next_attempt_at = NULL, last_error = $4
		WHERE id = $1`
	_, err := r.q.Exec(ctx, query, id, entity.TriggerStateError, now, lastError)
	if err != nil {
		return fmt.Errorf("mark trigger error: %w", err)
	}
	return nil
}

// ScheduleRetry devuelve el disparador a PENDIENTE con backoff.
func (r *DispatchTriggerRepo) ScheduleRetry(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, lastError string, now time.Time) error {
	query := `
		UPDATE dispatch_triggers
		SET estado = $2, attempts = $3, next_attempt_at = $4, last_attempt_at = $5,
		    queued_at = NULL, last_error = $6
		WHERE id = $1`
	_, err := r.q.Exec(ctx, query, id, entity.TriggerStatePending, attempts, nextAttemptAt, now, lastError)
	if err != nil {
		return fmt.Errorf("schedule trigger retry: %w", err)
	}
	return nil
}

// ListErrored devuelve la cola de intervención manual en orden de creación.
func (r *DispatchTriggerRepo) ListErrored(ctx context.Context) ([]*entity.DispatchTrigger, error) {
	query := `SELECT ` + triggerColumns + `
		FROM dispatch_triggers
		WHERE estado = $1
		ORDER BY created_at, id`
	rows, err := r.q.Query(ctx, query, entity.TriggerStateError)
	if err != nil {
		return nil, fmt.Errorf("list errored triggers: %w", err)
	}
	defer rows.Close()

	var list []*entity.DispatchTrigger
	for rows.Next() {
		trigger, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dispatch trigger: %w", err)
		}
		list = append(list, trigger)
	}
	return list, rows.Err()
}

func scanTrigger(row pgx.Row) (*entity.DispatchTrigger, error) {
	var trigger entity.DispatchTrigger
	var lastError *string
	err := row.Scan(
		&trigger.ID, &trigger.BatchID, &trigger.InstallationID, &trigger.Estado,
		&trigger.Attempts, &trigger.MaxAttempts, &trigger.NextAttemptAt,
		&trigger.LastAttemptAt, &trigger.QueuedAt, &lastError, &trigger.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	trigger.LastError = derefStr(lastError)
	return &trigger, nil
}
