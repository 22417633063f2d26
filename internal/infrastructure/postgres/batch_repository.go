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

var _ repository.BatchRepository = (*BatchRepo)(nil)

// BatchRepo implementación de BatchRepository (usable con pool o tx).
type BatchRepo struct {
	q Querier
}

// NewBatchRepository construye el adaptador. Pasar pool o tx (Querier).
func NewBatchRepository(q Querier) *BatchRepo {
	return &BatchRepo{q: q}
}

// Create persiste el lote. Debe ir en la misma transacción que su DispatchTrigger.
func (r *BatchRepo) Create(ctx context.Context, batch *entity.Batch) error {
	query := `
		INSERT INTO batches (id, installation_id, record_count, wire_payload, response_payload,
			csv, estado, wait_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.q.Exec(ctx, query,
		batch.ID, batch.InstallationID, batch.RecordCount,
		nullIfEmpty(batch.WirePayload), nullIfEmpty(batch.ResponsePayload), nullIfEmpty(batch.CSV),
		batch.Estado, batch.WaitSeconds, batch.CreatedAt, batch.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// GetByID obtiene un lote por ID, o (nil, nil) si no existe.
func (r *BatchRepo) GetByID(ctx context.Context, id string) (*entity.Batch, error) {
	query := `
		SELECT id, installation_id, record_count, wire_payload, response_payload,
		       csv, estado, wait_seconds, created_at, updated_at
		FROM batches WHERE id = $1`
	var batch entity.Batch
	var wirePayload, responsePayload, csv *string
	err := r.q.QueryRow(ctx, query, id).Scan(
		&batch.ID, &batch.InstallationID, &batch.RecordCount, &wirePayload, &responsePayload,
		&csv, &batch.Estado, &batch.WaitSeconds, &batch.CreatedAt, &batch.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get batch: %w", err)
	}
	batch.WirePayload = derefStr(wirePayload)
	batch.ResponsePayload = derefStr(responsePayload)
	batch.CSV = derefStr(csv)
	return &batch, nil
}

// MarkSending transiciona CREADO → ENVIANDO. No toca lotes ya resueltos.
func (r *BatchRepo) MarkSending(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE batches
		SET estado = $2, updated_at = $3
		WHERE id = $1 AND estado = $4`
	_, err := r.q.Exec(ctx, query, id, entity.BatchStateSending, now, entity.BatchStateCreated)
	if err != nil {
		return fmt.Errorf("mark batch sending: %w", err)
	}
	return nil
}

// Resolve fija el estado terminal del lote con payload, respuesta, CSV y espera.
func (r *BatchRepo) Resolve(ctx context.Context, id, estado, wirePayload, responsePayload, csv string, waitSeconds int, now time.Time) error {
	query := `
		UPDATE batches
		SET estado        = $2,
		    wire_payload  = COALESCE($3, wire_payload),
		    response_payload = $4,
		    csv           = $5,
		    wait_seconds  = $6,
		    updated_at    = $7
		WHERE id = $1`
	_, err := r.q.Exec(ctx, query, id, estado,
		nullIfEmpty(wirePayload), nullIfEmpty(responsePayload), nullIfEmpty(csv), waitSeconds, now)
	if err != nil {
		return fmt.Errorf("resolve batch: %w", err)
	}
	return nil
}
