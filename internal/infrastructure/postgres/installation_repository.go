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

var _ repository.InstallationRepository = (*InstallationRepo)(nil)

// InstallationRepo implementación de InstallationRepository (usable con pool o tx).
type InstallationRepo struct {
	q Querier
}

// NewInstallationRepository construye el adaptador. Pasar pool o tx (Querier).
func NewInstallationRepository(q Querier) *InstallationRepo {
	return &InstallationRepo{q: q}
}

const installationColumns = `
	id, name, nif, api_key_hash, last_send_at, last_wait_seconds, active, created_at, updated_at`

// GetByID obtiene una instalación por ID, o (nil, nil) si no existe.
func (r *InstallationRepo) GetByID(ctx context.Context, id string) (*entity.Installation, error) {
	query := `SELECT ` + installationColumns + ` FROM installations WHERE id = $1`
	inst, err := scanInstallation(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get installation: %w", err)
	}
	return inst, nil
}

// GetForChain carga la instalación con FOR UPDATE: serializa los intakes
// concurrentes de la misma cadena de huellas.
func (r *InstallationRepo) GetForChain(ctx context.Context, id string) (*entity.Installation, error) {
	query := `SELECT ` + installationColumns + ` FROM installations WHERE id = $1 FOR UPDATE`
	inst, err := scanInstallation(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get installation for chain: %w", err)
	}
	return inst, nil
}

// ListActiveWithPending devuelve las instalaciones activas con el recuento de
// registros PENDIENTE poblado (una sola consulta para el barrido del scheduler).
func (r *InstallationRepo) ListActiveWithPending(ctx context.Context) ([]*entity.Installation, error) {
	query := `
		SELECT i.id, i.name, i.nif, i.api_key_hash, i.last_send_at, i.last_wait_seconds,
		       i.active, i.created_at, i.updated_at,
		       COUNT(r.id) FILTER (WHERE r.estado = $1) AS pending_count
		FROM installations i
		LEFT JOIN invoice_records r ON r.installation_id = i.id AND r.estado = $1
		WHERE i.active
		GROUP BY i.id
		ORDER BY i.created_at, i.id`
	rows, err := r.q.Query(ctx, query, entity.RecordStatePending)
	if err != nil {
		return nil, fmt.Errorf("list active installations: %w", err)
	}
	defer rows.Close()

	var list []*entity.Installation
	for rows.Next() {
		var inst entity.Installation
		if err := rows.Scan(
			&inst.ID, &inst.Name, &inst.NIF, &inst.APIKeyHash, &inst.LastSendAt,
			&inst.LastWaitSeconds, &inst.Active, &inst.CreatedAt, &inst.UpdatedAt,
			&inst.PendingCount,
		); err != nil {
			return nil, fmt.Errorf("scan installation: %w", err)
		}
		list = append(list, &inst)
	}
	return list, rows.Err()
}

// UpdateFlowControl fija lastSendAt y el intervalo dictado por la AEAT. Solo
// el worker la invoca, dentro de la transacción que resuelve el lote.
func (r *InstallationRepo) UpdateFlowControl(ctx context.Context, id string, lastSendAt time.Time, waitSeconds int) error {
	query := `
		UPDATE installations
		SET last_send_at = $2, last_wait_seconds = $3, updated_at = $2
		WHERE id = $1`
	_, err := r.q.Exec(ctx, query, id, lastSendAt, waitSeconds)
	if err != nil {
		return fmt.Errorf("update flow control: %w", err)
	}
	return nil
}

func scanInstallation(row pgx.Row) (*entity.Installation, error) {
	var inst entity.Installation
	err := row.Scan(
		&inst.ID, &inst.Name, &inst.NIF, &inst.APIKeyHash, &inst.LastSendAt,
		&inst.LastWaitSeconds, &inst.Active, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}
