package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/verifactu-hub/internal/application/pipeline"
	"github.com/jhoicas/verifactu-hub/internal/domain/repository"
)

// Ensure TxRunner implements pipeline.TxRunner.
var _ pipeline.TxRunner = (*TxRunner)(nil)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL. Es la
// frontera transaccional del patrón outbox: el par Batch + DispatchTrigger se
// escribe por aquí, junto o ninguno.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunPipeline inicia una transacción, ejecuta fn con los repos del pipeline
// atados a la tx y hace Commit o Rollback.
func (r *TxRunner) RunPipeline(ctx context.Context, fn func(
	records repository.InvoiceRecordRepository,
	batches repository.BatchRepository,
	triggers repository.DispatchTriggerRepository,
	installations repository.InstallationRepository,
) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records := NewInvoiceRecordRepository(tx)
	batches := NewBatchRepository(tx)
	triggers := NewDispatchTriggerRepository(tx)
	installations := NewInstallationRepository(tx)

	if err := fn(records, batches, triggers, installations); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
