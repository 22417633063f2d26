package repository

import (
	"context"
	"time"

	"github.com/jhoicas/verifactu-hub/internal/domain/entity"
)

// InvoiceRecordRepository persiste los registros del ledger de facturación.
// Los registros nunca se borran.
type InvoiceRecordRepository interface {
	Create(ctx context.Context, rec *entity.InvoiceRecord) error

	// GetByID devuelve (nil, nil) si no existe.
	GetByID(ctx context.Context, id string) (*entity.InvoiceRecord, error)

	// GetLastByInstallation devuelve el último eslabón de la cadena de una
	// instalación (por orden de creación), o (nil, nil) si aún no hay registros.
	GetLastByInstallation(ctx context.Context, installationID string) (*entity.InvoiceRecord, error)

	// SelectPendingForBatch reclama hasta limit registros PENDIENTE de la
	// instalación, ordenados por creación, saltando filas ya reclamadas por
	// otra transacción (FOR UPDATE SKIP LOCKED). Solo tiene sentido dentro
	// de una transacción.
	SelectPendingForBatch(ctx context.Context, installationID string, limit int) ([]*entity.InvoiceRecord, error)

	// AssignBatch pasa los registros a ENCOLADO y les fija el lote. Solo
	// transiciona filas que sigan en PENDIENTE.
	AssignBatch(ctx context.Context, recordIDs []string, batchID string) error

	ListByBatch(ctx context.Context, batchID string) ([]*entity.InvoiceRecord, error)

	// ApplyOutcome fija el estado final y los metadatos de respuesta AEAT de
	// un registro.
	ApplyOutcome(ctx context.Context, id, estado, aeatEstado, aeatCodigo, aeatDescripcion string, now time.Time) error

	// ReleaseBatch devuelve a PENDIENTE los registros de un lote fallido por
	// infraestructura, desasignando el lote e incrementando el contador de
	// reintentos. La huella no se toca: ya existe y es inmutable.
	ReleaseBatch(ctx context.Context, batchID string, now time.Time) error

	CountPending(ctx context.Context, installationID string) (int, error)
}
