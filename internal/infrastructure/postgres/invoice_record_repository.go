package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/verifactu-hub/internal/domain"
	"github.com/jhoicas/verifactu-hub/internal/domain/entity"
	"github.com/jhoicas/verifactu-hub/internal/domain/repository"
)

var _ repository.InvoiceRecordRepository = (*InvoiceRecordRepo)(nil)

// InvoiceRecordRepo implementación de InvoiceRecordRepository (usable con pool o tx).
type InvoiceRecordRepo struct {
	q Querier
}

// NewInvoiceRecordRepository construye el adaptador. Pasar pool o tx (Querier).
func NewInvoiceRecordRepository(q Querier) *InvoiceRecordRepo {
	return &InvoiceRecordRepo{q: q}
}

const recordColumns = `
	id, installation_id, kind, serie, numero, fecha_expedicion, tipo_factura,
	cuota_total, importe_total, huella, huella_anterior, generado_en, estado,
	batch_id, retry_count, aeat_estado, aeat_codigo, aeat_descripcion,
	created_at, updated_at`

// Create persiste un registro nuevo del ledger.
func (r *InvoiceRecordRepo) Create(ctx context.Context, rec *entity.InvoiceRecord) error {
	query := `
		INSERT INTO invoice_records (id, installation_id, kind, serie, numero, fecha_expedicion,
			tipo_factura, cuota_total, importe_total, huella, huella_anterior, generado_en,
			estado, batch_id, retry_count, aeat_estado, aeat_codigo, aeat_descripcion, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`
	_, err := r.q.Exec(ctx, query,
		rec.ID, rec.InstallationID, rec.Kind, rec.Serie, rec.Numero, rec.FechaExpedicion,
		nullIfEmpty(rec.TipoFactura), rec.CuotaTotal, rec.ImporteTotal, rec.Huella,
		nullIfEmpty(rec.HuellaAnterior), rec.GeneradoEn, rec.Estado, nullIfEmpty(rec.BatchID),
		rec.RetryCount, nullIfEmpty(rec.AEATEstado), nullIfEmpty(rec.AEATCodigo),
		nullIfEmpty(rec.AEATDescripcion), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("registro ya existe para (instalación, serie, número, fecha): %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("insert invoice record: %w", err)
	}
	return nil
}

// GetByID obtiene un registro por ID, o (nil, nil) si no existe.
func (r *InvoiceRecordRepo) GetByID(ctx context.Context, id string) (*entity.InvoiceRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM invoice_records WHERE id = $1`
	rec, err := scanRecord(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get invoice record: %w", err)
	}
	return rec, nil
}

// GetLastByInstallation devuelve el último eslabón de la cadena de una instalación.
func (r *InvoiceRecordRepo) GetLastByInstallation(ctx context.Context, installationID string) (*entity.InvoiceRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM invoice_records
		WHERE installation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	rec, err := scanRecord(r.q.QueryRow(ctx, query, installationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last invoice record: %w", err)
	}
	return rec, nil
}

// SelectPendingForBatch reclama hasta limit registros PENDIENTE en orden de
// creación. SKIP LOCKED: una instalación lenta no bloquea la selección de las
// demás; las filas ya reclamadas se saltan en vez de esperarlas.
func (r *InvoiceRecordRepo) SelectPendingForBatch(ctx context.Context, installationID string, limit int) ([]*entity.InvoiceRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM invoice_records
		WHERE installation_id = $1 AND estado = $2
		ORDER BY created_at, id
		LIMIT $3
		FOR UPDATE SKIP LOCKED`
	rows, err := r.q.Query(ctx, query, installationID, entity.RecordStatePending, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// AssignBatch pasa los registros seleccionados a ENCOLADO con su lote.
func (r *InvoiceRecordRepo) AssignBatch(ctx context.Context, recordIDs []string, batchID string) error {
	query := `
		UPDATE invoice_records
		SET estado = $1, batch_id = $2, updated_at = now()
		WHERE id = ANY($3) AND estado = $4`
	tag, err := r.q.Exec(ctx, query, entity.RecordStateQueued, batchID, recordIDs, entity.RecordStatePending)
	if err != nil {
		return fmt.Errorf("assign batch: %w", err)
	}
	if int(tag.RowsAffected()) != len(recordIDs) {
		return fmt.Errorf("assign batch: %d de %d registros transicionaron: %w",
			tag.RowsAffected(), len(recordIDs), domain.ErrConflict)
	}
	return nil
}

// ListByBatch devuelve los registros de un lote en orden de creación.
func (r *InvoiceRecordRepo) ListByBatch(ctx context.Context, batchID string) ([]*entity.InvoiceRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM invoice_records
		WHERE batch_id = $1
		ORDER BY created_at, id`
	rows, err := r.q.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ApplyOutcome fija el estado final y los metadatos de respuesta AEAT.
func (r *InvoiceRecordRepo) ApplyOutcome(ctx context.Context, id, estado, aeatEstado, aeatCodigo, aeatDescripcion string, now time.Time) error {
	query := `
		UPDATE invoice_records
		SET estado = $2, aeat_estado = $3, aeat_codigo = $4, aeat_descripcion = $5, updated_at = $6
		WHERE id = $1`
	_, err := r.q.Exec(ctx, query, id, estado,
		nullIfEmpty(aeatEstado), nullIfEmpty(aeatCodigo), nullIfEmpty(aeatDescripcion), now)
	if err != nil {
		return fmt.Errorf("apply record outcome: %w", err)
	}
	return nil
}

// ReleaseBatch devuelve a PENDIENTE los registros de un lote fallido por
// infraestructura. La huella no se toca.
func (r *InvoiceRecordRepo) ReleaseBatch(ctx context.Context, batchID string, now time.Time) error {
	query := `
		UPDATE invoice_records
		SET estado = $2, batch_id = NULL, retry_count = retry_count + 1, updated_at = $3
		WHERE batch_id = $1 AND estado = $4`
	_, err := r.q.Exec(ctx, query, batchID, entity.RecordStatePending, now, entity.RecordStateQueued)
	if err != nil {
		return fmt.Errorf("release batch records: %w", err)
	}
	return nil
}

// CountPending cuenta los registros PENDIENTE de una instalación.
func (r *InvoiceRecordRepo) CountPending(ctx context.Context, installationID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM invoice_records WHERE installation_id = $1 AND estado = $2`
	if err := r.q.QueryRow(ctx, query, installationID, entity.RecordStatePending).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending records: %w", err)
	}
	return count, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanRecord(row pgx.Row) (*entity.InvoiceRecord, error) {
	var rec entity.InvoiceRecord
	var tipoFactura, huellaAnterior, batchID, aeatEstado, aeatCodigo, aeatDescripcion *string
	err := row.Scan(
		&rec.ID, &rec.InstallationID, &rec.Kind, &rec.Serie, &rec.Numero, &rec.FechaExpedicion,
		&tipoFactura, &rec.CuotaTotal, &rec.ImporteTotal, &rec.Huella, &huellaAnterior,
		&rec.GeneradoEn, &rec.Estado, &batchID, &rec.RetryCount, &aeatEstado, &aeatCodigo,
		&aeatDescripcion, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.TipoFactura = derefStr(tipoFactura)
	rec.HuellaAnterior = derefStr(huellaAnterior)
	rec.BatchID = derefStr(batchID)
	rec.AEATEstado = derefStr(aeatEstado)
	rec.AEATCodigo = derefStr(aeatCodigo)
	rec.AEATDescripcion = derefStr(aeatDescripcion)
	return &rec, nil
}

func collectRecords(rows pgx.Rows) ([]*entity.InvoiceRecord, error) {
	var list []*entity.InvoiceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice record: %w", err)
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}
