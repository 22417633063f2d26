package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/verifactu-hub/internal/domain"
	"github.com/jhoicas/verifactu-hub/internal/domain/entity"
	"github.com/jhoicas/verifactu-hub/internal/domain/repository"
	"github.com/jhoicas/verifactu-hub/pkg/logger"
)

// BuildOutcome resume el resultado de un intento de construcción de lote.
type BuildOutcome string

const (
	// BuildCreated: se creó un lote con su disparador.
	BuildCreated BuildOutcome = "created"
	// BuildAlreadyInProgress: otro builder tiene el lock de la instalación.
	BuildAlreadyInProgress BuildOutcome = "already-in-progress"
	// BuildNotEligible: la re-evaluación bajo lock descartó la instalación.
	BuildNotEligible BuildOutcome = "not-eligible"
	// BuildNothingToDo: no había registros pendientes que reclamar.
	BuildNothingToDo BuildOutcome = "nothing-to-do"
)

// BatchBuilderConfig parámetros del builder.
type BatchBuilderConfig struct {
	MaxRecordsPerBatch int           // techo de la AEAT por envío (p.ej. 1000)
	MaxAttempts        int           // intentos máximos del disparador
	LockTTL            time.Duration // TTL del lock por instalación
}

// BatchBuilder selecciona registros pendientes de una instalación, forma un
// lote y crea su DispatchTrigger en la misma transacción. La sección crítica
// está protegida por un lock exclusivo por instalación, liberado solo después
// del commit para que ningún segundo builder corra la misma instalación hasta
// que el primero sea durable.
type BatchBuilder struct {
	tx     TxRunner
	locker Locker
	cfg    BatchBuilderConfig
	log    *logger.Logger
	now    func() time.Time
}

// NewBatchBuilder construye el builder.
func NewBatchBuilder(tx TxRunner, locker Locker, cfg BatchBuilderConfig, log *logger.Logger) *BatchBuilder {
	if cfg.MaxRecordsPerBatch <= 0 {
		cfg.MaxRecordsPerBatch = 1000
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &BatchBuilder{tx: tx, locker: locker, cfg: cfg, log: log, now: time.Now}
}

// Build intenta formar un lote para la instalación. Garantía: para todo lote
// committeado existe exactamente un DispatchTrigger; para todo commit fallido
// no existe ninguno de los dos.
func (b *BatchBuilder) Build(ctx context.Context, installationID string) (BuildOutcome, error) {
	lock, err := b.locker.TryAcquire(ctx, lockKey(installationID), b.cfg.LockTTL)
	if errors.Is(err, ErrLockHeld) {
		return BuildAlreadyInProgress, nil
	}
	if err != nil {
		return "", fmt.Errorf("adquirir lock de instalación: %w", err)
	}
	// defer corre después de RunPipeline, es decir, después del commit.
	defer func() {
		if rErr := lock.Release(ctx); rErr != nil {
			b.log.Warn().Err(rErr).Str("installation_id", installationID).
				Msg("no se pudo liberar el lock; expirará por TTL")
		}
	}()

	outcome := BuildNothingToDo
	err = b.tx.RunPipeline(ctx, func(
		records repository.InvoiceRecordRepository,
		batches repository.BatchRepository,
		triggers repository.DispatchTriggerRepository,
		installations repository.InstallationRepository,
	) error {
		inst, err := installations.GetByID(ctx, installationID)
		if err != nil {
			return err
		}
		if inst == nil {
			return fmt.Errorf("instalación %s: %w", installationID, domain.ErrNotFound)
		}

		// Re-evaluación autoritativa bajo lock: las condiciones pudieron
		// cambiar entre la lectura del scheduler y la adquisición del lock.
		now := b.now()
		pending, err := records.CountPending(ctx, installationID)
		if err != nil {
			return err
		}
		if pending == 0 || !inst.ReadyToSend(now) {
			outcome = BuildNotEligible
			return nil
		}

		selected, err := records.SelectPendingForBatch(ctx, installationID, b.cfg.MaxRecordsPerBatch)
		if err != nil {
			return err
		}
		if len(selected) == 0 {
			outcome = BuildNothingToDo
			return nil
		}

		batch := &entity.Batch{
			ID:             uuid.New().String(),
			InstallationID: installationID,
			RecordCount:    len(selected),
			Estado:         entity.BatchStateCreated,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := batches.Create(ctx, batch); err != nil {
			return err
		}

		ids := make([]string, len(selected))
		for i, rec := range selected {
			ids[i] = rec.ID
		}
		if err := records.AssignBatch(ctx, ids, batch.ID); err != nil {
			return err
		}

		// Misma transacción que el lote: el par es atómico.
		if err := triggers.Create(ctx, &entity.DispatchTrigger{
			BatchID:        batch.ID,
			InstallationID: installationID,
			Estado:         entity.TriggerStatePending,
			MaxAttempts:    b.cfg.MaxAttempts,
			CreatedAt:      now,
		}); err != nil {
			return err
		}

		outcome = BuildCreated
		b.log.Info().
			Str("installation_id", installationID).
			Str("batch_id", batch.ID).
			Int("records", len(selected)).
			Msg("lote creado")
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func lockKey(installationID string) string {
	return "batch:" + installationID
}
