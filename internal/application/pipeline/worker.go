package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/jhoicas/verifactu-hub/internal/domain/entity"
	"github.com/jhoicas/verifactu-hub/internal/domain/repository"
	"github.com/jhoicas/verifactu-hub/pkg/logger"
)

// WorkerConfig parámetros del worker.
type WorkerConfig struct {
	SendTimeout    time.Duration // timeout duro de la llamada a la AEAT
	InitialBackoff time.Duration // primer intervalo de reintento
	MaxBackoff     time.Duration // techo del backoff exponencial
}

// Worker procesa un DispatchTrigger: carga su lote, lo renderiza, lo envía a
// la AEAT, clasifica el desenlace y aplica el resultado. La aplicación del
// resultado (estados por registro, control de flujo de la instalación, lote y
// disparador) va en UNA transacción: el control de flujo nunca debe observarse
// sin los estados de registro que lo produjeron, ni al revés.
type Worker struct {
	tx            TxRunner
	triggers      repository.DispatchTriggerRepository
	batches       repository.BatchRepository
	records       repository.InvoiceRecordRepository
	installations repository.InstallationRepository
	renderer      Renderer
	submitter     Submitter
	cfg           WorkerConfig
	log           *logger.Logger
	now           func() time.Time
}

// NewWorker construye el worker.
func NewWorker(
	tx TxRunner,
	triggers repository.DispatchTriggerRepository,
	batches repository.BatchRepository,
	records repository.InvoiceRecordRepository,
	installations repository.InstallationRepository,
	renderer Renderer,
	submitter Submitter,
	cfg WorkerConfig,
	log *logger.Logger,
) *Worker {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 60 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 5 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Minute
	}
	return &Worker{
		tx:            tx,
		triggers:      triggers,
		batches:       batches,
		records:       records,
		installations: installations,
		renderer:      renderer,
		submitter:     submitter,
		cfg:           cfg,
		log:           log,
		now:           time.Now,
	}
}

// Process resuelve un disparador de principio a fin. Nunca retorna error: todo
// desenlace termina persistido en el estado del disparador (la entrega es
// al-menos-una-vez; un disparador ya resuelto se ignora).
func (w *Worker) Process(ctx context.Context, triggerID int64) {
	log := w.log.With().Int64("trigger_id", triggerID).Logger()

	trigger, err := w.triggers.GetByID(ctx, triggerID)
	if err != nil || trigger == nil {
		log.Error().Err(err).Msg("worker: disparador no encontrado")
		return
	}
	if trigger.Estado == entity.TriggerStateProcessed || trigger.Estado == entity.TriggerStateError {
		log.Debug().Str("estado", trigger.Estado).Msg("worker: disparador ya resuelto, saltando")
		return
	}

	batch, err := w.batches.GetByID(ctx, trigger.BatchID)
	if err != nil || batch == nil {
		log.Error().Err(err).Str("batch_id", trigger.BatchID).Msg("worker: lote no encontrado")
		return
	}
	recs, err := w.records.ListByBatch(ctx, batch.ID)
	if err != nil {
		log.Error().Err(err).Msg("worker: cargar registros del lote")
		return
	}
	inst, err := w.installations.GetByID(ctx, batch.InstallationID)
	if err != nil || inst == nil {
		log.Error().Err(err).Str("installation_id", batch.InstallationID).Msg("worker: instalación no encontrada")
		return
	}

	payload, err := w.renderer.Render(inst, batch, recs)
	if err != nil {
		// Error de programación o de datos: fatal, nunca se reintenta.
		log.Error().Err(err).Msg("worker: render del lote fallido")
		w.failTerminal(ctx, trigger, batch, "render: "+err.Error())
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	defer cancel()
	result, err := w.submitter.Submit(sendCtx, payload)
	if err != nil {
		// Timeout y 5xx llegan como ErrTransient; un error no clasificado se
		// trata igual: reintentar es seguro porque la AEAT deduplica por
		// registro (desenlace Duplicado).
		if !errors.Is(err, ErrTransient) && sendCtx.Err() == nil {
			log.Warn().Err(err).Msg("worker: error de envío no clasificado, se reintenta")
		}
		w.retryOrFail(ctx, trigger, batch, err.Error())
		return
	}

	w.applyResult(ctx, trigger, batch, inst, recs, payload, result)
}

// retryOrFail incrementa el contador de intentos y programa el reintento con
// backoff exponencial; agotado el techo, marca el disparador ERROR (terminal),
// el lote ERROR_INFRA y devuelve los registros a PENDIENTE para re-loteo (su
// huella ya existe y jamás se recalcula).
func (w *Worker) retryOrFail(ctx context.Context, trigger *entity.DispatchTrigger, batch *entity.Batch, cause string) {
	attempts := trigger.Attempts + 1
	now := w.now()

	if trigger.MaxAttempts > 0 && attempts >= trigger.MaxAttempts {
		w.failTerminal(ctx, trigger, batch, cause)
		return
	}

	backoff := w.cfg.InitialBackoff
	for i := 1; i < attempts; i++ {
		backoff *= 2
		if backoff >= w.cfg.MaxBackoff {
			backoff = w.cfg.MaxBackoff
			break
		}
	}
	if err := w.triggers.ScheduleRetry(ctx, trigger.ID, attempts, now.Add(backoff), cause, now); err != nil {
		w.log.Error().Err(err).Int64("trigger_id", trigger.ID).Msg("worker: programar reintento")
		return
	}
	w.log.Warn().
		Int64("trigger_id", trigger.ID).
		Int("attempt", attempts).
		Dur("backoff", backoff).
		Str("cause", cause).
		Msg("worker: envío fallido, reintento programado")
}

// failTerminal resuelve el disparador en ERROR y libera los registros del
// lote, todo en una transacción.
func (w *Worker) failTerminal(ctx context.Context, trigger *entity.DispatchTrigger, batch *entity.Batch, cause string) {
	now := w.now()
	err := w.tx.RunPipeline(ctx, func(
		records repository.InvoiceRecordRepository,
		batches repository.BatchRepository,
		triggers repository.DispatchTriggerRepository,
		_ repository.InstallationRepository,
	) error {
		if err := triggers.MarkError(ctx, trigger.ID, cause, now); err != nil {
			return err
		}
		if err := batches.Resolve(ctx, batch.ID, entity.BatchStateInfraError, batch.WirePayload, "", "", 0, now); err != nil {
			return err
		}
		return records.ReleaseBatch(ctx, batch.ID, now)
	})
	if err != nil {
		w.log.Error().Err(err).Int64("trigger_id", trigger.ID).Msg("worker: persistir fallo terminal")
		return
	}
	w.log.Error().
		Int64("trigger_id", trigger.ID).
		Str("batch_id", batch.ID).
		Str("cause", cause).
		Msg("worker: disparador en ERROR, requiere intervención manual")
}

// applyResult aplica el veredicto de la AEAT en una única transacción:
// desenlaces por registro (casados por referencia externa), control de flujo
// de la instalación, resolución del lote y del disparador.
func (w *Worker) applyResult(
	ctx context.Context,
	trigger *entity.DispatchTrigger,
	batch *entity.Batch,
	inst *entity.Installation,
	recs []*entity.InvoiceRecord,
	payload []byte,
	result *SubmitResult,
) {
	now := w.now()
	outcomes := make(map[string]RecordOutcome, len(result.Lines))
	for _, line := range result.Lines {
		if _, dup := outcomes[line.Ref]; dup {
			w.log.Error().Str("ref", line.Ref).Msg("worker: referencia repetida en la respuesta AEAT")
		}
		outcomes[line.Ref] = line
	}
	known := make(map[string]bool, len(recs))
	for _, rec := range recs {
		known[rec.ExternalRef()] = true
	}
	// Una línea sin registro es un problema de integridad de datos: se
	// registra a gritos, nunca se ignora en silencio.
	for ref := range outcomes {
		if !known[ref] {
			w.log.Error().
				Str("ref", ref).
				Str("batch_id", batch.ID).
				Msg("worker: línea de respuesta AEAT sin registro correspondiente")
		}
	}

	err := w.tx.RunPipeline(ctx, func(
		records repository.InvoiceRecordRepository,
		batches repository.BatchRepository,
		triggers repository.DispatchTriggerRepository,
		installations repository.InstallationRepository,
	) error {
		for _, rec := range recs {
			line, ok := outcomes[rec.ExternalRef()]
			if !ok {
				w.log.Error().
					Str("record_id", rec.ID).
					Str("batch_id", batch.ID).
					Msg("worker: registro enviado sin línea de respuesta AEAT")
				if err := records.ApplyOutcome(ctx, rec.ID, entity.RecordStateRejected,
					"", "AUSENTE", "sin línea de respuesta de la AEAT", now); err != nil {
					return err
				}
				continue
			}
			estado, aeatEstado := recordEstado(line)
			if err := records.ApplyOutcome(ctx, rec.ID, estado, aeatEstado, line.Codigo, line.Descripcion, now); err != nil {
				return err
			}
		}

		if err := batches.Resolve(ctx, batch.ID, batchEstado(result), string(payload),
			string(result.Raw), result.CSV, result.WaitSeconds, now); err != nil {
			return err
		}

		wait := result.WaitSeconds
		if wait <= 0 {
			wait = entity.DefaultWaitSeconds
		}
		if err := installations.UpdateFlowControl(ctx, inst.ID, now, wait); err != nil {
			return err
		}

		return triggers.MarkProcessed(ctx, trigger.ID, now)
	})
	if err != nil {
		w.log.Error().Err(err).Int64("trigger_id", trigger.ID).Msg("worker: aplicar respuesta AEAT")
		w.retryOrFail(ctx, trigger, batch, "aplicar respuesta: "+err.Error())
		return
	}
	w.log.Info().
		Int64("trigger_id", trigger.ID).
		Str("batch_id", batch.ID).
		Str("estado_envio", result.EstadoEnvio).
		Int("wait_seconds", result.WaitSeconds).
		Msg("worker: lote resuelto")
}

// recordEstado mapea una línea de respuesta al estado del registro. Un
// Duplicado no es un error: copia el desenlace del registro original en los
// metadatos para visibilidad del operador.
func recordEstado(line RecordOutcome) (estado, aeatEstado string) {
	if line.Duplicado {
		return entity.RecordStateDuplicate, line.EstadoOriginal
	}
	switch line.Estado {
	case LineaCorrecta:
		return entity.RecordStateAccepted, line.Estado
	case LineaAceptadaConErrores:
		return entity.RecordStateAcceptedWithErrors, line.Estado
	default:
		return entity.RecordStateRejected, line.Estado
	}
}

// batchEstado deriva el estado terminal del lote del veredicto global.
func batchEstado(result *SubmitResult) string {
	switch result.EstadoEnvio {
	case SubmitCorrecto:
		return entity.BatchStateFullyAccepted
	case SubmitParcialmenteCorrecto:
		return entity.BatchStatePartiallyAccepted
	default:
		return entity.BatchStateFullyRejected
	}
}
